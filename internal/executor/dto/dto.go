package dto

import (
	"github.com/kandev/kanrun/internal/executor/discovery"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/resolver"
)

// ModelTouch records one model use. ReasoningID left out keeps the stored
// association, null clears it and a value replaces it.
type ModelTouch struct {
	Executor    models.AgentID         `json:"executor"`
	ModelKey    string                 `json:"model_key"`
	ReasoningID resolver.Field[string] `json:"reasoning_id"`
}

type RecentModelsRequest struct {
	Touches []ModelTouch `json:"touches"`
}

type ResolveRequest struct {
	Selection resolver.Selection     `json:"selection"`
	ScratchID string                 `json:"scratch_id,omitempty"`
	Scratch   *models.ExecutorConfig `json:"scratch,omitempty"`
	LastUsed  *models.ExecutorConfig `json:"last_used,omitempty"`
	Default   *models.ExecutorConfig `json:"default,omitempty"`
}

type ResolveResponse struct {
	Config              models.ExecutorConfig `json:"config"`
	Sources             map[string]string     `json:"sources"`
	VariantUserSelected bool                  `json:"variant_user_selected"`
	Ready               bool                  `json:"ready"`
}

func FromResult(r resolver.Result) ResolveResponse {
	return ResolveResponse{
		Config:              r.Config,
		Sources:             r.Sources,
		VariantUserSelected: r.VariantUserSelected,
		Ready:               r.Ready(),
	}
}

// PickerCommand is one message from a picker stream client. The first of
// Executor, Variant and Overrides that is present is applied.
type PickerCommand struct {
	Executor  *models.AgentID        `json:"executor,omitempty"`
	Variant   resolver.Field[string] `json:"variant"`
	Overrides *resolver.Overrides    `json:"overrides,omitempty"`
}

// PickerEvent is sent to a picker stream client after every change.
type PickerEvent struct {
	Result *ResolveResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type ScratchResponse struct {
	ID     string                `json:"id"`
	Config models.ExecutorConfig `json:"config"`
}

type OptionsResponse struct {
	discovery.Options
	Variants []string `json:"variants"`
}
