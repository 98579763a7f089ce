package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PermissionPolicy controls how an executor gates tool operations.
type PermissionPolicy string

const (
	PermissionAuto       PermissionPolicy = "AUTO"
	PermissionSupervised PermissionPolicy = "SUPERVISED"
	PermissionPlan       PermissionPolicy = "PLAN"
)

// ErrUnknownPermissionPolicy is returned for values outside AUTO, SUPERVISED and PLAN.
var ErrUnknownPermissionPolicy = errors.New("unknown permission policy")

// ParsePermissionPolicy accepts the canonical upper-case names, case-insensitively.
func ParsePermissionPolicy(raw string) (PermissionPolicy, error) {
	p := PermissionPolicy(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case PermissionAuto, PermissionSupervised, PermissionPlan:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermissionPolicy, raw)
}

// UnmarshalJSON rejects unknown policies.
func (p *PermissionPolicy) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePermissionPolicy(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DefaultVariant is the variant name a nil or empty variant normalizes to.
const DefaultVariant = "DEFAULT"

// ExecutorConfig is the settings for one coding-agent invocation. Resolved
// configs and profile presets share the type; presets leave fields nil.
type ExecutorConfig struct {
	Executor AgentID `json:"executor,omitempty"`
	Variant  *string `json:"variant,omitempty"`
	// ModelID is the composite provider/model key (ModelInfo.Key), the same
	// key recent-model tracking ranks by.
	ModelID          *string           `json:"model_id,omitempty"`
	AgentID          *string           `json:"agent_id,omitempty"`
	ReasoningID      *string           `json:"reasoning_id,omitempty"`
	PermissionPolicy *PermissionPolicy `json:"permission_policy,omitempty"`
}

// NewExecutorConfig returns a config naming only the executor.
func NewExecutorConfig(executor AgentID) ExecutorConfig {
	return ExecutorConfig{Executor: executor}
}

// ProfileKey returns the (executor, variant) identity of c.
func (c ExecutorConfig) ProfileKey() ProfileKey {
	return NewProfileKey(c.Executor, c.Variant)
}

// ProfileID returns the executor profile id of c.
func (c ExecutorConfig) ProfileID() ExecutorProfileID {
	return ExecutorProfileID{Executor: c.Executor, Variant: cloneString(c.Variant)}
}

// Clone returns a deep copy.
func (c ExecutorConfig) Clone() ExecutorConfig {
	out := ExecutorConfig{
		Executor:    c.Executor,
		Variant:     cloneString(c.Variant),
		ModelID:     cloneString(c.ModelID),
		AgentID:     cloneString(c.AgentID),
		ReasoningID: cloneString(c.ReasoningID),
	}
	if c.PermissionPolicy != nil {
		p := *c.PermissionPolicy
		out.PermissionPolicy = &p
	}
	return out
}

// IsEmpty reports whether no field is set.
func (c ExecutorConfig) IsEmpty() bool {
	return c.Executor == "" && c.Variant == nil && c.ModelID == nil &&
		c.AgentID == nil && c.ReasoningID == nil && c.PermissionPolicy == nil
}

// MergeConfig returns base with every non-nil field of overlay applied.
func MergeConfig(base, overlay ExecutorConfig) ExecutorConfig {
	out := base.Clone()
	o := overlay.Clone()
	if o.Executor != "" {
		out.Executor = o.Executor
	}
	if o.Variant != nil {
		out.Variant = o.Variant
	}
	if o.ModelID != nil {
		out.ModelID = o.ModelID
	}
	if o.AgentID != nil {
		out.AgentID = o.AgentID
	}
	if o.ReasoningID != nil {
		out.ReasoningID = o.ReasoningID
	}
	if o.PermissionPolicy != nil {
		out.PermissionPolicy = o.PermissionPolicy
	}
	return out
}

// ProfileKey identifies one variant of one executor. Variant is never empty.
type ProfileKey struct {
	Executor AgentID
	Variant  string
}

// NewProfileKey normalizes a nil or blank variant to DEFAULT.
func NewProfileKey(executor AgentID, variant *string) ProfileKey {
	v := DefaultVariant
	if variant != nil && strings.TrimSpace(*variant) != "" {
		v = *variant
	}
	return ProfileKey{Executor: executor, Variant: v}
}

func (k ProfileKey) String() string {
	return string(k.Executor) + ":" + k.Variant
}

// ExecutorProfileID names the profile a scheduled execution runs with.
type ExecutorProfileID struct {
	Executor AgentID `json:"executor"`
	Variant  *string `json:"variant"`
}

// Key returns the normalized profile key.
func (id ExecutorProfileID) Key() ProfileKey {
	return NewProfileKey(id.Executor, id.Variant)
}

// Validate checks the executor is known.
func (id ExecutorProfileID) Validate() error {
	if !id.Executor.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id.Executor)
	}
	return nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// PolicyPtr returns a pointer to p.
func PolicyPtr(p PermissionPolicy) *PermissionPolicy { return &p }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
