// Package resolver computes the effective executor configuration from the
// layered inputs: the user's selection, the scratch draft, the last used
// config, the configured default and the catalog's presets.
//
// Each field is resolved by an ordered Chain of providers; the first
// provider returning a set Field wins. Resolution never fails: anything
// unresolvable is left nil and the caller decides whether the result is usable.
package resolver

import (
	"context"

	"github.com/kandev/kanrun/internal/common/tracing"
	"github.com/kandev/kanrun/internal/executor/models"
)

// Catalog lists the executors and variants on offer and their preset options.
type Catalog interface {
	Executors() []models.AgentID
	Variants(executor models.AgentID) []string
	PresetOptions(key models.ProfileKey) (models.ExecutorConfig, bool)
}

// Inputs are the layers, highest priority first.
type Inputs struct {
	Selection Selection
	Scratch   *models.ExecutorConfig
	LastUsed  *models.ExecutorConfig
	Default   *models.ExecutorConfig
	Catalog   Catalog
}

// Result is the resolved config and the provider that supplied each field.
type Result struct {
	Config              models.ExecutorConfig `json:"config"`
	Sources             map[string]string     `json:"sources"`
	VariantUserSelected bool                  `json:"variant_user_selected"`
}

// Ready reports whether the config names an executor.
func (r Result) Ready() bool { return r.Config.Executor != "" }

// Field names used as Result.Sources keys.
const (
	FieldExecutor         = "executor"
	FieldVariant          = "variant"
	FieldModelID          = "model_id"
	FieldAgentID          = "agent_id"
	FieldReasoningID      = "reasoning_id"
	FieldPermissionPolicy = "permission_policy"
)

var (
	executorChain   = ExecutorChain()
	variantChain    = VariantChain()
	modelChain      = ModelChain()
	agentChain      = AgentChain()
	reasoningChain  = ReasoningChain()
	permissionChain = PermissionChain()
)

// Resolve computes the effective config for in.
func Resolve(ctx context.Context, in Inputs) Result {
	_, span := tracing.StartResolve(ctx)
	defer span.End()

	res := resolve(in)
	span.SetAttributes(
		tracing.AttrExecutor.String(string(res.Config.Executor)),
		tracing.AttrVariant.String(res.Config.ProfileKey().Variant),
	)
	return res
}

func resolve(in Inputs) Result {
	st := &State{Inputs: in}
	res := Result{
		Sources:             make(map[string]string, 6),
		VariantUserSelected: in.Selection.VariantSelected(),
	}

	executor, src := executorChain.Resolve(st)
	res.Sources[FieldExecutor] = src
	if v, ok := executor.Get(); ok {
		st.Executor = v
		res.Config.Executor = v
	}

	variant, src := variantChain.Resolve(st)
	res.Sources[FieldVariant] = src
	st.Variant = variant
	res.Config.Variant = variant.Ptr()

	model, src := modelChain.Resolve(st)
	res.Sources[FieldModelID] = src
	st.ModelID = model.Ptr()
	res.Config.ModelID = model.Ptr()

	agent, src := agentChain.Resolve(st)
	res.Sources[FieldAgentID] = src
	res.Config.AgentID = agent.Ptr()

	reasoning, src := reasoningChain.Resolve(st)
	res.Sources[FieldReasoningID] = src
	res.Config.ReasoningID = reasoning.Ptr()

	permission, src := permissionChain.Resolve(st)
	res.Sources[FieldPermissionPolicy] = src
	res.Config.PermissionPolicy = permission.Ptr()

	return res
}
