package resolver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/executor/discovery"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
	"github.com/kandev/kanrun/internal/executor/recency"
)

type fakeCatalog struct {
	executors []models.AgentID
	variants  map[models.AgentID][]string
	presets   map[models.ProfileKey]models.ExecutorConfig
}

func (c fakeCatalog) Executors() []models.AgentID { return c.executors }

func (c fakeCatalog) Variants(e models.AgentID) []string { return c.variants[e] }

func (c fakeCatalog) PresetOptions(k models.ProfileKey) (models.ExecutorConfig, bool) {
	p, ok := c.presets[k]
	return p, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		executors: []models.AgentID{models.AgentClaudeCode, models.AgentCodex, models.AgentAmp},
		variants: map[models.AgentID][]string{
			models.AgentClaudeCode: {"DEFAULT", "PLAN"},
			models.AgentCodex:      {"FAST", "DEFAULT"},
			models.AgentAmp:        {"SMART", "RUSH"},
		},
		presets: map[models.ProfileKey]models.ExecutorConfig{
			{Executor: models.AgentClaudeCode, Variant: "PLAN"}: {
				PermissionPolicy: models.PolicyPtr(models.PermissionPlan),
				ModelID:          models.StringPtr("opus"),
			},
			{Executor: models.AgentCodex, Variant: "FAST"}: {ReasoningID: models.StringPtr("low")},
		},
	}
}

func str(s string) *string { return models.StringPtr(s) }

func resolveSel(sel Selection, mod func(*Inputs)) Result {
	in := Inputs{Selection: sel, Catalog: testCatalog()}
	if mod != nil {
		mod(&in)
	}
	return Resolve(context.Background(), in)
}

func TestExecutorFallbackOrder(t *testing.T) {
	res := resolveSel(Selection{}, nil)
	assert.Equal(t, models.AgentClaudeCode, res.Config.Executor)
	assert.Equal(t, SourceFirstOption, res.Sources[FieldExecutor])

	res = resolveSel(Selection{}, func(in *Inputs) {
		in.Default = &models.ExecutorConfig{Executor: models.AgentAmp}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex}
	})
	assert.Equal(t, models.AgentCodex, res.Config.Executor)
	assert.Equal(t, SourceLastUsed, res.Sources[FieldExecutor])

	res = resolveSel(Selection{}, func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentAmp}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex}
	})
	assert.Equal(t, models.AgentAmp, res.Config.Executor)

	res = resolveSel(Selection{}.WithExecutor(models.AgentCodex), func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentAmp}
	})
	assert.Equal(t, models.AgentCodex, res.Config.Executor)
	assert.Equal(t, SourceSelection, res.Sources[FieldExecutor])
}

func TestNoExecutorDegradesToEmpty(t *testing.T) {
	res := Resolve(context.Background(), Inputs{Catalog: fakeCatalog{}})
	assert.False(t, res.Ready())
	assert.Nil(t, res.Config.Variant)
	assert.Equal(t, SourceNone, res.Sources[FieldExecutor])

	res = Resolve(context.Background(), Inputs{})
	assert.False(t, res.Ready())
}

func TestVariantFallbackOrder(t *testing.T) {
	tests := []struct {
		name     string
		executor models.AgentID
		want     *string
	}{
		{name: "DEFAULT present but not first", executor: models.AgentCodex, want: str("DEFAULT")},
		{name: "no DEFAULT uses first option", executor: models.AgentAmp, want: str("SMART")},
		{name: "no options yields null", executor: models.AgentGemini, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolveSel(Selection{}.WithExecutor(tt.executor), nil)
			assert.Equal(t, tt.want, res.Config.Variant)
		})
	}
}

func TestVariantLayersRequireMatchingExecutor(t *testing.T) {
	res := resolveSel(Selection{}.WithExecutor(models.AgentCodex), func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentAmp, Variant: str("RUSH")}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST")}
		in.Default = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("DEFAULT")}
	})
	assert.Equal(t, "FAST", *res.Config.Variant)
	assert.Equal(t, SourceLastUsed, res.Sources[FieldVariant])
}

func TestUserSelectedNullVariantWins(t *testing.T) {
	sel := Selection{}.WithExecutor(models.AgentCodex).WithVariant(nil)
	res := resolveSel(sel, func(in *Inputs) {
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST")}
	})
	assert.Nil(t, res.Config.Variant)
	assert.Equal(t, SourceSelection, res.Sources[FieldVariant])
	assert.True(t, res.VariantUserSelected)
}

func TestExecutorSwitchResetsOverrides(t *testing.T) {
	sel := Selection{}.
		WithExecutor(models.AgentCodex).
		WithVariant(str("FAST")).
		WithOverrides(Overrides{
			ModelID:          Value("gpt-5"),
			ReasoningID:      Value("high"),
			AgentID:          Value("reviewer"),
			PermissionPolicy: Value(models.PermissionSupervised),
		})
	before := resolveSel(sel, nil)
	require.NotNil(t, before.Config.ModelID)

	for _, target := range []models.AgentID{models.AgentClaudeCode, models.AgentAmp, models.AgentCodex} {
		switched := sel.WithExecutor(target)
		res := resolveSel(switched, nil)
		assert.Equal(t, target, res.Config.Executor)
		assert.Nil(t, res.Config.ModelID, target)
		assert.Nil(t, res.Config.AgentID, target)
		assert.Nil(t, res.Config.ReasoningID, target)
		assert.Nil(t, res.Config.PermissionPolicy, target)
		assert.False(t, res.VariantUserSelected)
	}

	res := resolveSel(sel.WithExecutor(models.AgentAmp), nil)
	assert.Equal(t, "SMART", *res.Config.Variant, "first variant of the new executor")
}

func TestReasoningClearsOnModelOverride(t *testing.T) {
	sel := Selection{}.WithExecutor(models.AgentCodex).
		WithOverrides(Overrides{ModelID: Value("gpt-5"), ReasoningID: Value("high")})
	require.Equal(t, "high", *resolveSel(sel, nil).Config.ReasoningID)

	next := sel.WithOverrides(Overrides{ModelID: Value("m2")})
	assert.True(t, next.ReasoningID.IsNull())

	layered := func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("m2"), ReasoningID: str("max")}
	}
	res := resolveSel(next, layered)
	assert.Equal(t, "m2", *res.Config.ModelID)
	assert.Nil(t, res.Config.ReasoningID)
	assert.Equal(t, SourceSelection, res.Sources[FieldReasoningID])

	both := sel.WithOverrides(Overrides{ModelID: Value("m3"), ReasoningID: Value("low")})
	assert.Equal(t, "low", *resolveSel(both, nil).Config.ReasoningID)
}

func TestOverrideLayerMatching(t *testing.T) {
	base := Selection{}.WithExecutor(models.AgentCodex)

	res := resolveSel(base, func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("scratch-model")}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("last-model"), AgentID: str("a1")}
	})
	assert.Equal(t, "scratch-model", *res.Config.ModelID)
	assert.Nil(t, res.Config.AgentID, "matching scratch is authoritative even for nil fields")
	assert.Equal(t, SourceScratch, res.Sources[FieldAgentID])

	res = resolveSel(base, func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST"), ModelID: str("scratch-model")}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST"), ModelID: str("last-model")}
	})
	assert.Equal(t, "FAST", *res.Config.Variant)
	assert.Equal(t, "scratch-model", *res.Config.ModelID)

	res = resolveSel(base.WithVariant(str("DEFAULT")), func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST"), ModelID: str("scratch-model")}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("last-model")}
	})
	assert.Equal(t, "last-model", *res.Config.ModelID, "nil variant in a layer matches DEFAULT")
	assert.Equal(t, SourceLastUsed, res.Sources[FieldModelID])
}

func TestReasoningLayerRequiresModelMatch(t *testing.T) {
	sel := Selection{}.WithExecutor(models.AgentCodex).WithOverrides(Overrides{ModelID: Value("gpt-5"), ReasoningID: Unset[string]()})
	// WithOverrides nulls reasoning; start from a selection carrying only the model.
	sel.ReasoningID = Unset[string]()

	res := resolveSel(sel, func(in *Inputs) {
		in.Scratch = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("o3"), ReasoningID: str("max")}
		in.LastUsed = &models.ExecutorConfig{Executor: models.AgentCodex, ModelID: str("gpt-5"), ReasoningID: str("medium")}
	})
	assert.Equal(t, "gpt-5", *res.Config.ModelID)
	assert.Equal(t, "medium", *res.Config.ReasoningID)
	assert.Equal(t, SourceLastUsed, res.Sources[FieldReasoningID])
}

func TestPresetOnlyWhenVariantUserSelected(t *testing.T) {
	withoutPick := resolveSel(Selection{}.WithExecutor(models.AgentCodex), func(in *Inputs) {
		in.Default = &models.ExecutorConfig{Executor: models.AgentCodex, Variant: str("FAST")}
	})
	assert.Equal(t, "FAST", *withoutPick.Config.Variant)
	assert.Nil(t, withoutPick.Config.ReasoningID)

	picked := resolveSel(Selection{}.WithExecutor(models.AgentCodex).WithVariant(str("FAST")), nil)
	assert.Equal(t, "low", *picked.Config.ReasoningID)
	assert.Equal(t, SourcePreset, picked.Sources[FieldReasoningID])

	plan := resolveSel(Selection{}.WithExecutor(models.AgentClaudeCode).WithVariant(str("PLAN")), nil)
	assert.Equal(t, models.PermissionPlan, *plan.Config.PermissionPolicy)
	assert.Equal(t, "opus", *plan.Config.ModelID)
}

func TestChainsAreIndependentlyResolvable(t *testing.T) {
	st := &State{Inputs: Inputs{Catalog: testCatalog()}, Executor: models.AgentAmp}
	v, src := VariantChain().Resolve(st)
	got, ok := v.Get()
	require.True(t, ok)
	assert.Equal(t, "SMART", got)
	assert.Equal(t, SourceFirstOption, src)

	m, src := ModelChain().Resolve(st)
	assert.False(t, m.IsSet())
	assert.Equal(t, SourceNone, src)
}

func TestFieldStates(t *testing.T) {
	assert.False(t, Unset[string]().IsSet())
	assert.True(t, Null[string]().IsSet())
	assert.True(t, Null[string]().IsNull())
	assert.Nil(t, Null[string]().Ptr())
	assert.Equal(t, "x", *Value("x").Ptr())
	assert.True(t, FromPtr[string](nil).IsNull())
	assert.Equal(t, "unset", Unset[int]().String())
}

func TestSelectionJSONKeepsTriState(t *testing.T) {
	var sel Selection
	require.NoError(t, json.Unmarshal([]byte(`{"executor":"codex","variant":null,"model_id":"gpt-5"}`), &sel))
	assert.Equal(t, models.AgentCodex, *sel.Executor.Ptr())
	assert.True(t, sel.Variant.IsNull())
	assert.Equal(t, "gpt-5", *sel.ModelID.Ptr())
	assert.False(t, sel.ReasoningID.IsSet())

	out, err := json.Marshal(sel)
	require.NoError(t, err)
	assert.JSONEq(t, `{"executor":"CODEX","variant":null,"model_id":"gpt-5"}`, string(out))

	var o Overrides
	require.NoError(t, json.Unmarshal([]byte(`{"reasoning_id":null}`), &o))
	assert.True(t, o.ReasoningID.IsNull())
	assert.False(t, o.ModelID.IsSet())
}

func TestDocumentIsACatalog(t *testing.T) {
	doc, err := profiles.LoadDefaults()
	require.NoError(t, err)
	var c Catalog = doc
	res := Resolve(context.Background(), Inputs{
		Selection: Selection{}.WithExecutor(models.AgentCodex).WithVariant(str("HIGH")),
		Catalog:   c,
	})
	assert.Equal(t, "high", *res.Config.ReasoningID)
}

type recordingSink struct {
	puts map[string]models.ExecutorConfig
}

func (r *recordingSink) Put(id string, cfg models.ExecutorConfig) { r.puts[id] = cfg }

func TestPickerFlowBuffersRecencyUntilClose(t *testing.T) {
	doc, err := profiles.LoadDefaults()
	require.NoError(t, err)
	src := profiles.NewMemorySource(doc)
	session, err := profiles.NewSession(context.Background(), src, logger.NewNop())
	require.NoError(t, err)
	tracker := recency.NewTracker(session, logger.NewNop())
	sink := &recordingSink{puts: map[string]models.ExecutorConfig{}}

	p := NewPicker(Inputs{Catalog: session.Document()}, tracker, WithScratch(sink, "draft-1"))
	assert.Equal(t, models.AgentClaudeCode, p.Result().Config.Executor)

	ctx := context.Background()
	p.SetExecutor(ctx, models.AgentCodex)
	p.SetOverrides(ctx, Overrides{ModelID: Value("openai/o3")})
	p.SetOverrides(ctx, Overrides{ModelID: Value("openai/gpt-5")})
	res := p.SetOverrides(ctx, Overrides{ReasoningID: Value("high")})
	assert.Equal(t, "openai/gpt-5", *res.Config.ModelID)
	assert.Equal(t, "high", *res.Config.ReasoningID)
	assert.Equal(t, 0, src.Saves(), "nothing persisted before close")
	assert.Equal(t, "openai/gpt-5", *sink.puts["draft-1"].ModelID)

	p.Close(ctx)
	tracker.Wait()
	assert.Equal(t, 1, src.Saves())
	prof, _ := session.Document().Profile(models.AgentCodex)
	recent := prof.RecentModels()
	assert.Equal(t, []string{"openai/o3", "openai/gpt-5"}, recent.Models, "most recent last")
	r, _ := recent.Reasoning("openai/gpt-5")
	assert.Equal(t, "high", r)

	// The stored keys match the discovered catalog's ModelInfo.Key.
	builtin, err := discovery.NewBuiltinDiscoverer()
	require.NoError(t, err)
	found, err := builtin.Discover(ctx, models.AgentCodex)
	require.NoError(t, err)
	opts := <-found
	sorted := recency.SortModels(opts.ModelSelector.Models, recent, recency.AlignTop)
	require.Len(t, sorted, 3)
	assert.Equal(t, []string{"openai/gpt-5", "openai/o3", "openai/gpt-5-codex"},
		[]string{sorted[0].Key(), sorted[1].Key(), sorted[2].Key()})
}
