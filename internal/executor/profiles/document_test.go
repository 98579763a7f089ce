package profiles

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/executor/models"
)

const sampleDoc = `{
  "CODEX": {
    "ZETA": {"model_id": "gpt-5"},
    "DEFAULT": {},
    "recently_used_models": {"models": ["openai/o3", "gpt-5"], "reasoning_by_model": {"gpt-5": "high"}},
    "ALPHA": {"permission_policy": "PLAN"}
  },
  "AMP": {"DEFAULT": {}}
}`

func TestDocumentPreservesOrder(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &doc))

	assert.Equal(t, []models.AgentID{models.AgentCodex, models.AgentAmp}, doc.Executors())
	assert.Equal(t, []string{"ZETA", "DEFAULT", "ALPHA"}, doc.Variants(models.AgentCodex))

	p, ok := doc.Profile(models.AgentCodex)
	require.True(t, ok)
	assert.Equal(t, []string{"openai/o3", "gpt-5"}, p.RecentModels().Models)
	reasoning, ok := p.RecentModels().Reasoning("GPT-5")
	assert.True(t, ok)
	assert.Equal(t, "high", reasoning)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	var again Document
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, doc.Variants(models.AgentCodex), again.Variants(models.AgentCodex))
	assert.Equal(t, doc.Executors(), again.Executors())
}

func TestRecentModelsKeyIsNotAVariant(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &doc))
	assert.NotContains(t, doc.Variants(models.AgentCodex), RecentModelsKey)
	_, ok := doc.Preset(models.ProfileKey{Executor: models.AgentCodex, Variant: RecentModelsKey})
	assert.False(t, ok)
}

func TestPresetFillsIdentity(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &doc))
	preset, ok := doc.Preset(models.ProfileKey{Executor: models.AgentCodex, Variant: "ALPHA"})
	require.True(t, ok)
	assert.Equal(t, models.AgentCodex, preset.Executor)
	assert.Equal(t, "ALPHA", *preset.Variant)
	assert.Equal(t, models.PermissionPlan, *preset.PermissionPolicy)
}

func TestWithProfileIsCopyOnWrite(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &doc))
	p, _ := doc.Profile(models.AgentAmp)
	next := doc.WithProfile(models.AgentAmp, p.WithPreset("FAST", models.ExecutorConfig{}))

	assert.Equal(t, []string{"DEFAULT"}, doc.Variants(models.AgentAmp))
	assert.Equal(t, []string{"DEFAULT", "FAST"}, next.Variants(models.AgentAmp))

	added := next.WithProfile(models.AgentDroid, ExecutorProfile{}.WithPreset("DEFAULT", models.ExecutorConfig{}))
	assert.Equal(t, models.AgentDroid, added.Executors()[2])
}

func TestMerge(t *testing.T) {
	defaults, err := LoadDefaults()
	require.NoError(t, err)

	var user Document
	require.NoError(t, json.Unmarshal([]byte(`{
	  "CODEX": {"HIGH": {"reasoning_id": "xhigh"}, "MINE": {}, "recently_used_models": {"models": ["gpt-5"], "reasoning_by_model": {}}}
	}`), &user))

	merged := Merge(defaults, user)
	assert.Equal(t, defaults.Executors(), merged.Executors())
	assert.Equal(t, []string{"DEFAULT", "HIGH", "APPROVALS", "MINE"}, merged.Variants(models.AgentCodex))

	high, ok := merged.Preset(models.ProfileKey{Executor: models.AgentCodex, Variant: "HIGH"})
	require.True(t, ok)
	assert.Equal(t, "xhigh", *high.ReasoningID)

	p, _ := merged.Profile(models.AgentCodex)
	assert.Equal(t, []string{"gpt-5"}, p.RecentModels().Models)
}

func TestLoadDefaultsCoversKnownAgents(t *testing.T) {
	doc, err := LoadDefaults()
	require.NoError(t, err)
	for _, id := range models.KnownAgents() {
		assert.Contains(t, doc.Variants(id), models.DefaultVariant, id)
	}
}

func TestParsePresetsRejectsBadInput(t *testing.T) {
	_, err := ParsePresets([]byte("executors:\n  - id: NOPE\n"))
	assert.Error(t, err)
	_, err = ParsePresets([]byte("executors:\n  - id: AMP\n    variants:\n      - name: recently_used_models\n"))
	assert.Error(t, err)
	_, err = ParsePresets([]byte("executors:\n  - id: AMP\n    variants:\n      - name: X\n        permission_policy: YOLO\n"))
	assert.Error(t, err)
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	var doc Document
	assert.Error(t, json.Unmarshal([]byte(`[]`), &doc))
	require.NoError(t, json.Unmarshal([]byte(`null`), &doc))
	assert.Empty(t, doc.Executors())
}
