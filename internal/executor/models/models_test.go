package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentID(t *testing.T) {
	tests := []struct {
		raw     string
		want    AgentID
		wantErr bool
	}{
		{raw: "CLAUDE_CODE", want: AgentClaudeCode},
		{raw: " claude-code ", want: AgentClaudeCode},
		{raw: "cursor-agent", want: AgentCursorAgent},
		{raw: "codex", want: AgentCodex},
		{raw: "vim", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAgentID(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownAgent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAgentIDUnmarshal(t *testing.T) {
	var a AgentID
	require.NoError(t, json.Unmarshal([]byte(`"qwen-code"`), &a))
	assert.Equal(t, AgentQwenCode, a)
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &a))
}

func TestPermissionPolicyJSON(t *testing.T) {
	var p PermissionPolicy
	require.NoError(t, json.Unmarshal([]byte(`"SUPERVISED"`), &p))
	assert.Equal(t, PermissionSupervised, p)
	assert.ErrorIs(t, json.Unmarshal([]byte(`"YOLO"`), &p), ErrUnknownPermissionPolicy)

	out, err := json.Marshal(PermissionPlan)
	require.NoError(t, err)
	assert.JSONEq(t, `"PLAN"`, string(out))
}

func TestProfileKeyNormalizesVariant(t *testing.T) {
	assert.Equal(t, "AMP:DEFAULT", NewProfileKey(AgentAmp, nil).String())
	assert.Equal(t, "AMP:DEFAULT", NewProfileKey(AgentAmp, StringPtr("  ")).String())
	assert.Equal(t, "AMP:FAST", NewProfileKey(AgentAmp, StringPtr("FAST")).String())
	assert.Equal(t,
		ExecutorProfileID{Executor: AgentAmp}.Key(),
		ExecutorProfileID{Executor: AgentAmp, Variant: StringPtr(DefaultVariant)}.Key())
}

func TestMergeConfig(t *testing.T) {
	base := ExecutorConfig{Executor: AgentCodex, ModelID: StringPtr("gpt-5"), ReasoningID: StringPtr("low")}
	overlay := ExecutorConfig{ReasoningID: StringPtr("high"), PermissionPolicy: PolicyPtr(PermissionAuto)}

	merged := MergeConfig(base, overlay)
	assert.Equal(t, AgentCodex, merged.Executor)
	assert.Equal(t, "gpt-5", *merged.ModelID)
	assert.Equal(t, "high", *merged.ReasoningID)
	assert.Equal(t, PermissionAuto, *merged.PermissionPolicy)

	*merged.ModelID = "changed"
	assert.Equal(t, "gpt-5", *base.ModelID, "merge must not alias base")
}

func TestExecutorConfigJSONOmitsUnset(t *testing.T) {
	out, err := json.Marshal(ExecutorConfig{Executor: AgentGemini, Variant: StringPtr("PLAN")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"executor":"GEMINI","variant":"PLAN"}`, string(out))
}

func TestExecutorProfileIDValidate(t *testing.T) {
	assert.NoError(t, ExecutorProfileID{Executor: AgentDroid}.Validate())
	assert.ErrorIs(t, ExecutorProfileID{Executor: "EMACS"}.Validate(), ErrUnknownAgent)
}

func TestReasoningOptionsFromNames(t *testing.T) {
	opts := ReasoningOptionsFromNames("max", "turbo", "low", "xhigh", "high", "none", "medium", "adaptive")
	ids := make([]string, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"none", "low", "medium", "high", "xhigh", "max", "adaptive", "turbo"}, ids)

	for _, o := range opts {
		assert.Equal(t, o.ID == "high", o.IsDefault, o.ID)
	}
	assert.Equal(t, "Extra High", opts[4].Label)
	assert.Equal(t, "Medium", opts[2].Label)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Extra Low", titleCase("extra_low"))
	assert.Equal(t, "Deep Think", titleCase("deepThink"))
	assert.Equal(t, "", titleCase(""))
}

func TestModelKeyAndFindModel(t *testing.T) {
	assert.Equal(t, "anthropic/sonnet", ModelKey("anthropic", "sonnet"))
	assert.Equal(t, "sonnet", ModelKey("", "sonnet"))

	cfg := ModelSelectorConfig{Models: []ModelInfo{
		{ID: "sonnet", ProviderID: StringPtr("anthropic")},
		{ID: "o3"},
	}}
	m, ok := cfg.FindModel("Anthropic/Sonnet")
	require.True(t, ok)
	assert.Equal(t, "sonnet", m.ID)
	_, ok = cfg.FindModel("o3")
	assert.True(t, ok)
	_, ok = cfg.FindModel("missing")
	assert.False(t, ok)
}
