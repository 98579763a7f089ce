// Package models holds the executor configuration value types shared by the
// profile store, the resolver and the scheduler.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AgentID identifies a coding agent backend, e.g. CLAUDE_CODE.
type AgentID string

const (
	AgentClaudeCode  AgentID = "CLAUDE_CODE"
	AgentAmp         AgentID = "AMP"
	AgentGemini      AgentID = "GEMINI"
	AgentCodex       AgentID = "CODEX"
	AgentOpencode    AgentID = "OPENCODE"
	AgentCursorAgent AgentID = "CURSOR_AGENT"
	AgentQwenCode    AgentID = "QWEN_CODE"
	AgentCopilot     AgentID = "COPILOT"
	AgentDroid       AgentID = "DROID"
)

// ErrUnknownAgent is returned when an executor id is not a known agent.
var ErrUnknownAgent = errors.New("unknown executor")

var knownAgents = []AgentID{
	AgentClaudeCode,
	AgentAmp,
	AgentGemini,
	AgentCodex,
	AgentOpencode,
	AgentCursorAgent,
	AgentQwenCode,
	AgentCopilot,
	AgentDroid,
}

// KnownAgents returns every supported executor in display order.
func KnownAgents() []AgentID {
	out := make([]AgentID, len(knownAgents))
	copy(out, knownAgents)
	return out
}

// NormalizeAgentID trims, maps '-' to '_' and upper-cases raw.
func NormalizeAgentID(raw string) AgentID {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "-", "_")
	return AgentID(strings.ToUpper(s))
}

// ParseAgentID normalizes raw and checks it against the known executors.
func ParseAgentID(raw string) (AgentID, error) {
	id := NormalizeAgentID(raw)
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, raw)
	}
	return id, nil
}

// Valid reports whether a is a known executor.
func (a AgentID) Valid() bool {
	for _, k := range knownAgents {
		if a == k {
			return true
		}
	}
	return false
}

func (a AgentID) String() string { return string(a) }

// UnmarshalJSON accepts any spelling ParseAgentID accepts. An empty string
// decodes to the zero value.
func (a *AgentID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*a = ""
		return nil
	}
	id, err := ParseAgentID(raw)
	if err != nil {
		return err
	}
	*a = id
	return nil
}
