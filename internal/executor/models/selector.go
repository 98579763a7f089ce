package models

import (
	"sort"
	"strings"
	"unicode"
)

// ModelProvider is one provider offered by an executor.
type ModelProvider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ProviderID       *string           `json:"provider_id,omitempty"`
	ReasoningOptions []ReasoningOption `json:"reasoning_options"`
}

// Key returns the composite key recency tracking uses for m.
func (m ModelInfo) Key() string {
	provider := ""
	if m.ProviderID != nil {
		provider = *m.ProviderID
	}
	return ModelKey(provider, m.ID)
}

// ReasoningOption is one selectable reasoning effort.
type ReasoningOption struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	IsDefault bool   `json:"is_default"`
}

// AgentInfo is a sub-agent an executor can run as.
type AgentInfo struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Description *string `json:"description,omitempty"`
	IsDefault   bool    `json:"is_default"`
}

// ModelSelectorConfig is everything an executor reports about its selectable options.
type ModelSelectorConfig struct {
	Providers []ModelProvider `json:"providers"`
	Models    []ModelInfo     `json:"models"`
	// DefaultModel is formatted provider_id/model_id.
	DefaultModel *string            `json:"default_model,omitempty"`
	Agents       []AgentInfo        `json:"agents"`
	Permissions  []PermissionPolicy `json:"permissions"`
}

// FindModel returns the model whose key or bare id equals key, case-insensitively.
func (c ModelSelectorConfig) FindModel(key string) (ModelInfo, bool) {
	for _, m := range c.Models {
		if strings.EqualFold(m.Key(), key) || strings.EqualFold(m.ID, key) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelKey joins provider and model ids; a blank provider yields the bare model id.
func ModelKey(providerID, modelID string) string {
	if providerID == "" {
		return modelID
	}
	return providerID + "/" + modelID
}

var reasoningRank = map[string]int{
	"none":   0,
	"low":    1,
	"medium": 2,
	"high":   3,
	"xhigh":  4,
	"max":    5,
}

// ReasoningOptionsFromNames builds options ordered none..max, with unknown
// ids after the known ones sorted by label. "high" is the default.
func ReasoningOptionsFromNames(names ...string) []ReasoningOption {
	options := make([]ReasoningOption, 0, len(names))
	for _, id := range names {
		options = append(options, ReasoningOption{
			ID:        id,
			Label:     reasoningLabel(id),
			IsDefault: strings.EqualFold(id, "high"),
		})
	}
	sort.SliceStable(options, func(i, j int) bool {
		ri, iok := reasoningRank[strings.ToLower(options[i].ID)]
		rj, jok := reasoningRank[strings.ToLower(options[j].ID)]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return options[i].Label < options[j].Label
		}
	})
	return options
}

func reasoningLabel(id string) string {
	if id == "xhigh" {
		return "Extra High"
	}
	return titleCase(id)
}

// titleCase splits on separators and case changes and capitalizes each word.
func titleCase(s string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
