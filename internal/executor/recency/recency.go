// Package recency tracks recently used models per executor and orders
// model pickers by recency.
package recency

import (
	"strings"

	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
)

// Limit is the maximum number of remembered models per executor.
const Limit = 20

// TouchModel moves key to the most-recent end of entries, dropping any
// case-insensitive duplicate and the oldest entries beyond Limit. entries is
// not modified.
func TouchModel(entries []string, key string) []string {
	out := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		if !strings.EqualFold(e, key) {
			out = append(out, e)
		}
	}
	out = append(out, key)
	if len(out) > Limit {
		out = out[len(out)-Limit:]
	}
	return out
}

// TouchModelInDocument records key as the executor's most recent model.
func TouchModelInDocument(doc profiles.Document, executor models.AgentID, key string) profiles.Document {
	p, _ := doc.Profile(executor)
	recent := p.RecentModels()
	recent.Models = TouchModel(recent.Models, key)
	return doc.WithProfile(executor, p.WithRecentModels(recent))
}

// SetReasoning stores reasoning as the executor's choice for key, or removes
// the association when reasoning is nil.
func SetReasoning(doc profiles.Document, executor models.AgentID, key string, reasoning *string) profiles.Document {
	p, _ := doc.Profile(executor)
	recent := p.RecentModels()
	for k := range recent.ReasoningByModel {
		if strings.EqualFold(k, key) && k != key {
			delete(recent.ReasoningByModel, k)
		}
	}
	if reasoning == nil {
		delete(recent.ReasoningByModel, key)
	} else {
		recent.ReasoningByModel[key] = *reasoning
	}
	return doc.WithProfile(executor, p.WithRecentModels(recent))
}
