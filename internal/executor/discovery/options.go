// Package discovery supplies the options each executor reports (providers,
// models, agents, permissions), caches them and streams updates.
package discovery

import (
	"context"

	"github.com/kandev/kanrun/internal/executor/models"
)

// Options is what one executor reported about its selectable settings.
type Options struct {
	Executor      models.AgentID             `json:"executor"`
	ModelSelector models.ModelSelectorConfig `json:"model_selector"`
	Loading       bool                       `json:"loading"`
	Error         *string                    `json:"error,omitempty"`
}

// DefaultPreset derives preset fields from the discovered defaults: the
// default model, its default reasoning and the default agent.
func (o Options) DefaultPreset() models.ExecutorConfig {
	var cfg models.ExecutorConfig
	sel := o.ModelSelector
	if sel.DefaultModel != nil && *sel.DefaultModel != "" {
		cfg.ModelID = models.StringPtr(*sel.DefaultModel)
		if m, ok := sel.FindModel(*sel.DefaultModel); ok {
			for _, r := range m.ReasoningOptions {
				if r.IsDefault {
					cfg.ReasoningID = models.StringPtr(r.ID)
					break
				}
			}
		}
	}
	for _, a := range sel.Agents {
		if a.IsDefault {
			cfg.AgentID = models.StringPtr(a.ID)
			break
		}
	}
	return cfg
}

// Discoverer streams option updates for an executor. The channel is closed
// when discovery finishes or ctx is done.
type Discoverer interface {
	Discover(ctx context.Context, executor models.AgentID) (<-chan Options, error)
}
