package discovery

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kandev/kanrun/internal/executor/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Executors []struct {
		ID        string `yaml:"id"`
		Providers []struct {
			ID   string `yaml:"id"`
			Name string `yaml:"name"`
		} `yaml:"providers"`
		Models []struct {
			ID        string   `yaml:"id"`
			Name      string   `yaml:"name"`
			Provider  string   `yaml:"provider"`
			Reasoning []string `yaml:"reasoning"`
		} `yaml:"models"`
		DefaultModel string `yaml:"default_model"`
		Agents       []struct {
			ID          string `yaml:"id"`
			Label       string `yaml:"label"`
			Description string `yaml:"description"`
			Default     bool   `yaml:"default"`
		} `yaml:"agents"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"executors"`
}

// ParseCatalog reads the YAML catalog format.
func ParseCatalog(data []byte) (map[models.AgentID]Options, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	out := make(map[models.AgentID]Options, len(file.Executors))
	for _, e := range file.Executors {
		id, err := models.ParseAgentID(e.ID)
		if err != nil {
			return nil, err
		}
		sel := models.ModelSelectorConfig{
			Providers:   []models.ModelProvider{},
			Models:      []models.ModelInfo{},
			Agents:      []models.AgentInfo{},
			Permissions: []models.PermissionPolicy{},
		}
		for _, p := range e.Providers {
			sel.Providers = append(sel.Providers, models.ModelProvider{ID: p.ID, Name: p.Name})
		}
		for _, m := range e.Models {
			info := models.ModelInfo{
				ID:               m.ID,
				Name:             m.Name,
				ReasoningOptions: models.ReasoningOptionsFromNames(m.Reasoning...),
			}
			if m.Provider != "" {
				info.ProviderID = models.StringPtr(m.Provider)
			}
			sel.Models = append(sel.Models, info)
		}
		if e.DefaultModel != "" {
			sel.DefaultModel = models.StringPtr(e.DefaultModel)
		}
		for _, a := range e.Agents {
			info := models.AgentInfo{ID: a.ID, Label: a.Label, IsDefault: a.Default}
			if a.Description != "" {
				info.Description = models.StringPtr(a.Description)
			}
			sel.Agents = append(sel.Agents, info)
		}
		for _, raw := range e.Permissions {
			p, err := models.ParsePermissionPolicy(raw)
			if err != nil {
				return nil, fmt.Errorf("executor %s: %w", id, err)
			}
			sel.Permissions = append(sel.Permissions, p)
		}
		out[id] = Options{Executor: id, ModelSelector: sel}
	}
	return out, nil
}

// StaticDiscoverer reports a fixed catalog: one update, then the stream closes.
type StaticDiscoverer struct {
	options map[models.AgentID]Options
}

// NewStaticDiscoverer serves options.
func NewStaticDiscoverer(options map[models.AgentID]Options) *StaticDiscoverer {
	return &StaticDiscoverer{options: options}
}

// NewBuiltinDiscoverer serves the embedded catalog.
func NewBuiltinDiscoverer() (*StaticDiscoverer, error) {
	options, err := ParseCatalog(catalogYAML)
	if err != nil {
		return nil, err
	}
	return NewStaticDiscoverer(options), nil
}

// Discover emits the executor's options, or empty options for an unknown executor.
func (d *StaticDiscoverer) Discover(ctx context.Context, executor models.AgentID) (<-chan Options, error) {
	ch := make(chan Options, 1)
	opts, ok := d.options[executor]
	if !ok {
		opts = Options{Executor: executor}
	}
	ch <- opts
	close(ch)
	return ch, nil
}
