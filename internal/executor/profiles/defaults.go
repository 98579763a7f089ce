package profiles

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kandev/kanrun/internal/executor/models"
)

//go:embed presets.yaml
var presetsYAML []byte

type presetFile struct {
	Executors []struct {
		ID       string         `yaml:"id"`
		Variants []presetRecord `yaml:"variants"`
	} `yaml:"executors"`
}

type presetRecord struct {
	Name             string `yaml:"name"`
	ModelID          string `yaml:"model_id"`
	AgentID          string `yaml:"agent_id"`
	ReasoningID      string `yaml:"reasoning_id"`
	PermissionPolicy string `yaml:"permission_policy"`
}

func (r presetRecord) config() (models.ExecutorConfig, error) {
	var cfg models.ExecutorConfig
	if r.ModelID != "" {
		cfg.ModelID = models.StringPtr(r.ModelID)
	}
	if r.AgentID != "" {
		cfg.AgentID = models.StringPtr(r.AgentID)
	}
	if r.ReasoningID != "" {
		cfg.ReasoningID = models.StringPtr(r.ReasoningID)
	}
	if r.PermissionPolicy != "" {
		p, err := models.ParsePermissionPolicy(r.PermissionPolicy)
		if err != nil {
			return cfg, err
		}
		cfg.PermissionPolicy = &p
	}
	return cfg, nil
}

// ParsePresets builds a Document from the YAML preset format.
func ParsePresets(data []byte) (Document, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Document{}, fmt.Errorf("failed to parse presets: %w", err)
	}
	var doc Document
	for _, e := range file.Executors {
		id, err := models.ParseAgentID(e.ID)
		if err != nil {
			return Document{}, err
		}
		var profile ExecutorProfile
		for _, v := range e.Variants {
			if v.Name == "" || v.Name == RecentModelsKey {
				return Document{}, fmt.Errorf("executor %s: invalid variant name %q", id, v.Name)
			}
			cfg, err := v.config()
			if err != nil {
				return Document{}, fmt.Errorf("executor %s variant %s: %w", id, v.Name, err)
			}
			profile = profile.WithPreset(v.Name, cfg)
		}
		doc = doc.WithProfile(id, profile)
	}
	return doc, nil
}

// LoadDefaults returns the built-in document.
func LoadDefaults() (Document, error) {
	return ParsePresets(presetsYAML)
}
