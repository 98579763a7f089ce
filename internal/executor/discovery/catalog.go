package discovery

import (
	"context"

	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
)

// Catalog overlays profile presets on discovered defaults. It satisfies the
// resolver's Catalog interface.
type Catalog struct {
	doc     profiles.Document
	options map[models.AgentID]Options
}

// NewCatalog builds a catalog from the profile document and any discovered options.
func NewCatalog(doc profiles.Document, discovered ...Options) Catalog {
	c := Catalog{doc: doc, options: make(map[models.AgentID]Options, len(discovered))}
	for _, o := range discovered {
		c.options[o.Executor] = o
	}
	return c
}

// Executors returns the document's executors.
func (c Catalog) Executors() []models.AgentID { return c.doc.Executors() }

// Variants returns the document's variants for executor.
func (c Catalog) Variants(executor models.AgentID) []string { return c.doc.Variants(executor) }

// Options returns the discovered options for executor, if any.
func (c Catalog) Options(executor models.AgentID) (Options, bool) {
	o, ok := c.options[executor]
	return o, ok
}

// PresetOptions returns the document preset layered over the discovered defaults.
func (c Catalog) PresetOptions(key models.ProfileKey) (models.ExecutorConfig, bool) {
	preset, hasPreset := c.doc.Preset(key)
	opts, hasOptions := c.options[key.Executor]
	if !hasPreset && !hasOptions {
		return models.ExecutorConfig{}, false
	}
	var base models.ExecutorConfig
	if hasOptions {
		base = opts.DefaultPreset()
	}
	merged := models.MergeConfig(base, preset)
	merged.Executor = key.Executor
	merged.Variant = models.StringPtr(key.Variant)
	return merged, true
}

// CatalogFor builds a catalog for doc with executor's options discovered
// through the service. Discovery failures degrade to presets only.
func (s *Service) CatalogFor(ctx context.Context, doc profiles.Document, executor models.AgentID) Catalog {
	if executor == "" {
		return NewCatalog(doc)
	}
	opts, err := s.Get(ctx, executor)
	if err != nil {
		return NewCatalog(doc)
	}
	return NewCatalog(doc, opts)
}
