package resolver

import "github.com/kandev/kanrun/internal/executor/models"

// Provider names reported in Result.Sources.
const (
	SourceSelection   = "selection"
	SourceScratch     = "scratch"
	SourceLastUsed    = "last_used"
	SourceDefault     = "default"
	SourceDefaultName = "default_variant"
	SourceFirstOption = "first_option"
	SourcePreset      = "preset"
	SourceNone        = "none"
)

// State is what providers see: the inputs plus the fields resolved so far.
type State struct {
	Inputs   Inputs
	Executor models.AgentID
	Variant  Field[string]
	ModelID  *string
}

// ProfileKey is the key of the resolved executor and variant.
func (s *State) ProfileKey() models.ProfileKey {
	return models.NewProfileKey(s.Executor, s.Variant.Ptr())
}

// Provider supplies one field. Returning Unset passes to the next provider.
type Provider[T any] struct {
	Name string
	Try  func(s *State) Field[T]
}

// Chain is an ordered list of providers for one field.
type Chain[T any] []Provider[T]

// Resolve returns the first set field and the name of its provider, or
// Unset and SourceNone.
func (c Chain[T]) Resolve(s *State) (Field[T], string) {
	for _, p := range c {
		if f := p.Try(s); f.IsSet() {
			return f, p.Name
		}
	}
	return Unset[T](), SourceNone
}

func scratchLayer(s *State) *models.ExecutorConfig  { return s.Inputs.Scratch }
func lastUsedLayer(s *State) *models.ExecutorConfig { return s.Inputs.LastUsed }
func defaultLayer(s *State) *models.ExecutorConfig  { return s.Inputs.Default }

// ExecutorChain: selection, scratch, last used, configured default, first option.
func ExecutorChain() Chain[models.AgentID] {
	fromLayer := func(name string, get func(*State) *models.ExecutorConfig) Provider[models.AgentID] {
		return Provider[models.AgentID]{Name: name, Try: func(s *State) Field[models.AgentID] {
			if cfg := get(s); cfg != nil && cfg.Executor != "" {
				return Value(cfg.Executor)
			}
			return Unset[models.AgentID]()
		}}
	}
	return Chain[models.AgentID]{
		{Name: SourceSelection, Try: func(s *State) Field[models.AgentID] {
			if v, ok := s.Inputs.Selection.Executor.Get(); ok && v != "" {
				return Value(v)
			}
			return Unset[models.AgentID]()
		}},
		fromLayer(SourceScratch, scratchLayer),
		fromLayer(SourceLastUsed, lastUsedLayer),
		fromLayer(SourceDefault, defaultLayer),
		{Name: SourceFirstOption, Try: func(s *State) Field[models.AgentID] {
			if s.Inputs.Catalog == nil {
				return Unset[models.AgentID]()
			}
			if options := s.Inputs.Catalog.Executors(); len(options) > 0 {
				return Value(options[0])
			}
			return Unset[models.AgentID]()
		}},
	}
}

// VariantChain: a user-selected variant (even Null), then scratch, last used
// and default when their executor matches, then DEFAULT if offered, then the
// first option.
func VariantChain() Chain[string] {
	fromLayer := func(name string, get func(*State) *models.ExecutorConfig) Provider[string] {
		return Provider[string]{Name: name, Try: func(s *State) Field[string] {
			cfg := get(s)
			if cfg == nil || s.Executor == "" || cfg.Executor != s.Executor || cfg.Variant == nil {
				return Unset[string]()
			}
			return Value(*cfg.Variant)
		}}
	}
	return Chain[string]{
		{Name: SourceSelection, Try: func(s *State) Field[string] {
			return s.Inputs.Selection.Variant
		}},
		fromLayer(SourceScratch, scratchLayer),
		fromLayer(SourceLastUsed, lastUsedLayer),
		fromLayer(SourceDefault, defaultLayer),
		{Name: SourceDefaultName, Try: func(s *State) Field[string] {
			for _, v := range s.variantOptions() {
				if v == models.DefaultVariant {
					return Value(v)
				}
			}
			return Unset[string]()
		}},
		{Name: SourceFirstOption, Try: func(s *State) Field[string] {
			if options := s.variantOptions(); len(options) > 0 {
				return Value(options[0])
			}
			return Unset[string]()
		}},
	}
}

func (s *State) variantOptions() []string {
	if s.Inputs.Catalog == nil || s.Executor == "" {
		return nil
	}
	return s.Inputs.Catalog.Variants(s.Executor)
}

// overrideField describes where one override field lives in each layer.
type overrideField[T any] struct {
	selection func(Selection) Field[T]
	config    func(models.ExecutorConfig) *T
	// matchModel additionally requires the layer's model to equal the resolved model.
	matchModel bool
}

// overrideChain: selection, then the first of scratch and last used whose
// profile key matches (authoritative even when the field is nil there),
// then the preset, only when the variant was user-selected.
func overrideChain[T any](f overrideField[T]) Chain[T] {
	fromLayer := func(name string, get func(*State) *models.ExecutorConfig) Provider[T] {
		return Provider[T]{Name: name, Try: func(s *State) Field[T] {
			cfg := get(s)
			if cfg == nil || cfg.Executor == "" || cfg.ProfileKey() != s.ProfileKey() {
				return Unset[T]()
			}
			if f.matchModel && !equalPtr(cfg.ModelID, s.ModelID) {
				return Unset[T]()
			}
			return FromPtr(f.config(*cfg))
		}}
	}
	return Chain[T]{
		{Name: SourceSelection, Try: func(s *State) Field[T] {
			return f.selection(s.Inputs.Selection)
		}},
		fromLayer(SourceScratch, scratchLayer),
		fromLayer(SourceLastUsed, lastUsedLayer),
		{Name: SourcePreset, Try: func(s *State) Field[T] {
			if !s.Inputs.Selection.VariantSelected() || s.Inputs.Catalog == nil {
				return Unset[T]()
			}
			preset, ok := s.Inputs.Catalog.PresetOptions(s.ProfileKey())
			if !ok {
				return Unset[T]()
			}
			if v := f.config(preset); v != nil {
				return Value(*v)
			}
			return Unset[T]()
		}},
	}
}

// ModelChain resolves model_id.
func ModelChain() Chain[string] {
	return overrideChain(overrideField[string]{
		selection: func(s Selection) Field[string] { return s.ModelID },
		config:    func(c models.ExecutorConfig) *string { return c.ModelID },
	})
}

// AgentChain resolves agent_id.
func AgentChain() Chain[string] {
	return overrideChain(overrideField[string]{
		selection: func(s Selection) Field[string] { return s.AgentID },
		config:    func(c models.ExecutorConfig) *string { return c.AgentID },
	})
}

// ReasoningChain resolves reasoning_id. Layers only count when their model
// matches the resolved model.
func ReasoningChain() Chain[string] {
	return overrideChain(overrideField[string]{
		selection:  func(s Selection) Field[string] { return s.ReasoningID },
		config:     func(c models.ExecutorConfig) *string { return c.ReasoningID },
		matchModel: true,
	})
}

// PermissionChain resolves permission_policy.
func PermissionChain() Chain[models.PermissionPolicy] {
	return overrideChain(overrideField[models.PermissionPolicy]{
		selection: func(s Selection) Field[models.PermissionPolicy] { return s.PermissionPolicy },
		config:    func(c models.ExecutorConfig) *models.PermissionPolicy { return c.PermissionPolicy },
	})
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
