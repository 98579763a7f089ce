package resolver

import (
	"context"
	"sync"

	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/recency"
)

// ScratchSink receives the resolved config after every change so a draft
// survives reloads.
type ScratchSink interface {
	Put(id string, cfg models.ExecutorConfig)
}

// Picker is the state of one interactive selection: the user's picks, the
// other layers and the last result. Model and reasoning picks are buffered in
// the recency tracker and written when the picker closes.
type Picker struct {
	tracker   *recency.Tracker
	scratch   ScratchSink
	scratchID string

	mu     sync.Mutex
	inputs Inputs
	result Result
}

// PickerOption configures a Picker.
type PickerOption func(*Picker)

// WithScratch mirrors every resolved config to sink under id.
func WithScratch(sink ScratchSink, id string) PickerOption {
	return func(p *Picker) {
		p.scratch = sink
		p.scratchID = id
	}
}

// NewPicker resolves the initial config from in.
func NewPicker(in Inputs, tracker *recency.Tracker, opts ...PickerOption) *Picker {
	p := &Picker{tracker: tracker, inputs: in}
	for _, opt := range opts {
		opt(p)
	}
	p.result = resolve(in)
	return p
}

// Result returns the current resolved config.
func (p *Picker) Result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Selection returns the current user selection.
func (p *Picker) Selection() Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs.Selection
}

// SetExecutor switches executor and drops every other pick.
func (p *Picker) SetExecutor(ctx context.Context, executor models.AgentID) Result {
	return p.update(ctx, func(in *Inputs) {
		in.Selection = in.Selection.WithExecutor(executor)
	})
}

// SetVariant switches variant, keeping only the executor pick.
func (p *Picker) SetVariant(ctx context.Context, variant *string) Result {
	return p.update(ctx, func(in *Inputs) {
		in.Selection = in.Selection.WithVariant(variant)
	})
}

// SetOverrides applies field overrides. Model and reasoning picks are
// buffered for recency tracking under the provider/model key in o.ModelID.
func (p *Picker) SetOverrides(ctx context.Context, o Overrides) Result {
	res := p.update(ctx, func(in *Inputs) {
		in.Selection = in.Selection.WithOverrides(o)
	})
	if p.tracker == nil || res.Config.Executor == "" {
		return res
	}
	model, hasModel := o.ModelID.Get()
	if hasModel {
		p.tracker.TouchModel(res.Config.Executor, model)
	}
	if o.ReasoningID.IsSet() && res.Config.ModelID != nil {
		p.tracker.SetReasoning(res.Config.Executor, *res.Config.ModelID, o.ReasoningID.Ptr())
	}
	return res
}

// SetCatalog swaps the catalog, e.g. when discovered options update, and re-resolves.
func (p *Picker) SetCatalog(ctx context.Context, c Catalog) Result {
	return p.update(ctx, func(in *Inputs) { in.Catalog = c })
}

// SetLayers replaces the scratch, last used and default layers and re-resolves.
func (p *Picker) SetLayers(ctx context.Context, scratch, lastUsed, def *models.ExecutorConfig) Result {
	return p.update(ctx, func(in *Inputs) {
		in.Scratch = scratch
		in.LastUsed = lastUsed
		in.Default = def
	})
}

func (p *Picker) update(ctx context.Context, fn func(*Inputs)) Result {
	p.mu.Lock()
	fn(&p.inputs)
	res := Resolve(ctx, p.inputs)
	p.result = res
	p.mu.Unlock()

	if p.scratch != nil && p.scratchID != "" && res.Ready() {
		p.scratch.Put(p.scratchID, res.Config)
	}
	return res
}

// Close ends the interaction and flushes buffered recency in the background.
func (p *Picker) Close(ctx context.Context) {
	if p.tracker != nil {
		p.tracker.FlushAsync(ctx)
	}
}
