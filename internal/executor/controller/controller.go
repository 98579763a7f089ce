// Package controller coordinates the executor configuration components
// behind the HTTP handlers.
package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/events/bus"
	"github.com/kandev/kanrun/internal/executor/discovery"
	"github.com/kandev/kanrun/internal/executor/dto"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
	"github.com/kandev/kanrun/internal/executor/recency"
	"github.com/kandev/kanrun/internal/executor/resolver"
	"github.com/kandev/kanrun/internal/executor/scratch"
)

// ValidationError reports a request the controller rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

type Controller struct {
	session   *profiles.Session
	discovery *discovery.Service
	scratch   *scratch.Writer
	eventBus  bus.EventBus
	logger    *logger.Logger
}

// NewController wires the executor components. eventBus may be nil.
func NewController(session *profiles.Session, disc *discovery.Service, writer *scratch.Writer, eventBus bus.EventBus, log *logger.Logger) *Controller {
	return &Controller{
		session:   session,
		discovery: disc,
		scratch:   writer,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "executor-controller")),
	}
}

// Profiles returns the current profile document.
func (c *Controller) Profiles() profiles.Document {
	return c.session.Document()
}

// ReplaceProfiles saves doc as the whole profile document.
func (c *Controller) ReplaceProfiles(ctx context.Context, doc profiles.Document) (profiles.Document, error) {
	for _, executor := range doc.Executors() {
		if !executor.Valid() {
			return profiles.Document{}, &ValidationError{Field: "executors", Message: fmt.Sprintf("unknown executor %q", executor)}
		}
	}
	if err := c.session.Replace(ctx, doc); err != nil {
		return profiles.Document{}, err
	}
	c.publishProfilesUpdated(ctx)
	return c.session.Document(), nil
}

// RecordRecentModels applies a batch of model touches as one profile update.
func (c *Controller) RecordRecentModels(ctx context.Context, req dto.RecentModelsRequest) (profiles.Document, error) {
	if len(req.Touches) == 0 {
		return c.session.Document(), nil
	}
	tracker := recency.NewTracker(c.session, c.logger)
	for i, t := range req.Touches {
		if !t.Executor.Valid() {
			return profiles.Document{}, &ValidationError{Field: fmt.Sprintf("touches[%d].executor", i), Message: "unknown executor"}
		}
		if t.ModelKey == "" {
			return profiles.Document{}, &ValidationError{Field: fmt.Sprintf("touches[%d].model_key", i), Message: "required"}
		}
		tracker.TouchModel(t.Executor, t.ModelKey)
		if t.ReasoningID.IsSet() {
			tracker.SetReasoning(t.Executor, t.ModelKey, t.ReasoningID.Ptr())
		}
	}
	if err := tracker.Flush(ctx); err != nil {
		return profiles.Document{}, err
	}
	c.publishProfilesUpdated(ctx)
	return c.session.Document(), nil
}

// Resolve computes the effective config. A resolved executor's discovered
// options are overlaid on the profile presets and the result is resolved
// again against them. With a scratch id and a non-empty selection the
// result is saved as the draft.
func (c *Controller) Resolve(ctx context.Context, req dto.ResolveRequest) (resolver.Result, error) {
	in := resolver.Inputs{
		Selection: req.Selection,
		Scratch:   req.Scratch,
		LastUsed:  req.LastUsed,
		Default:   req.Default,
	}
	if in.Scratch == nil && req.ScratchID != "" {
		draft, err := c.scratch.Get(ctx, req.ScratchID)
		switch {
		case err == nil:
			in.Scratch = &draft
		case !errors.Is(err, scratch.ErrNotFound):
			return resolver.Result{}, err
		}
	}

	doc := c.session.Document()
	in.Catalog = doc
	result := resolver.Resolve(ctx, in)
	if result.Ready() && c.discovery != nil {
		in.Catalog = c.discovery.CatalogFor(ctx, doc, result.Config.Executor)
		result = resolver.Resolve(ctx, in)
	}

	if req.ScratchID != "" && !req.Selection.IsEmpty() {
		c.scratch.Put(req.ScratchID, result.Config)
	}
	return result, nil
}

// Scratch returns the draft stored under id.
func (c *Controller) Scratch(ctx context.Context, id string) (models.ExecutorConfig, error) {
	return c.scratch.Get(ctx, id)
}

// PutScratch schedules cfg to be saved as the draft id.
func (c *Controller) PutScratch(id string, cfg models.ExecutorConfig) error {
	if cfg.Executor != "" && !cfg.Executor.Valid() {
		return &ValidationError{Field: "executor", Message: "unknown executor"}
	}
	c.scratch.Put(id, cfg)
	return nil
}

// DeleteScratch removes the draft id.
func (c *Controller) DeleteScratch(ctx context.Context, id string) error {
	return c.scratch.Delete(ctx, id)
}

// Options returns executor's discovered options with models and providers
// ordered by recent use.
func (c *Controller) Options(ctx context.Context, executor models.AgentID, align recency.Alignment) (dto.OptionsResponse, error) {
	opts, err := c.discovery.Get(ctx, executor)
	if err != nil {
		return dto.OptionsResponse{}, err
	}
	return c.decorate(opts, align), nil
}

// SubscribeOptions streams executor's options as they change.
func (c *Controller) SubscribeOptions(ctx context.Context, executor models.AgentID, align recency.Alignment) (<-chan dto.OptionsResponse, func()) {
	updates, unsubscribe := c.discovery.Subscribe(executor)
	out := make(chan dto.OptionsResponse)
	done := make(chan struct{})
	go func() {
		if _, err := c.discovery.Get(ctx, executor); err != nil {
			c.logger.Warn("options discovery failed", zap.String("executor", string(executor)), zap.Error(err))
		}
	}()
	go func() {
		defer close(out)
		for {
			select {
			case opts, ok := <-updates:
				if !ok {
					return
				}
				select {
				case out <- c.decorate(opts, align):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return out, func() {
		close(done)
		unsubscribe()
	}
}

func (c *Controller) decorate(opts discovery.Options, align recency.Alignment) dto.OptionsResponse {
	doc := c.session.Document()
	profile, _ := doc.Profile(opts.Executor)
	recent := profile.RecentModels()
	sel := opts.ModelSelector
	sel.Providers = recency.SortProviders(sel.Providers, sel.Models, recent, align)
	sel.Models = recency.SortModels(sel.Models, recent, align)
	opts.ModelSelector = sel
	variants := doc.Variants(opts.Executor)
	if variants == nil {
		variants = []string{}
	}
	return dto.OptionsResponse{Options: opts, Variants: variants}
}

func (c *Controller) publishProfilesUpdated(ctx context.Context) {
	if c.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.ExecutorProfilesUpdated, "executor-controller", map[string]interface{}{
		"executors": c.session.Document().Executors(),
	})
	if err := c.eventBus.Publish(ctx, events.ExecutorProfilesUpdated, event); err != nil {
		c.logger.Warn("failed to publish profiles update", zap.Error(err))
	}
}
