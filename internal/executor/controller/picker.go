package controller

import (
	"context"
	"errors"

	"github.com/kandev/kanrun/internal/executor/dto"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/recency"
	"github.com/kandev/kanrun/internal/executor/resolver"
	"github.com/kandev/kanrun/internal/executor/scratch"
)

// PickerSession is one interactive selection kept live on a stream. Model
// picks are recorded in the profile when the session closes.
type PickerSession struct {
	c       *Controller
	picker  *resolver.Picker
	tracker *recency.Tracker
}

// OpenPicker starts a picker from the layers in req. With a scratch id every
// ready result is saved as the draft.
func (c *Controller) OpenPicker(ctx context.Context, req dto.ResolveRequest) (*PickerSession, error) {
	in := resolver.Inputs{
		Selection: req.Selection,
		Scratch:   req.Scratch,
		LastUsed:  req.LastUsed,
		Default:   req.Default,
		Catalog:   c.session.Document(),
	}
	if in.Scratch == nil && req.ScratchID != "" {
		draft, err := c.scratch.Get(ctx, req.ScratchID)
		switch {
		case err == nil:
			in.Scratch = &draft
		case !errors.Is(err, scratch.ErrNotFound):
			return nil, err
		}
	}

	tracker := recency.NewTracker(c.session, c.logger)
	var opts []resolver.PickerOption
	if req.ScratchID != "" {
		opts = append(opts, resolver.WithScratch(c.scratch, req.ScratchID))
	}
	s := &PickerSession{c: c, picker: resolver.NewPicker(in, tracker, opts...), tracker: tracker}
	s.Refresh(ctx)
	return s, nil
}

// Result returns the current resolved config.
func (s *PickerSession) Result() resolver.Result {
	return s.picker.Result()
}

// Executor returns the executor the session currently resolves to.
func (s *PickerSession) Executor() models.AgentID {
	return s.picker.Result().Config.Executor
}

// Apply applies one client command and returns the new result.
func (s *PickerSession) Apply(ctx context.Context, cmd dto.PickerCommand) (resolver.Result, error) {
	switch {
	case cmd.Executor != nil:
		if !cmd.Executor.Valid() {
			return resolver.Result{}, &ValidationError{Field: "executor", Message: "unknown executor"}
		}
		s.picker.SetExecutor(ctx, *cmd.Executor)
		return s.Refresh(ctx), nil
	case cmd.Variant.IsSet():
		return s.picker.SetVariant(ctx, cmd.Variant.Ptr()), nil
	case cmd.Overrides != nil:
		return s.picker.SetOverrides(ctx, *cmd.Overrides), nil
	}
	return resolver.Result{}, &ValidationError{Field: "command", Message: "expected executor, variant or overrides"}
}

// Refresh re-resolves against the profiles and the current executor's
// discovered options.
func (s *PickerSession) Refresh(ctx context.Context) resolver.Result {
	doc := s.c.session.Document()
	res := s.picker.SetCatalog(ctx, doc)
	if res.Ready() && s.c.discovery != nil {
		res = s.picker.SetCatalog(ctx, s.c.discovery.CatalogFor(ctx, doc, res.Config.Executor))
	}
	return res
}

// Close ends the session and records its model picks in the background.
func (s *PickerSession) Close(ctx context.Context) {
	if s.tracker.Pending() == 0 {
		return
	}
	s.picker.Close(context.WithoutCancel(ctx))
}

// Wait blocks until the recency write started by Close finishes.
func (s *PickerSession) Wait() {
	s.tracker.Wait()
}
