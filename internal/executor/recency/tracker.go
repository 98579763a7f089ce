package recency

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
)

// Op is one buffered recency change: a model touch, or a reasoning
// association (nil Reasoning deletes it).
type Op struct {
	Executor  models.AgentID
	Key       string
	Touch     bool
	Reasoning *string
}

// Tracker buffers model and reasoning choices made during one interactive
// selection and writes them as a single profile update on Flush.
type Tracker struct {
	session *profiles.Session
	logger  *logger.Logger

	mu      sync.Mutex
	pending []Op
	wg      sync.WaitGroup
}

// NewTracker returns a tracker writing through session.
func NewTracker(session *profiles.Session, log *logger.Logger) *Tracker {
	return &Tracker{
		session: session,
		logger:  log.WithFields(zap.String("component", "recency")),
	}
}

// TouchModel buffers a use of key for executor.
func (t *Tracker) TouchModel(executor models.AgentID, key string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, Op{Executor: executor, Key: key, Touch: true})
	t.mu.Unlock()
}

// SetReasoning buffers the reasoning choice for key; nil clears it.
func (t *Tracker) SetReasoning(executor models.AgentID, key string, reasoning *string) {
	if key == "" {
		return
	}
	var r *string
	if reasoning != nil {
		v := *reasoning
		r = &v
	}
	t.mu.Lock()
	t.pending = append(t.pending, Op{Executor: executor, Key: key, Reasoning: r})
	t.mu.Unlock()
}

// Pending returns the number of buffered operations.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush applies buffered operations as one profile update. The buffer is
// cleared whether or not the save succeeds; failures are logged and not retried.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	ops := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	_, err := t.session.Update(ctx, func(doc profiles.Document) (profiles.Document, error) {
		return Apply(doc, ops), nil
	})
	if err != nil {
		t.logger.Warn("dropping recency update", zap.Int("ops", len(ops)), zap.Error(err))
		return err
	}
	t.logger.Debug("recency flushed", zap.Int("ops", len(ops)))
	return nil
}

// FlushAsync flushes on a background goroutine. Errors are only logged.
func (t *Tracker) FlushAsync(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = t.Flush(context.WithoutCancel(ctx))
	}()
}

// Wait blocks until every FlushAsync has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Apply replays buffered operations onto doc in order.
func Apply(doc profiles.Document, ops []Op) profiles.Document {
	for _, op := range ops {
		if op.Touch {
			doc = TouchModelInDocument(doc, op.Executor, op.Key)
		} else {
			doc = SetReasoning(doc, op.Executor, op.Key, op.Reasoning)
		}
	}
	return doc
}
