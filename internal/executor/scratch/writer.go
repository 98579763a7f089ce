package scratch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/executor/models"
)

const writeTimeout = 5 * time.Second

// Persister is the storage a Writer flushes to.
type Persister interface {
	Get(ctx context.Context, id string) (models.ExecutorConfig, error)
	Put(ctx context.Context, id string, cfg models.ExecutorConfig) error
	Delete(ctx context.Context, id string) error
}

type pendingWrite struct {
	cfg   models.ExecutorConfig
	timer *time.Timer
}

// Writer debounces draft writes per id: only the last config put within the
// window reaches the store.
type Writer struct {
	store  Persister
	delay  time.Duration
	logger *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
	wg      sync.WaitGroup
}

// NewWriter creates a debouncing writer over store.
func NewWriter(store Persister, delay time.Duration, log *logger.Logger) *Writer {
	return &Writer{
		store:   store,
		delay:   delay,
		logger:  log.WithFields(zap.String("component", "scratch-writer")),
		pending: make(map[string]*pendingWrite),
	}
}

// Put schedules cfg to be written under id after the debounce window.
func (w *Writer) Put(id string, cfg models.ExecutorConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || id == "" {
		return
	}
	if p, ok := w.pending[id]; ok && p.timer.Stop() {
		p.cfg = cfg.Clone()
		p.timer.Reset(w.delay)
		return
	}
	p := &pendingWrite{cfg: cfg.Clone()}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.delay, func() {
		defer w.wg.Done()
		w.fire(id, p)
	})
	w.pending[id] = p
}

func (w *Writer) fire(id string, p *pendingWrite) {
	w.mu.Lock()
	if w.pending[id] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, id)
	cfg := p.cfg
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.store.Put(ctx, id, cfg); err != nil {
		w.logger.Warn("failed to persist scratch config", zap.String("scratch_id", id), zap.Error(err))
	}
}

// Get returns the pending draft for id, or the stored one.
func (w *Writer) Get(ctx context.Context, id string) (models.ExecutorConfig, error) {
	w.mu.Lock()
	if p, ok := w.pending[id]; ok {
		cfg := p.cfg.Clone()
		w.mu.Unlock()
		return cfg, nil
	}
	w.mu.Unlock()
	return w.store.Get(ctx, id)
}

// Delete drops any pending write for id and removes the stored draft.
func (w *Writer) Delete(ctx context.Context, id string) error {
	w.mu.Lock()
	if p, ok := w.pending[id]; ok {
		if p.timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, id)
	}
	w.mu.Unlock()
	return w.store.Delete(ctx, id)
}

// Pending returns the number of ids waiting to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every pending draft now.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := make(map[string]models.ExecutorConfig, len(w.pending))
	for id, p := range w.pending {
		if p.timer.Stop() {
			w.wg.Done()
		}
		batch[id] = p.cfg
		delete(w.pending, id)
	}
	w.mu.Unlock()

	var errs []error
	for id, cfg := range batch {
		if err := w.store.Put(ctx, id, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending drafts and rejects further puts.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	err := w.Flush(ctx)
	w.wg.Wait()
	return err
}
