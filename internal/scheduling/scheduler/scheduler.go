// Package scheduler fires due scheduled executions. Each due row is claimed
// with a conditional update before the task is invoked, so any number of
// scheduler instances can poll the same database and a row fires at most once.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/common/tracing"
	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/events/bus"
	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/models"
	"github.com/kandev/kanrun/internal/scheduling/store"
	taskmodels "github.com/kandev/kanrun/internal/task/models"
	"github.com/kandev/kanrun/internal/task/repository"
)

// Common errors
var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Config holds scheduler configuration
type Config struct {
	PollInterval  time.Duration // How often to look for due rows
	BatchSize     int           // Max due rows claimed per poll
	InvokeTimeout time.Duration // Zero waits for the invoker indefinitely
	MaxConcurrent int           // Max invocations in flight per scheduler
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		BatchSize:     100,
		MaxConcurrent: 8,
	}
}

// InvokeRequest is what the task-execution collaborator receives.
type InvokeRequest struct {
	ScheduleID        string
	TaskID            string
	ProjectID         string
	ExecutorProfileID execmodels.ExecutorProfileID
	Repos             []models.RepoInput
}

// Invoker starts the agent run for a fired execution.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req InvokeRequest) error

func (f InvokerFunc) Invoke(ctx context.Context, req InvokeRequest) error { return f(ctx, req) }

// TaskLookup is consulted before claiming: a missing task, or one no longer
// in todo, has its schedule cancelled instead of fired.
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*taskmodels.Task, error)
}

// Stats contains scheduler counters
type Stats struct {
	Polls     int64
	Fired     int64
	Failed    int64
	LostClaim int64
	Cancelled int64
	InFlight  int64
	LastPoll  time.Time
}

// Scheduler polls for due executions and fires them.
type Scheduler struct {
	store    *store.Store
	invoker  Invoker
	tasks    TaskLookup
	eventBus bus.EventBus
	logger   *logger.Logger
	config   Config
	now      func() time.Time

	polls     int64
	fired     int64
	failed    int64
	lostClaim int64
	cancelled int64
	inFlight  atomic.Int64
	lastPoll  atomic.Int64

	// slots bounds concurrent invocations; inflight tracks them until Drain.
	slots    chan struct{}
	inflight sync.WaitGroup

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. tasks and eventBus may be nil.
func NewScheduler(st *store.Store, invoker Invoker, tasks TaskLookup, eventBus bus.EventBus, log *logger.Logger, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	return &Scheduler{
		store:    st,
		invoker:  invoker,
		tasks:    tasks,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "scheduler")),
		config:   config,
		now:      time.Now,
		slots:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Start begins the polling loop. Invocations started by the loop run on a
// context that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("max_concurrent", s.config.MaxConcurrent))

	s.wg.Add(1)
	go s.pollLoop(loopCtx)

	return nil
}

// Stop stops the polling loop, cancels in-flight invocations and waits for
// them to record their outcome.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.Drain()
	s.logger.Info("scheduler stopped")
	return nil
}

// Drain blocks until every invocation started by Poll has returned.
func (s *Scheduler) Drain() {
	s.inflight.Wait()
}

// IsRunning returns true if the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats returns the scheduler counters
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Polls:     atomic.LoadInt64(&s.polls),
		Fired:     atomic.LoadInt64(&s.fired),
		Failed:    atomic.LoadInt64(&s.failed),
		LostClaim: atomic.LoadInt64(&s.lostClaim),
		Cancelled: atomic.LoadInt64(&s.cancelled),
		InFlight:  s.inFlight.Load(),
	}
	if ns := s.lastPoll.Load(); ns != 0 {
		st.LastPoll = time.Unix(0, ns).UTC()
	}
	return st
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler polling loop started")
	s.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler polling loop stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler poll failed", zap.Error(err))
	}
}

// Poll runs one cycle: every due row is gated, claimed and handed to an
// invocation goroutine. Poll returns once the claims are done; invocations
// keep running until they finish (see Drain). A row is only claimed when an
// invocation slot is free, so rows beyond MaxConcurrent stay pending for a
// later poll. It returns how many rows this instance claimed.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	ctx, span := tracing.StartPoll(ctx)
	defer span.End()

	now := s.now()
	atomic.AddInt64(&s.polls, 1)
	s.lastPoll.Store(now.UnixNano())

	due, err := s.store.ListDue(ctx, now, s.config.BatchSize)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	span.SetAttributes(tracing.AttrDueCount.Int(len(due)))
	if len(due) == 0 {
		return 0, nil
	}
	s.logger.Debug("found due scheduled executions", zap.Int("count", len(due)))

	claimed := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if !s.acquire() {
			s.logger.Debug("all invocation slots busy; due rows wait for the next poll",
				zap.Int("max_concurrent", s.config.MaxConcurrent))
			break
		}
		if !s.claim(ctx, e) {
			s.release()
			continue
		}
		claimed++
		s.inflight.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer s.release()
			defer s.inFlight.Add(-1)
			s.invoke(ctx, e)
		}()
	}
	return claimed, nil
}

func (s *Scheduler) acquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) release() {
	<-s.slots
}

// claim applies the eligibility gate and the conditional pending to fired
// update. It reports whether this instance won the row.
func (s *Scheduler) claim(ctx context.Context, e *models.ScheduledExecution) bool {
	log := s.logger.WithScheduleID(e.ID).WithTaskID(e.TaskID)

	if s.tasks != nil {
		eligible, err := s.eligible(ctx, e)
		if err != nil {
			log.Warn("task lookup failed; will retry next poll", zap.Error(err))
			return false
		}
		if !eligible {
			s.cancelIneligible(ctx, e)
			return false
		}
	}

	now := s.now()
	ok, err := s.store.Claim(ctx, e.ID, now)
	if err != nil {
		log.Error("failed to claim scheduled execution", zap.Error(err))
		return false
	}
	if !ok {
		atomic.AddInt64(&s.lostClaim, 1)
		log.Debug("scheduled execution already claimed or cancelled")
		return false
	}
	fired := now.UTC().Truncate(time.Microsecond)
	e.Status = models.StatusFired
	e.FiredAt = &fired
	return true
}

func (s *Scheduler) eligible(ctx context.Context, e *models.ScheduledExecution) (bool, error) {
	task, err := s.tasks.GetTask(ctx, e.TaskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return task.Status == taskmodels.TaskStatusTodo, nil
}

func (s *Scheduler) cancelIneligible(ctx context.Context, e *models.ScheduledExecution) {
	log := s.logger.WithScheduleID(e.ID).WithTaskID(e.TaskID)
	ok, err := s.store.Cancel(ctx, e.ID, s.now())
	if err != nil {
		log.Error("failed to cancel scheduled execution for ineligible task", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	atomic.AddInt64(&s.cancelled, 1)
	e.Status = models.StatusCancelled
	log.Info("cancelled scheduled execution; task is gone or no longer todo")
	s.publish(ctx, events.ScheduledExecutionCancelled, e)
}

// invoke runs the collaborator for a claimed row. Failures are recorded on
// the row, which stays fired.
func (s *Scheduler) invoke(ctx context.Context, e *models.ScheduledExecution) {
	ctx, span := tracing.StartFire(ctx, e.ID, e.TaskID, string(e.ExecutorProfileID.Executor))
	defer span.End()
	log := s.logger.WithScheduleID(e.ID).WithTaskID(e.TaskID).WithExecutor(string(e.ExecutorProfileID.Executor))

	invokeCtx := ctx
	if s.config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, s.config.InvokeTimeout)
		defer cancel()
	}

	err := s.invoker.Invoke(invokeCtx, InvokeRequest{
		ScheduleID:        e.ID,
		TaskID:            e.TaskID,
		ProjectID:         e.ProjectID,
		ExecutorProfileID: e.ExecutorProfileID,
		Repos:             e.Repos,
	})
	if err != nil {
		tracing.RecordError(span, err)
		atomic.AddInt64(&s.failed, 1)
		log.Warn("scheduled execution invocation failed", zap.Error(err))
		msg := err.Error()
		e.ErrorMessage = &msg
		if markErr := s.store.MarkError(context.WithoutCancel(ctx), e.ID, msg); markErr != nil {
			log.Error("failed to record invocation error", zap.Error(markErr))
		}
		s.publish(ctx, events.ScheduledExecutionFailed, e)
		return
	}

	atomic.AddInt64(&s.fired, 1)
	log.Info("scheduled execution fired")
	s.publish(ctx, events.ScheduledExecutionFired, e)
}

func (s *Scheduler) publish(ctx context.Context, eventType string, e *models.ScheduledExecution) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "scheduler", e.EventData())
	if err := s.eventBus.Publish(context.WithoutCancel(ctx), eventType, event); err != nil {
		s.logger.Error("failed to publish scheduled execution event",
			zap.String("event_type", eventType),
			zap.String("schedule_id", e.ID),
			zap.Error(err))
	}
}
