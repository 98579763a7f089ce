// Package service validates and records scheduled executions.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/events/bus"
	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/models"
	"github.com/kandev/kanrun/internal/scheduling/store"
	taskmodels "github.com/kandev/kanrun/internal/task/models"
	"github.com/kandev/kanrun/internal/task/repository"
)

// ValidationError is a rejected create request. The store is not touched.
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

// TaskLookup resolves the task a schedule refers to.
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*taskmodels.Task, error)
}

// CreateRequest describes a new schedule.
type CreateRequest struct {
	TaskID            string
	ProjectID         string
	ScheduledAt       time.Time
	ExecutorProfileID execmodels.ExecutorProfileID
	Repos             []models.RepoInput
}

type Service struct {
	store    *store.Store
	tasks    TaskLookup
	eventBus bus.EventBus
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates the service. tasks and eventBus may be nil.
func NewService(st *store.Store, tasks TaskLookup, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		store:    st,
		tasks:    tasks,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "scheduling-service")),
		now:      time.Now,
	}
}

// Create validates req and stores it as a pending execution.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.ScheduledExecution, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}
	repos := make([]models.RepoInput, len(req.Repos))
	for i, r := range req.Repos {
		repos[i] = models.RepoInput{RepoID: strings.TrimSpace(r.RepoID), TargetBranch: strings.TrimSpace(r.TargetBranch)}
	}
	e := &models.ScheduledExecution{
		TaskID:            req.TaskID,
		ProjectID:         req.ProjectID,
		ScheduledAt:       req.ScheduledAt,
		ExecutorProfileID: req.ExecutorProfileID,
		Repos:             repos,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.WithScheduleID(e.ID).WithTaskID(e.TaskID).Info("scheduled execution created",
		zap.Time("scheduled_at", e.ScheduledAt),
		zap.String("executor", string(e.ExecutorProfileID.Executor)))
	s.publish(ctx, events.ScheduledExecutionCreated, e)
	return e, nil
}

func (s *Service) validate(ctx context.Context, req CreateRequest) error {
	if strings.TrimSpace(req.TaskID) == "" {
		return &ValidationError{Field: "task_id", Message: "is required"}
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return &ValidationError{Field: "project_id", Message: "is required"}
	}
	if req.ScheduledAt.IsZero() {
		return &ValidationError{Field: "scheduled_at", Message: "is required"}
	}
	if !req.ScheduledAt.After(s.now()) {
		return &ValidationError{Field: "scheduled_at", Message: "must be in the future"}
	}
	if err := req.ExecutorProfileID.Validate(); err != nil {
		return &ValidationError{Field: "executor_profile_id", Message: err.Error()}
	}
	if len(req.Repos) == 0 {
		return &ValidationError{Field: "repos", Message: "at least one repository is required"}
	}
	for i, r := range req.Repos {
		if strings.TrimSpace(r.RepoID) == "" {
			return &ValidationError{Field: fmt.Sprintf("repos[%d].repo_id", i), Message: "is required"}
		}
		if strings.TrimSpace(r.TargetBranch) == "" {
			return &ValidationError{Field: fmt.Sprintf("repos[%d].target_branch", i), Message: "a branch must be selected"}
		}
	}
	if s.tasks == nil {
		return nil
	}
	task, err := s.tasks.GetTask(ctx, req.TaskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return &ValidationError{Field: "task_id", Message: "task not found"}
	}
	if err != nil {
		return err
	}
	if task.ProjectID != req.ProjectID {
		return &ValidationError{Field: "project_id", Message: "does not match the task's project"}
	}
	return nil
}

// Get returns one execution.
func (s *Service) Get(ctx context.Context, id string) (*models.ScheduledExecution, error) {
	return s.store.Get(ctx, id)
}

// ListByProject returns a project's executions, latest first.
func (s *Service) ListByProject(ctx context.Context, projectID string, filter store.ListFilter) ([]*models.ScheduledExecution, error) {
	return s.store.ListByProject(ctx, projectID, filter)
}

// ListPendingByProject returns a project's pending executions, latest first.
func (s *Service) ListPendingByProject(ctx context.Context, projectID string) ([]*models.ScheduledExecution, error) {
	return s.store.ListPendingByProject(ctx, projectID)
}

// Cancel cancels a pending execution. It reports false, without error, when
// the execution already fired or was cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return false, err
	}
	ok, err := s.store.Cancel(ctx, id, s.now())
	if err != nil || !ok {
		return false, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return true, err
	}
	s.logger.WithScheduleID(id).Info("scheduled execution cancelled")
	s.publish(ctx, events.ScheduledExecutionCancelled, e)
	return true, nil
}

func (s *Service) publish(ctx context.Context, eventType string, e *models.ScheduledExecution) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "scheduling-service", e.EventData())
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish scheduled execution event",
			zap.String("event_type", eventType),
			zap.String("schedule_id", e.ID),
			zap.Error(err))
	}
}
