package dto

import (
	"time"

	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/models"
	"github.com/kandev/kanrun/internal/scheduling/service"
)

// CreateScheduledExecutionRequest is the body of POST /scheduled-executions.
type CreateScheduledExecutionRequest struct {
	TaskID            string                       `json:"task_id"`
	ProjectID         string                       `json:"project_id"`
	ScheduledAt       time.Time                    `json:"scheduled_at"`
	ExecutorProfileID execmodels.ExecutorProfileID `json:"executor_profile_id"`
	Repos             []models.RepoInput           `json:"repos"`
}

func (r CreateScheduledExecutionRequest) ToService() service.CreateRequest {
	return service.CreateRequest{
		TaskID:            r.TaskID,
		ProjectID:         r.ProjectID,
		ScheduledAt:       r.ScheduledAt,
		ExecutorProfileID: r.ExecutorProfileID,
		Repos:             r.Repos,
	}
}

type ListScheduledExecutionsResponse struct {
	ScheduledExecutions []*models.ScheduledExecution `json:"scheduled_executions"`
	Total               int                          `json:"total"`
}

func NewListResponse(items []*models.ScheduledExecution) ListScheduledExecutionsResponse {
	if items == nil {
		items = []*models.ScheduledExecution{}
	}
	return ListScheduledExecutionsResponse{ScheduledExecutions: items, Total: len(items)}
}

// CancelScheduledExecutionResponse reports whether the cancel took effect and
// the row as it stands afterwards.
type CancelScheduledExecutionResponse struct {
	Cancelled          bool                       `json:"cancelled"`
	ScheduledExecution *models.ScheduledExecution `json:"scheduled_execution"`
}
