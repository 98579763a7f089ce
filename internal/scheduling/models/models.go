// Package models defines scheduled executions: a future-dated intent to run a
// task with a given executor profile against a set of repositories.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	execmodels "github.com/kandev/kanrun/internal/executor/models"
)

// ErrInvalidStatus is returned for any status outside pending, fired and cancelled.
var ErrInvalidStatus = errors.New("invalid scheduled execution status")

// Status is the lifecycle state. Fired and Cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts exactly the three known values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusFired, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusFired || s == StatusCancelled
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, data)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidStatus, src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

// RepoInput is one repository the execution runs against.
type RepoInput struct {
	RepoID       string `json:"repo_id"`
	TargetBranch string `json:"target_branch"`
}

// ScheduledExecution is one persisted schedule.
type ScheduledExecution struct {
	ID                string                       `json:"id"`
	TaskID            string                       `json:"task_id"`
	ProjectID         string                       `json:"project_id"`
	ScheduledAt       time.Time                    `json:"scheduled_at"`
	Status            Status                       `json:"status"`
	ExecutorProfileID execmodels.ExecutorProfileID `json:"executor_profile_id"`
	Repos             []RepoInput                  `json:"repos"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
	FiredAt           *time.Time                   `json:"fired_at"`
	ErrorMessage      *string                      `json:"error_message"`
}

// IsDue reports whether e is pending and its time has come.
func (e *ScheduledExecution) IsDue(now time.Time) bool {
	return e.Status == StatusPending && !e.ScheduledAt.After(now)
}

// EventData is the payload of scheduled execution lifecycle events.
func (e *ScheduledExecution) EventData() map[string]interface{} {
	data := map[string]interface{}{
		"scheduled_execution_id": e.ID,
		"task_id":                e.TaskID,
		"project_id":             e.ProjectID,
		"scheduled_at":           e.ScheduledAt.Format(time.RFC3339),
		"status":                 string(e.Status),
		"executor":               string(e.ExecutorProfileID.Executor),
		"variant":                e.ExecutorProfileID.Key().Variant,
	}
	if e.FiredAt != nil {
		data["fired_at"] = e.FiredAt.Format(time.RFC3339)
	}
	if e.ErrorMessage != nil {
		data["error_message"] = *e.ErrorMessage
	}
	return data
}
