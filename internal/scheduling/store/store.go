// Package store persists scheduled executions. State transitions out of
// pending are single conditional UPDATEs so concurrent schedulers and
// cancellations resolve on the database row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/db/dialect"
	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/models"
)

// ErrNotFound is returned when no scheduled execution has the requested id.
var ErrNotFound = errors.New("scheduled execution not found")

const columns = `id, task_id, project_id, scheduled_at, status, executor_profile_id, repos,
	created_at, updated_at, fired_at, error_message`

// ListFilter narrows ListByProject. Zero values match everything.
type ListFilter struct {
	Status   models.Status
	Executor execmodels.AgentID
}

// Store is the sqlx-backed scheduled_executions table.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewWithDB creates the store. The tasks and projects tables must exist.
func NewWithDB(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize scheduled execution schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scheduled_executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		scheduled_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'fired', 'cancelled')),
		executor_profile_id TEXT NOT NULL,
		repos TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		fired_at TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_executions_pending
		ON scheduled_executions(status, scheduled_at) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_scheduled_executions_task ON scheduled_executions(task_id);
	CREATE INDEX IF NOT EXISTS idx_scheduled_executions_project ON scheduled_executions(project_id, scheduled_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts e as pending, assigning its id and timestamps.
func (s *Store) Create(ctx context.Context, e *models.ScheduledExecution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	profile, err := json.Marshal(e.ExecutorProfileID)
	if err != nil {
		return fmt.Errorf("failed to encode executor profile id: %w", err)
	}
	repos := e.Repos
	if repos == nil {
		repos = []models.RepoInput{}
	}
	reposJSON, err := json.Marshal(repos)
	if err != nil {
		return fmt.Errorf("failed to encode repos: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	e.ScheduledAt = e.ScheduledAt.UTC().Truncate(time.Microsecond)
	e.Status = models.StatusPending
	e.CreatedAt = now
	e.UpdatedAt = now
	e.FiredAt = nil
	e.ErrorMessage = nil
	e.Repos = repos

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO scheduled_executions (id, task_id, project_id, scheduled_at, status,
			executor_profile_id, repos, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.TaskID, e.ProjectID, db.FormatTime(e.ScheduledAt), e.Status,
		string(profile), string(reposJSON), db.FormatTime(now), db.FormatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create scheduled execution: %w", err)
	}
	return nil
}

// Get returns the execution with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.ScheduledExecution, error) {
	var r row
	err := s.ro.GetContext(ctx, &r, s.ro.Rebind(`SELECT `+columns+` FROM scheduled_executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled execution: %w", err)
	}
	return r.toModel()
}

// GetPendingByTask returns the earliest pending execution of a task, or nil.
func (s *Store) GetPendingByTask(ctx context.Context, taskID string) (*models.ScheduledExecution, error) {
	var r row
	err := s.ro.GetContext(ctx, &r, s.ro.Rebind(`
		SELECT `+columns+` FROM scheduled_executions
		WHERE task_id = ? AND status = 'pending'
		ORDER BY scheduled_at ASC LIMIT 1
	`), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending execution for task: %w", err)
	}
	return r.toModel()
}

// ListByProject returns a project's executions, latest scheduled first.
func (s *Store) ListByProject(ctx context.Context, projectID string, filter ListFilter) ([]*models.ScheduledExecution, error) {
	query := `SELECT ` + columns + ` FROM scheduled_executions WHERE project_id = ?`
	args := []interface{}{projectID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Executor != "" {
		query += ` AND ` + dialect.JSONExtract(dialect.Of(s.ro), "executor_profile_id", "executor") + ` = ?`
		args = append(args, string(filter.Executor))
	}
	query += ` ORDER BY scheduled_at DESC`
	return s.list(ctx, query, args...)
}

// ListPendingByProject returns a project's pending executions, latest first.
func (s *Store) ListPendingByProject(ctx context.Context, projectID string) ([]*models.ScheduledExecution, error) {
	return s.ListByProject(ctx, projectID, ListFilter{Status: models.StatusPending})
}

// ListDue returns up to limit pending executions scheduled at or before now,
// earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledExecution, error) {
	return s.list(ctx, `
		SELECT `+columns+` FROM scheduled_executions
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC LIMIT ?
	`, db.FormatTime(now), limit)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*models.ScheduledExecution, error) {
	var rows []row
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list scheduled executions: %w", err)
	}
	out := make([]*models.ScheduledExecution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Claim moves a pending execution to fired. It reports false when the row
// was no longer pending.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	ts := db.FormatTime(now)
	return s.transition(ctx, `
		UPDATE scheduled_executions SET status = 'fired', fired_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, ts, ts, id)
}

// Cancel moves a pending execution to cancelled. It reports false when the
// row was no longer pending.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.transition(ctx, `
		UPDATE scheduled_executions SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, db.FormatTime(now), id)
}

func (s *Store) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update scheduled execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// MarkError records why invoking a fired execution failed.
func (s *Store) MarkError(ctx context.Context, id, msg string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE scheduled_executions SET error_message = ?, updated_at = ? WHERE id = ?
	`), msg, db.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to record execution error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type row struct {
	ID                string         `db:"id"`
	TaskID            string         `db:"task_id"`
	ProjectID         string         `db:"project_id"`
	ScheduledAt       string         `db:"scheduled_at"`
	Status            models.Status  `db:"status"`
	ExecutorProfileID string         `db:"executor_profile_id"`
	Repos             string         `db:"repos"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
	FiredAt           *string        `db:"fired_at"`
	ErrorMessage      sql.NullString `db:"error_message"`
}

func (r *row) toModel() (*models.ScheduledExecution, error) {
	e := &models.ScheduledExecution{
		ID:        r.ID,
		TaskID:    r.TaskID,
		ProjectID: r.ProjectID,
		Status:    r.Status,
	}
	var err error
	if e.ScheduledAt, err = db.ParseTime(r.ScheduledAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = db.ParseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = db.ParseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	if e.FiredAt, err = db.ParseNullTime(r.FiredAt); err != nil {
		return nil, err
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		e.ErrorMessage = &msg
	}
	if err := json.Unmarshal([]byte(r.ExecutorProfileID), &e.ExecutorProfileID); err != nil {
		return nil, fmt.Errorf("invalid executor_profile_id on %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Repos), &e.Repos); err != nil {
		return nil, fmt.Errorf("invalid repos on %s: %w", r.ID, err)
	}
	return e, nil
}
