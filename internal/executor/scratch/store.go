// Package scratch persists in-progress executor selections per draft so they
// survive reloads without committing anything.
package scratch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/db/dialect"
	"github.com/kandev/kanrun/internal/executor/models"
)

// ErrNotFound is returned when no draft exists for an id.
var ErrNotFound = errors.New("scratch config not found")

// Store is the sqlx-backed scratch config table.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewStore creates the scratch_configs table if needed.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize scratch schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scratch_configs (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the draft stored under id.
func (s *Store) Get(ctx context.Context, id string) (models.ExecutorConfig, error) {
	var raw string
	err := s.ro.QueryRowxContext(ctx, s.ro.Rebind(`SELECT config FROM scratch_configs WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutorConfig{}, ErrNotFound
	}
	if err != nil {
		return models.ExecutorConfig{}, fmt.Errorf("failed to get scratch config: %w", err)
	}
	var cfg models.ExecutorConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return models.ExecutorConfig{}, fmt.Errorf("failed to decode scratch config %s: %w", id, err)
	}
	return cfg, nil
}

// Put stores cfg under id, replacing any previous draft.
func (s *Store) Put(ctx context.Context, id string, cfg models.ExecutorConfig) error {
	if id == "" {
		return fmt.Errorf("scratch id is required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode scratch config: %w", err)
	}
	query := `INSERT INTO scratch_configs (id, config, updated_at) VALUES (?, ?, ?) ` +
		dialect.Upsert(dialect.Of(s.db), "id", "config", "updated_at")
	now := db.FormatTime(time.Now())
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), id, string(raw), now); err != nil {
		return fmt.Errorf("failed to put scratch config: %w", err)
	}
	return nil
}

// Delete removes the draft stored under id. Missing drafts are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM scratch_configs WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete scratch config: %w", err)
	}
	return nil
}
