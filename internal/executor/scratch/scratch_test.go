package scratch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/executor/models"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbConn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(dbConn, "sqlite3")
	t.Cleanup(func() { _ = sqlxDB.Close() })
	store, err := NewStore(sqlxDB, sqlxDB)
	require.NoError(t, err)
	return store
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	_, err := store.Get(ctx, "draft-1")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := models.ExecutorConfig{
		Executor:    models.AgentCodex,
		Variant:     models.StringPtr("HIGH"),
		ModelID:     models.StringPtr("openai/gpt-5"),
		ReasoningID: models.StringPtr("high"),
	}
	require.NoError(t, store.Put(ctx, "draft-1", cfg))
	got, err := store.Get(ctx, "draft-1")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	cfg.ReasoningID = nil
	require.NoError(t, store.Put(ctx, "draft-1", cfg))
	got, err = store.Get(ctx, "draft-1")
	require.NoError(t, err)
	assert.Nil(t, got.ReasoningID)

	require.NoError(t, store.Delete(ctx, "draft-1"))
	_, err = store.Get(ctx, "draft-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "draft-1"))
}

func TestStorePutRequiresID(t *testing.T) {
	store := createTestStore(t)
	assert.Error(t, store.Put(context.Background(), "", models.ExecutorConfig{}))
}

type countingStore struct {
	mu   sync.Mutex
	puts map[string][]models.ExecutorConfig
	err  error
}

func newCountingStore() *countingStore {
	return &countingStore{puts: make(map[string][]models.ExecutorConfig)}
}

func (s *countingStore) Get(ctx context.Context, id string) (models.ExecutorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	puts := s.puts[id]
	if len(puts) == 0 {
		return models.ExecutorConfig{}, ErrNotFound
	}
	return puts[len(puts)-1], nil
}

func (s *countingStore) Put(ctx context.Context, id string, cfg models.ExecutorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.puts[id] = append(s.puts[id], cfg)
	return nil
}

func (s *countingStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.puts, id)
	return nil
}

func (s *countingStore) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts[id])
}

func TestWriterDebouncesToLastValue(t *testing.T) {
	store := newCountingStore()
	w := NewWriter(store, 30*time.Millisecond, logger.NewNop())

	for _, m := range []string{"a", "b", "c"} {
		w.Put("draft", models.ExecutorConfig{Executor: models.AgentCodex, ModelID: models.StringPtr(m)})
	}
	got, err := w.Get(context.Background(), "draft")
	require.NoError(t, err)
	assert.Equal(t, "c", *got.ModelID, "pending value is visible before the write")

	require.Eventually(t, func() bool { return store.count("draft") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.count("draft"))

	got, err = store.Get(context.Background(), "draft")
	require.NoError(t, err)
	assert.Equal(t, "c", *got.ModelID)
	require.NoError(t, w.Close(context.Background()))
}

func TestWriterFlushAndClose(t *testing.T) {
	store := newCountingStore()
	w := NewWriter(store, time.Hour, logger.NewNop())

	w.Put("one", models.ExecutorConfig{Executor: models.AgentAmp})
	w.Put("two", models.ExecutorConfig{Executor: models.AgentGemini})
	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, 1, store.count("one"))
	assert.Equal(t, 1, store.count("two"))

	w.Put("three", models.ExecutorConfig{Executor: models.AgentAmp})
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 1, store.count("three"))

	w.Put("four", models.ExecutorConfig{Executor: models.AgentAmp})
	assert.Equal(t, 0, w.Pending(), "closed writer ignores puts")
}

func TestWriterDeleteDropsPending(t *testing.T) {
	store := newCountingStore()
	w := NewWriter(store, time.Hour, logger.NewNop())

	w.Put("draft", models.ExecutorConfig{Executor: models.AgentAmp})
	require.NoError(t, w.Delete(context.Background(), "draft"))
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 0, store.count("draft"))
}

func TestWriterFlushReportsErrors(t *testing.T) {
	store := newCountingStore()
	store.err = errors.New("disk full")
	w := NewWriter(store, time.Hour, logger.NewNop())

	w.Put("draft", models.ExecutorConfig{Executor: models.AgentAmp})
	err := w.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
