package dialect_test

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/db/dialect"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, dialect.IsPostgres(dialect.PGX))
	assert.False(t, dialect.IsPostgres(dialect.SQLite3))
}

func TestJSONExtract(t *testing.T) {
	assert.Equal(t, "json_extract(profile, '$.executor')", dialect.JSONExtract(dialect.SQLite3, "profile", "executor"))
	assert.Equal(t, "profile::jsonb->>'executor'", dialect.JSONExtract(dialect.PGX, "profile", "executor"))
}

func TestUpsert(t *testing.T) {
	assert.Equal(t, "ON CONFLICT(id) DO UPDATE SET a = excluded.a, b = excluded.b", dialect.Upsert(dialect.SQLite3, "id", "a", "b"))
	assert.Equal(t, "ON CONFLICT(id) DO UPDATE SET a = EXCLUDED.a", dialect.Upsert(dialect.PGX, "id", "a"))
}

func TestJSONExtractAgainstSQLite(t *testing.T) {
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "d.db"))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(conn, dialect.SQLite3)
	defer func() { _ = sqlxDB.Close() }()

	_, err = sqlxDB.Exec(`CREATE TABLE p (doc TEXT)`)
	require.NoError(t, err)
	_, err = sqlxDB.Exec(`INSERT INTO p (doc) VALUES ('{"executor":"AMP"}')`)
	require.NoError(t, err)

	var got string
	require.NoError(t, sqlxDB.Get(&got, `SELECT `+dialect.JSONExtract(dialect.Of(sqlxDB), "doc", "executor")+` FROM p`))
	assert.Equal(t, "AMP", got)
}
