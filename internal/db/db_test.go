package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/common/config"
)

func TestProvideSQLiteWriterAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kanrun.db")
	pool, cleanup, err := Provide(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: path, ReaderConns: 3})
	require.NoError(t, err)
	defer func() { _ = cleanup() }()
	require.NoError(t, pool.Ping(context.Background()))
	assert.Equal(t, "sqlite3", pool.Driver())
	assert.Equal(t, 1, pool.Writer().Stats().MaxOpenConnections)
	assert.Equal(t, 3, pool.Reader().Stats().MaxOpenConnections)

	_, err = pool.Writer().Exec(`CREATE TABLE things (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = pool.Writer().Exec(`INSERT INTO things (id) VALUES ('a')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, pool.Reader().Get(&count, `SELECT COUNT(*) FROM things`))
	assert.Equal(t, 1, count)

	_, err = pool.Reader().Exec(`INSERT INTO things (id) VALUES ('b')`)
	assert.Error(t, err, "reader pool must be read-only")
	_, err = pool.Reader().Exec(`CREATE TABLE other (id TEXT)`)
	assert.Error(t, err)

	require.NoError(t, pool.Writer().Get(&count, `SELECT COUNT(*) FROM things`))
	assert.Equal(t, 1, count, "failed reader writes leave no trace")
}

func TestSQLiteReaderRejectsWritesOnEveryConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	writer, err := OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	_, err = writer.Exec(`CREATE TABLE things (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	reader, err := OpenSQLiteReader(path, SQLiteOptions{ReaderConns: 2})
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	ctx := context.Background()
	conns := make([]interface{ Close() error }, 0, 2)
	for i := 0; i < 2; i++ {
		conn, err := reader.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
		_, err = conn.ExecContext(ctx, `INSERT INTO things (id) VALUES ('x')`)
		assert.Error(t, err)
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

func TestProvideUnknownDriver(t *testing.T) {
	_, _, err := Provide(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpenSQLiteEnforcesForeignKeys(t *testing.T) {
	conn, err := OpenSQLite(filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var enabled int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestPostgresOptionDefaults(t *testing.T) {
	opts := PostgresOptions{MaxConns: 2}.withDefaults()
	assert.Equal(t, 2, opts.MaxConns)
	assert.Equal(t, 2, opts.MinConns)
	assert.Positive(t, opts.ConnMaxIdleTime)

	_, err := OpenPostgres(context.Background(), "postgres://%zz", PostgresOptions{})
	assert.Error(t, err)
}

func TestTimeFormatRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.FixedZone("x", 3600))
	s := FormatTime(in)
	assert.Equal(t, "2026-03-04T04:06:07.123456Z", s)

	out, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, out.Equal(in.Truncate(time.Microsecond)))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)

	nt, err := ParseNullTime(nil)
	require.NoError(t, err)
	assert.Nil(t, nt)
}
