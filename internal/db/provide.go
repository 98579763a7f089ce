package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/kanrun/internal/common/config"
	"github.com/kandev/kanrun/internal/db/dialect"
)

// Provide opens the writer/reader pool for the configured driver, sized from
// the database section of the config.
func Provide(ctx context.Context, cfg config.DatabaseConfig) (*Pool, func() error, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		conn, err := OpenPostgres(ctx, cfg.DSN(), PostgresOptions{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		shared := sqlx.NewDb(conn, dialect.PGX)
		pool := NewPool(shared, shared)
		return pool, pool.Close, nil
	case "", "sqlite":
		opts := SQLiteOptions{BusyTimeout: cfg.BusyTimeout(), ReaderConns: cfg.ReaderConns}
		writerConn, err := OpenSQLiteWriter(cfg.Path, opts)
		if err != nil {
			return nil, nil, err
		}
		readerConn, err := OpenSQLiteReader(cfg.Path, opts)
		if err != nil {
			_ = writerConn.Close()
			return nil, nil, err
		}
		pool := NewPool(sqlx.NewDb(writerConn, dialect.SQLite3), sqlx.NewDb(readerConn, dialect.SQLite3))
		return pool, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
