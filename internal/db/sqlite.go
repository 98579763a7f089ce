package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteOptions tunes the pools opened over one database file. Zero values
// select the defaults.
type SQLiteOptions struct {
	BusyTimeout time.Duration
	ReaderConns int
}

const (
	defaultBusyTimeout = 5 * time.Second
	defaultReaderConns = 4
)

func (o SQLiteOptions) withDefaults() SQLiteOptions {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.ReaderConns <= 0 {
		o.ReaderConns = defaultReaderConns
	}
	return o
}

// OpenSQLite opens the single-connection writer with default options.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	return OpenSQLiteWriter(dbPath, SQLiteOptions{})
}

// OpenSQLiteWriter opens the database for writes through one connection,
// creating the file and its directory when missing. Foreign keys are on so
// scheduled executions cascade with their task and project.
func OpenSQLiteWriter(dbPath string, opts SQLiteOptions) (*sql.DB, error) {
	opts = opts.withDefaults()
	path := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteFile(path); err != nil {
		return nil, fmt.Errorf("failed to prepare database file: %w", err)
	}

	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10))

	db, err := sql.Open("sqlite3", sqliteDSN(path, params))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenSQLiteReader opens a pool of read-only connections. The file must
// already exist; open the writer first. Each connection is opened with
// mode=ro and query_only, without a shared cache, so a write through it fails.
func OpenSQLiteReader(dbPath string, opts SQLiteOptions) (*sql.DB, error) {
	opts = opts.withDefaults()
	params := url.Values{}
	params.Set("mode", "ro")
	params.Set("_query_only", "1")
	params.Set("_busy_timeout", strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10))

	db, err := sql.Open("sqlite3", sqliteDSN(normalizeSQLitePath(dbPath), params))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	db.SetMaxOpenConns(opts.ReaderConns)
	db.SetMaxIdleConns(opts.ReaderConns)
	return db, nil
}

func sqliteDSN(path string, params url.Values) string {
	return "file:" + path + "?" + params.Encode()
}

func ensureSQLiteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
