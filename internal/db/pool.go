package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pool pairs the handle stores write through with the handle they read
// through. On SQLite the writer is one connection and the reader a read-only
// pool over the same WAL file; on Postgres both are the same handle.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps writer and reader. Pass the same handle twice when the
// driver pools connections itself.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

func (p *Pool) Writer() *sqlx.DB { return p.writer }

func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the sqlx driver name shared by both handles.
func (p *Pool) Driver() string { return p.writer.DriverName() }

func (p *Pool) shared() bool { return p.reader == p.writer }

// Ping checks both handles.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.writer.PingContext(ctx); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if p.shared() {
		return nil
	}
	if err := p.reader.PingContext(ctx); err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	return nil
}

// Close closes the reader first so the writer is the last connection to the
// file and can checkpoint the WAL.
func (p *Pool) Close() error {
	if p.shared() {
		return p.writer.Close()
	}
	return errors.Join(p.reader.Close(), p.writer.Close())
}
