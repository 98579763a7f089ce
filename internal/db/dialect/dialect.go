// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Of returns the driver name of a handle.
func Of(db *sqlx.DB) string {
	return db.DriverName()
}

// JSONExtract returns the SQL fragment to extract a top-level JSON string value.
//
//	SQLite:   json_extract(col, '$.path')
//	Postgres: col::jsonb->>'path'
func JSONExtract(driver, col, path string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s::jsonb->>'%s'", col, path)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, path)
}

// Upsert returns the conflict clause replacing the listed columns on a
// primary-key collision. Both engines accept the same syntax; the
// excluded-row alias differs in case only.
//
//	SQLite:   ON CONFLICT(key) DO UPDATE SET c = excluded.c
//	Postgres: ON CONFLICT(key) DO UPDATE SET c = EXCLUDED.c
func Upsert(driver, key string, cols ...string) string {
	alias := "excluded"
	if IsPostgres(driver) {
		alias = "EXCLUDED"
	}
	clause := fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET ", key)
	for i, c := range cols {
		if i > 0 {
			clause += ", "
		}
		clause += fmt.Sprintf("%s = %s.%s", c, alias, c)
	}
	return clause
}
