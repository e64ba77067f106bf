// Package migrations applies Muteacle's SQL schema (the configs,
// hashers, hasher_types and log tables from the spec's persistence
// layout) using goose, grounded on the teacher's own
// internal/infrastructure/migrations manager. Two embedded migration
// sets are provided, one per supported SQL dialect.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// UpSQLite applies every pending sqlite migration to db.
func UpSQLite(db *sql.DB) error {
	return apply(db, "sqlite3", sqliteFS, "sqlite")
}

// UpPostgres applies every pending postgres migration to db.
func UpPostgres(db *sql.DB) error {
	return apply(db, "postgres", postgresFS, "postgres")
}

func apply(db *sql.DB, dialect string, fsys embed.FS, dir string) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: set dialect %s: %w", dialect, err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("migrations: up (%s): %w", dialect, err)
	}
	return nil
}
