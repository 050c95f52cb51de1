package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the journal database at path and
// ensures required tables exist. ":memory:" opens a private in-memory
// database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := checkLocal(path, filesystemType); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocation_log (
  id              TEXT PRIMARY KEY,
  invocation_id   TEXT NOT NULL,
  correlation_id  TEXT NOT NULL,
  workspace_id    TEXT NOT NULL,
  kind            TEXT NOT NULL,
  operation       TEXT NOT NULL,
  status          TEXT NOT NULL,
  code            INTEGER NOT NULL,
  message         TEXT,
  worker_id       INTEGER,
  started_at      TEXT NOT NULL,
  completed_at    TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS message_log (
  id              TEXT PRIMARY KEY,
  invocation_id   TEXT NOT NULL,
  correlation_id  TEXT NOT NULL,
  workspace_id    TEXT NOT NULL,
  kind            TEXT NOT NULL,
  destinations    JSON,
  body            JSON,
  digest          TEXT NOT NULL,
  created_at      TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_correlation_idx ON invocation_log(correlation_id);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_completed_at_idx ON invocation_log(completed_at);`,
		`CREATE INDEX IF NOT EXISTS message_log_invocation_idx ON message_log(invocation_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
