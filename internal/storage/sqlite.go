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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
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
		`CREATE TABLE IF NOT EXISTS procedures (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL,
  webhook_enabled INTEGER NOT NULL DEFAULT 1,
  webhook_secret  TEXT NOT NULL DEFAULT '',
  updated_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS stacks (
  id                   TEXT PRIMARY KEY,
  name                 TEXT NOT NULL,
  branch               TEXT NOT NULL DEFAULT 'main',
  webhook_enabled      INTEGER NOT NULL DEFAULT 1,
  webhook_secret       TEXT NOT NULL DEFAULT '',
  webhook_force_deploy INTEGER NOT NULL DEFAULT 0,
  updated_at           TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS updates (
  id             TEXT PRIMARY KEY,
  operation      TEXT NOT NULL,
  target_kind    TEXT NOT NULL,
  target_id      TEXT NOT NULL,
  operator       TEXT NOT NULL,
  status         TEXT NOT NULL,
  payload_digest TEXT,
  created_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS execution_queue (
  id           TEXT PRIMARY KEY,
  operation    TEXT NOT NULL,
  target_kind  TEXT NOT NULL,
  target_id    TEXT NOT NULL,
  update_id    TEXT NOT NULL REFERENCES updates(id),
  payload      JSON,
  status       TEXT NOT NULL,
  submitted_by TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  started_at   TEXT,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS execution_log (
  id           TEXT PRIMARY KEY,
  operation    TEXT NOT NULL,
  target_kind  TEXT NOT NULL,
  target_id    TEXT NOT NULL,
  update_id    TEXT NOT NULL,
  status       TEXT NOT NULL,
  submitted_by TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS updates_target_idx ON updates(target_kind, target_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS execution_queue_status_created_at_idx ON execution_queue(status, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
