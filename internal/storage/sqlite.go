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

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

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

// BootstrapSQLite creates the journal tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS buffer_log (
  id          TEXT PRIMARY KEY,
  action      TEXT NOT NULL,
  buffer_id   INTEGER NOT NULL,
  size        INTEGER NOT NULL,
  shared      INTEGER NOT NULL DEFAULT 0,
  total_bytes INTEGER NOT NULL,
  at          TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS fault_log (
  id     TEXT PRIMARY KEY,
  kind   TEXT NOT NULL,
  code   INTEGER NOT NULL,
  put    INTEGER NOT NULL,
  get_   INTEGER NOT NULL,
  token  INTEGER NOT NULL,
  at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS buffer_log_at_idx ON buffer_log(at);`,
		`CREATE INDEX IF NOT EXISTS fault_log_kind_at_idx ON fault_log(kind, at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
