// Package store implements the durable stores (component A): turns,
// fallback context, todos, and oauth tokens, all backed by one SQLite file
// opened through the pure-Go modernc.org/sqlite driver (no cgo). Grounded
// in original_source's history.py/todo.py for schema and semantics; the
// teacher repo has no durable-store package of its own to adapt, so the
// surrounding Go idiom (context-first methods, typed ErrStore, structured
// slog logging) follows the rest of the teacher codebase.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStore is the single error kind any store operation surfaces to its
// caller; the orchestrator treats it as a failed PROCESS cycle.
var ErrStore = errors.New("store error")

// Store owns the single SQLite connection shared by every table.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStore, path, err)
	}
	// SQLite has one writer at a time; mirror the original's single
	// long-lived connection instead of fighting it with a pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id      TEXT NOT NULL,
			user_text    TEXT NOT NULL,
			bot_response TEXT NOT NULL,
			duration_ms  INTEGER,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_chat_id ON turns(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at)`,
		`CREATE TABLE IF NOT EXISTS fallback_context (
			chat_id    TEXT PRIMARY KEY,
			stdout     TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			due_date     TEXT,
			priority     TEXT NOT NULL DEFAULT 'medium',
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_chat_id ON todos(chat_id)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			service    TEXT PRIMARY KEY,
			token_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrStore, err)
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func logStoreError(ctx context.Context, op string, err error) error {
	slog.ErrorContext(ctx, "store operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}
