package store

import (
	"context"
	"database/sql"
	"errors"
)

// SaveFallback upserts the single recovery slot for chatID.
func (s *Store) SaveFallback(ctx context.Context, chatID, stdout string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fallback_context (chat_id, stdout, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET stdout = excluded.stdout, updated_at = excluded.updated_at`,
		chatID, stdout, now(),
	)
	if err != nil {
		return logStoreError(ctx, "SaveFallback", err)
	}
	return nil
}

// GetFallback atomically reads and deletes the fallback slot for chatID so
// it is injected into exactly one subsequent prompt. Returns ("", nil) if
// no fallback was pending.
func (s *Store) GetFallback(ctx context.Context, chatID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", logStoreError(ctx, "GetFallback", err)
	}
	defer tx.Rollback()

	var stdout string
	err = tx.QueryRowContext(ctx, `SELECT stdout FROM fallback_context WHERE chat_id = ?`, chatID).Scan(&stdout)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", logStoreError(ctx, "GetFallback", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fallback_context WHERE chat_id = ?`, chatID); err != nil {
		return "", logStoreError(ctx, "GetFallback", err)
	}
	if err := tx.Commit(); err != nil {
		return "", logStoreError(ctx, "GetFallback", err)
	}
	return stdout, nil
}

// ClearFallback removes any pending fallback slot for chatID without
// returning it. Used after a successful PROCESS cycle.
func (s *Store) ClearFallback(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fallback_context WHERE chat_id = ?`, chatID); err != nil {
		return logStoreError(ctx, "ClearFallback", err)
	}
	return nil
}
