package store

import (
	"context"
	"database/sql"
	"errors"
)

// SaveToken upserts a credential blob for an external-tool collaborator
// (e.g. a future calendar/email tool). The orchestration core never reads
// this table itself; it exists so every tool collaborator shares one
// connection and one migration path.
func (s *Store) SaveToken(ctx context.Context, service, tokenJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (service, token_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(service) DO UPDATE SET token_json = excluded.token_json, updated_at = excluded.updated_at`,
		service, tokenJSON, now(),
	)
	if err != nil {
		return logStoreError(ctx, "SaveToken", err)
	}
	return nil
}

// GetToken returns the stored token blob for service, or ("", false) if
// none is present.
func (s *Store) GetToken(ctx context.Context, service string) (string, bool, error) {
	var tokenJSON string
	err := s.db.QueryRowContext(ctx, `SELECT token_json FROM oauth_tokens WHERE service = ?`, service).Scan(&tokenJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, logStoreError(ctx, "GetToken", err)
	}
	return tokenJSON, true, nil
}
