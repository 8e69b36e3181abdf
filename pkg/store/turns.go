package store

import (
	"context"
)

// Turn is an append-only conversation record. Once inserted, never mutated.
type Turn struct {
	ID          int64
	ChatID      string
	UserText    string
	BotResponse string
	DurationMs  int64
	CreatedAt   string
}

// SaveTurn appends a new turn. DurationMs may be zero if not measured.
func (s *Store) SaveTurn(ctx context.Context, chatID, userText, botResponse string, durationMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (chat_id, user_text, bot_response, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		chatID, userText, botResponse, durationMs, now(),
	)
	if err != nil {
		return logStoreError(ctx, "SaveTurn", err)
	}
	return nil
}

// RecentTurns returns the most recent limit turns for chatID in
// oldest-first order, with each text field truncated to maxChars.
func (s *Store) RecentTurns(ctx context.Context, chatID string, limit, maxChars int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, user_text, bot_response, duration_ms, created_at
		 FROM turns WHERE chat_id = ? ORDER BY id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, logStoreError(ctx, "RecentTurns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ChatID, &t.UserText, &t.BotResponse, &t.DurationMs, &t.CreatedAt); err != nil {
			return nil, logStoreError(ctx, "RecentTurns", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, logStoreError(ctx, "RecentTurns", err)
	}

	// reverse to oldest-first, truncating as we go
	result := make([]Turn, len(turns))
	for i, t := range turns {
		t.UserText = truncate(t.UserText, maxChars)
		t.BotResponse = truncate(t.BotResponse, maxChars)
		result[len(turns)-1-i] = t
	}
	return result, nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
