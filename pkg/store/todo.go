package store

import (
	"context"
	"database/sql"
)

// TodoItem is a single task record.
type TodoItem struct {
	ID          int64
	ChatID      string
	Title       string
	DueDate     string // empty if unset
	Priority    string // high | medium | low
	Status      string // pending | done
	CreatedAt   string
	CompletedAt string // empty if unset
}

// AddTodo inserts a new task and returns the persisted record.
func (s *Store) AddTodo(ctx context.Context, chatID, title, dueDate, priority string) (TodoItem, error) {
	if priority == "" {
		priority = "medium"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (chat_id, title, due_date, priority, status, created_at) VALUES (?, ?, ?, ?, 'pending', ?)`,
		chatID, title, nullable(dueDate), priority, now(),
	)
	if err != nil {
		return TodoItem{}, logStoreError(ctx, "AddTodo", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TodoItem{}, logStoreError(ctx, "AddTodo", err)
	}
	return s.getTodo(ctx, chatID, id)
}

// ListTodos returns tasks for chatID, optionally filtered by status and by
// a due-within-N-days window, ordered by priority rank (high<medium<low),
// then due_date ascending with NULLs last, then id ascending.
func (s *Store) ListTodos(ctx context.Context, chatID string, status string, daysAhead *int) ([]TodoItem, error) {
	query := `SELECT id, chat_id, title, due_date, priority, status, created_at, completed_at
	          FROM todos WHERE chat_id = ?`
	args := []any{chatID}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if daysAhead != nil {
		query += ` AND due_date IS NOT NULL AND due_date <= date('now', ? || ' days')`
		args = append(args, *daysAhead)
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
	           CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, logStoreError(ctx, "ListTodos", err)
	}
	defer rows.Close()

	var items []TodoItem
	for rows.Next() {
		item, err := scanTodo(rows)
		if err != nil {
			return nil, logStoreError(ctx, "ListTodos", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, logStoreError(ctx, "ListTodos", err)
	}
	return items, nil
}

// CompleteTodo marks a task done and returns it, or (false) if not found.
func (s *Store) CompleteTodo(ctx context.Context, chatID string, id int64) (TodoItem, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = 'done', completed_at = ? WHERE id = ? AND chat_id = ?`,
		now(), id, chatID,
	)
	if err != nil {
		return TodoItem{}, false, logStoreError(ctx, "CompleteTodo", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TodoItem{}, false, logStoreError(ctx, "CompleteTodo", err)
	}
	if n == 0 {
		return TodoItem{}, false, nil
	}
	item, err := s.getTodo(ctx, chatID, id)
	if err != nil {
		return TodoItem{}, false, err
	}
	return item, true, nil
}

// DeleteTodo removes a task, returning whether it existed.
func (s *Store) DeleteTodo(ctx context.Context, chatID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, logStoreError(ctx, "DeleteTodo", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, logStoreError(ctx, "DeleteTodo", err)
	}
	return n > 0, nil
}

func (s *Store) getTodo(ctx context.Context, chatID string, id int64) (TodoItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, title, due_date, priority, status, created_at, completed_at
		 FROM todos WHERE id = ? AND chat_id = ?`, id, chatID)
	return scanTodo(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(row scanner) (TodoItem, error) {
	var item TodoItem
	var dueDate, completedAt sql.NullString
	if err := row.Scan(&item.ID, &item.ChatID, &item.Title, &dueDate, &item.Priority, &item.Status, &item.CreatedAt, &completedAt); err != nil {
		return TodoItem{}, err
	}
	item.DueDate = dueDate.String
	item.CompletedAt = completedAt.String
	return item, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
