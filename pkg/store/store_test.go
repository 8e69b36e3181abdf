package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecentTurnsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		text := strings.Repeat("x", 1) + string(rune('0'+i))
		if err := s.SaveTurn(ctx, "chat1", "u"+text, "b"+text, 0); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "chat1", 3, 0)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	// the 3 most recent, oldest-first: ux2,ux3,ux4 (0-indexed turns 0..4)
	if turns[0].UserText != "ux2" || turns[2].UserText != "ux4" {
		t.Fatalf("unexpected order: %+v", turns)
	}
}

func TestRecentTurnsTruncation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("a", 50)
	if err := s.SaveTurn(ctx, "chat1", long, long, 0); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	turns, err := s.RecentTurns(ctx, "chat1", 10, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if len(turns[0].UserText) != 10 || len(turns[0].BotResponse) != 10 {
		t.Fatalf("expected truncation to exactly 10 chars, got %d/%d",
			len(turns[0].UserText), len(turns[0].BotResponse))
	}
}

func TestFallbackConsumeOnRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveFallback(ctx, "chat1", "recover me"); err != nil {
		t.Fatalf("SaveFallback: %v", err)
	}

	got, err := s.GetFallback(ctx, "chat1")
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if got != "recover me" {
		t.Fatalf("got %q", got)
	}

	got2, err := s.GetFallback(ctx, "chat1")
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if got2 != "" {
		t.Fatalf("expected empty on second read, got %q", got2)
	}
}

func TestFallbackOverwriteBeforeRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveFallback(ctx, "chat1", "first"); err != nil {
		t.Fatalf("SaveFallback: %v", err)
	}
	if err := s.SaveFallback(ctx, "chat1", "second"); err != nil {
		t.Fatalf("SaveFallback: %v", err)
	}
	got, err := s.GetFallback(ctx, "chat1")
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if got != "second" {
		t.Fatalf("expected overwritten value, got %q", got)
	}
}

func TestTodoOrderingByPriorityThenDueDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd := func(title, due, priority string) {
		if _, err := s.AddTodo(ctx, "chat1", title, due, priority); err != nil {
			t.Fatalf("AddTodo: %v", err)
		}
	}
	mustAdd("low task", "", "low")
	mustAdd("high no due", "", "high")
	mustAdd("high with due", "2025-01-01", "high")
	mustAdd("medium task", "", "medium")

	items, err := s.ListTodos(ctx, "chat1", "", nil)
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	if items[0].Title != "high with due" || items[1].Title != "high no due" {
		t.Fatalf("unexpected priority ordering: %+v", items)
	}
	if items[3].Title != "low task" {
		t.Fatalf("expected low task last, got %+v", items)
	}
}

func TestTodoCompleteAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, err := s.AddTodo(ctx, "chat1", "buy milk", "", "")
	if err != nil {
		t.Fatalf("AddTodo: %v", err)
	}
	if item.Priority != "medium" {
		t.Fatalf("expected default priority medium, got %q", item.Priority)
	}

	completed, ok, err := s.CompleteTodo(ctx, "chat1", item.ID)
	if err != nil || !ok {
		t.Fatalf("CompleteTodo: ok=%v err=%v", ok, err)
	}
	if completed.Status != "done" {
		t.Fatalf("expected done status, got %q", completed.Status)
	}

	deleted, err := s.DeleteTodo(ctx, "chat1", item.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteTodo: deleted=%v err=%v", deleted, err)
	}

	_, ok, err = s.CompleteTodo(ctx, "chat1", item.ID)
	if err != nil {
		t.Fatalf("CompleteTodo after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected not found after delete")
	}
}
