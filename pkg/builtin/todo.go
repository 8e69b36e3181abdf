// Package builtin registers the tool handlers concretely implemented by
// this gateway (component L): the todo list, current-time, and long-term
// memory tools. Schemas and handler semantics are ported from
// original_source's tools/todo.py, tools/time.py, and tools/memory.py;
// the registration call style follows the teacher's pkg/tools convention
// of one Register*Tools function per concern.
package builtin

import (
	"context"
	"fmt"

	"keeper/pkg/store"
	"keeper/pkg/tool"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RegisterTodoTools wires todo_add/todo_list/todo_complete/todo_delete
// against st, scoping every operation to the calling chat via
// tool.ChatIDFromContext.
func RegisterTodoTools(registry *tool.Registry, st *store.Store) error {
	if err := registry.Register("todo_add",
		"Add a new task to the user's todo list. Use for reminders, tasks, and planning.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":    map[string]any{"type": "string", "description": "Task title or description"},
				"due_date": map[string]any{"type": "string", "description": "Due date in YYYY-MM-DD format (optional)"},
				"priority": map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}, "description": "Task priority", "default": "medium"},
			},
			"required": []string{"title"},
		},
		handleTodoAdd(st),
	); err != nil {
		return err
	}

	if err := registry.Register("todo_list",
		"List tasks from the user's todo list. Can filter by status (pending/done) and due date.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":     map[string]any{"type": "string", "enum": []string{"pending", "done"}, "description": "Filter by status. Omit to show all."},
				"days_ahead": map[string]any{"type": "integer", "description": "Only show tasks due within this many days"},
			},
		},
		handleTodoList(st),
	); err != nil {
		return err
	}

	if err := registry.Register("todo_complete",
		"Mark a task as completed on the user's todo list.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"todo_id": map[string]any{"type": "integer", "description": "The task ID to mark as done"}},
			"required":   []string{"todo_id"},
		},
		handleTodoComplete(st),
	); err != nil {
		return err
	}

	return registry.Register("todo_delete",
		"Delete a task from the user's todo list.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"todo_id": map[string]any{"type": "integer", "description": "The task ID to delete"}},
			"required":   []string{"todo_id"},
		},
		handleTodoDelete(st),
	)
}

func handleTodoAdd(st *store.Store) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		title, _ := input["title"].(string)
		if title == "" {
			return nil, fmt.Errorf("title is required")
		}
		dueDate, _ := input["due_date"].(string)
		priority, _ := input["priority"].(string)

		item, err := st.AddTodo(ctx, chatID(ctx), title, dueDate, priority)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status": "created", "todo_id": item.ID, "title": item.Title,
			"due_date": item.DueDate, "priority": item.Priority,
		}, nil
	}
}

func handleTodoList(st *store.Store) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		status, _ := input["status"].(string)

		var daysAhead *int
		if v, ok := input["days_ahead"].(float64); ok {
			n := int(v)
			daysAhead = &n
		}

		items, err := st.ListTodos(ctx, chatID(ctx), status, daysAhead)
		if err != nil {
			return nil, err
		}

		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			out = append(out, map[string]any{
				"todo_id": item.ID, "title": item.Title, "due_date": item.DueDate,
				"priority": item.Priority, "status": item.Status,
				"created_at": item.CreatedAt, "completed_at": item.CompletedAt,
			})
		}
		return out, nil
	}
}

func handleTodoComplete(st *store.Store) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		id, err := todoID(input)
		if err != nil {
			return nil, err
		}
		item, found, err := st.CompleteTodo(ctx, chatID(ctx), id)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"error": fmt.Sprintf("Todo #%d not found", id)}, nil
		}
		return map[string]any{"status": "completed", "todo_id": item.ID, "title": item.Title}, nil
	}
}

func handleTodoDelete(st *store.Store) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		id, err := todoID(input)
		if err != nil {
			return nil, err
		}
		deleted, err := st.DeleteTodo(ctx, chatID(ctx), id)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return map[string]any{"error": fmt.Sprintf("Todo #%d not found", id)}, nil
		}
		return map[string]any{"status": "deleted", "todo_id": id}, nil
	}
}

func todoID(input map[string]any) (int64, error) {
	v, ok := input["todo_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("todo_id is required")
	}
	return int64(v), nil
}

func chatID(ctx context.Context) string {
	if id := tool.ChatIDFromContext(ctx); id != "" {
		return id
	}
	return "default"
}
