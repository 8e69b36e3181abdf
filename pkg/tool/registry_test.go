package tool

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	got := r.Dispatch(context.Background(), "nope", nil)
	want := `{"error":"Unknown tool: nope"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := NewRegistry()
	err := r.Register("boom", "always fails", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		return nil, errors.New("kaboom")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got := r.Dispatch(context.Background(), "boom", map[string]any{})
	want := `{"error":"Tool boom failed: kaboom"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDispatchStructuredSuccess(t *testing.T) {
	r := NewRegistry()
	err := r.Register("echo", "echoes input", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}, func(ctx context.Context, input map[string]any) (any, error) {
		return map[string]any{"echoed": input["text"]}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got := r.Dispatch(context.Background(), "echo", map[string]any{"text": "hi"})
	want := `{"echoed":"hi"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDispatchStringResultPassedThrough(t *testing.T) {
	r := NewRegistry()
	err := r.Register("raw", "returns raw string", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		return "already a string", nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got := r.Dispatch(context.Background(), "raw", map[string]any{})
	if got != "already a string" {
		t.Fatalf("got %q", got)
	}
}

func TestDefinitionsIncludesRegisteredTool(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("thing", "a thing", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		return "", nil
	})
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Name != "thing" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}
