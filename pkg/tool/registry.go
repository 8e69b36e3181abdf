// Package tool implements the tool dispatch registry (component B): a
// name→handler map with JSON-Schema-validated definitions and a uniform
// in-band error envelope, so the LLM driver can recover from a failed tool
// call without aborting the dialog. Grounded in original_source's
// tools/registry.py, reshaped around Go's static typing and the teacher's
// jsoniter-everywhere convention.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// contextKey avoids collisions with context keys from other packages.
type contextKey string

// chatIDKey carries the chat_id a tool call is being dispatched for, set
// by the orchestrator once per PROCESS phase so per-chat handlers (todos)
// don't need it threaded through every call explicitly.
const chatIDKey contextKey = "tool_chat_id"

// WithChatID returns a context carrying chatID for tool handlers to read
// back via ChatIDFromContext.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey, chatID)
}

// ChatIDFromContext retrieves the chat_id set by WithChatID, or "" if none.
func ChatIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(chatIDKey).(string)
	return v
}

// Handler executes a tool call. It may return a string (used verbatim) or
// any JSON-marshalable value (serialized by Dispatch).
type Handler func(ctx context.Context, input map[string]any) (any, error)

// Definition is the wire shape sent to the LLM backend as part of its tool
// catalog.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type entry struct {
	def     Definition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry is the process-wide tool catalog. Safe for concurrent use,
// though in practice it is populated once at startup and then only read.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register compiles inputSchema as JSON Schema and adds (or idempotently
// replaces) a tool. A malformed schema is rejected here, at startup,
// instead of surfacing as a confusing dispatch-time error later.
func (r *Registry) Register(name, description string, inputSchema map[string]any, handler Handler) error {
	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://tool/" + name
	if err := compiler.AddResource(resourceURL, inputSchema); err != nil {
		return fmt.Errorf("tool %s: invalid input schema: %w", name, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("tool %s: compiling input schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{
		def: Definition{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		schema:  schema,
		handler: handler,
	}
	return nil
}

// Definitions returns the tool catalog in the shape the LLM backend
// expects.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	return defs
}

// Dispatch executes a tool by name and always returns a string: the
// handler's result (JSON-serialized unless it is already a string), or a
// JSON `{"error": "..."}` envelope on failure.
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any) string {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		msg := fmt.Sprintf("Unknown tool: %s", name)
		slog.ErrorContext(ctx, msg)
		return errorEnvelope(msg)
	}

	if e.schema != nil {
		if err := e.schema.Validate(input); err != nil {
			msg := fmt.Sprintf("Tool %s failed: %v", name, err)
			slog.ErrorContext(ctx, "tool schema validation failed", "tool", name, "error", err)
			return errorEnvelope(msg)
		}
	}

	result, err := e.handler(ctx, input)
	if err != nil {
		msg := fmt.Sprintf("Tool %s failed: %v", name, err)
		slog.ErrorContext(ctx, "tool handler failed", "tool", name, "error", err)
		return errorEnvelope(msg)
	}

	if s, ok := result.(string); ok {
		return s
	}

	data, err := json.Marshal(result)
	if err != nil {
		msg := fmt.Sprintf("Tool %s failed: %v", name, err)
		return errorEnvelope(msg)
	}
	return string(data)
}

func errorEnvelope(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
