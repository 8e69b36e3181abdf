package builtin

import (
	"context"

	"keeper/pkg/memory"
	"keeper/pkg/tool"
)

// RegisterMemoryTools wires the 4 Graphiti-backed long-term memory tools:
// get_episodes, search_memory_facts, search_nodes, add_memory. Each
// handler just forwards to client.Call and passes the backend's raw text
// result straight back to the LLM, matching original_source's
// pass-through-JSON convention in tools/memory.py.
func RegisterMemoryTools(registry *tool.Registry, client *memory.Client) error {
	if err := registry.Register("get_episodes",
		"Retrieve the most recent conversation episodes from long-term memory. Use this at the start of every interaction to get recent context.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"group_ids":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Memory group IDs to search", "default": []string{"main"}},
				"max_episodes": map[string]any{"type": "integer", "description": "Maximum number of episodes to retrieve", "default": 5},
			},
		},
		forwardTo(client, "get_episodes"),
	); err != nil {
		return err
	}

	if err := registry.Register("search_memory_facts",
		"Search long-term memory for facts and relationships. Use for finding pending tasks, user preferences, past decisions, or any specific topic.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":     map[string]any{"type": "string", "description": "Natural language search query"},
				"group_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "default": []string{"main"}},
			},
			"required": []string{"query"},
		},
		forwardTo(client, "search_memory_facts"),
	); err != nil {
		return err
	}

	if err := registry.Register("search_nodes",
		"Search for entities (people, projects, topics) in long-term memory. Use when you need to know about a specific entity or topic.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":     map[string]any{"type": "string", "description": "Entity or topic to search for"},
				"group_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "default": []string{"main"}},
			},
			"required": []string{"query"},
		},
		forwardTo(client, "search_nodes"),
	); err != nil {
		return err
	}

	return registry.Register("add_memory",
		"Save a conversation summary to long-term memory. Call this after every interaction with a summary of: what the user said, what you responded, actions taken, and pending items.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":         map[string]any{"type": "string", "description": "Short descriptive name for this memory episode"},
				"episode_body": map[string]any{"type": "string", "description": "Free-form text summary of the interaction"},
				"group_id":     map[string]any{"type": "string", "default": "main"},
				"source":       map[string]any{"type": "string", "default": "text"},
			},
			"required": []string{"name", "episode_body"},
		},
		forwardTo(client, "add_memory"),
	)
}

func forwardTo(client *memory.Client, name string) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		text, err := client.Call(ctx, name, input)
		if err != nil {
			return nil, err
		}
		return text, nil
	}
}
