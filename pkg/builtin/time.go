package builtin

import (
	"context"
	"fmt"
	"time"

	"keeper/pkg/tool"
)

// RegisterTimeTool wires get_current_time, defaulting to defaultTimezone
// when the caller doesn't specify one.
func RegisterTimeTool(registry *tool.Registry, defaultTimezone string) error {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}

	return registry.Register("get_current_time",
		"Get the current date and time in the user's timezone.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string", "default": defaultTimezone},
			},
		},
		handleGetCurrentTime(defaultTimezone),
	)
}

func handleGetCurrentTime(defaultTimezone string) tool.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		tzName, _ := input["timezone"].(string)
		if tzName == "" {
			tzName = defaultTimezone
		}

		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return map[string]any{"error": fmt.Sprintf("Unknown timezone: %s", tzName)}, nil
		}

		now := time.Now().In(loc)
		return map[string]any{
			"datetime": now.Format(time.RFC3339),
			"date":     now.Format("Monday, January 2, 2006"),
			"time":     now.Format("03:04 PM"),
			"timezone": tzName,
		}, nil
	}
}
