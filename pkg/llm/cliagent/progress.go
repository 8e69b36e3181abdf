package cliagent

import "strings"

// toolProgress maps a bare tool name to the progress message shown while
// the CLI subprocess is calling it. Ported from original_source's
// progress.py TOOL_PROGRESS table.
var toolProgress = map[string]string{
	"get_episodes":          "Recalling recent conversations...",
	"search_memory_facts":   "Searching memory...",
	"search_nodes":          "Looking up entities...",
	"add_memory":            "Saving to memory...",
	"todo_add":              "Adding task...",
	"todo_list":             "Checking tasks...",
	"todo_complete":         "Completing task...",
	"todo_delete":           "Removing task...",
	"calendar_list_events":  "Checking calendar...",
	"calendar_create_event": "Creating event...",
	"calendar_delete_event": "Removing event...",
	"email_list_messages":   "Checking email...",
	"email_read_message":    "Reading email...",
	"email_send_message":    "Sending email...",
	"web_search":            "Searching the web...",
	"perplexity_search":     "Researching...",
	"get_current_time":      "Checking the time...",
}

// FormatToolProgress returns the progress message for toolName and true,
// or ("", false) if the name isn't mapped. MCP tool names may carry a
// mcp__<server>__<tool> prefix, which is stripped before lookup.
func FormatToolProgress(toolName string) (string, bool) {
	name := toolName
	if strings.HasPrefix(name, "mcp__") {
		parts := strings.SplitN(name, "__", 3)
		if len(parts) == 3 {
			name = parts[2]
		}
	}
	msg, ok := toolProgress[name]
	return msg, ok
}
