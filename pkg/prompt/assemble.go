// Package prompt assembles the single structured prompt sent to the LLM
// driver for one PROCESS cycle. It is a pure function: same inputs, same
// string, no I/O — ported directly from original_source's prompt.py,
// reshaped around Go's time/zoneinfo handling.
package prompt

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"keeper/pkg/event"
	"keeper/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemContext = `You are a personal assistant operating through a Telegram chat. Your stdout is sent directly as a Telegram message to the user.

Response rules:
- Output ONLY the message text that should be sent to the user.
- Do not add meta-commentary about what you are doing.
- Keep responses concise.
- Minimal formatting is fine, but do not rely on rich formatting the transport may not render.
- Do NOT use any file, bash, or code-editing tools. Only use the tools made available to you through the registry (MCP-style tools).`

const retrievalInstructions = `Before responding, retrieve context:
1. Call get_episodes(group_ids=["main"], max_episodes=5) to recall recent conversation episodes.
2. Call search_memory_facts(query="pending items, open tasks", group_ids=["main"]) to check for anything outstanding.
3. Optionally run a further search_nodes or search_memory_facts call if the user's message references something not yet surfaced.
4. Respond to the user.
5. Call add_memory(...) to persist a summary of this interaction: what the user said, what you responded, any actions taken, and any pending items.`

// FallbackHeader is the literal leading text placed before a consumed
// fallback blob; testable property requires this exact substring.
const FallbackHeader = "Previous interaction context (retry after failure):\n"

// Options carries everything needed to build one prompt.
type Options struct {
	ChatID   string
	History  []store.Turn
	Events   []event.Event
	Fallback string // empty if none was consumed this cycle
	TimeZone string // IANA zone name; falls back to UTC if unresolvable
	Now      time.Time
}

// Build composes the five ordered sections, joined by blank lines.
func Build(opts Options) string {
	sections := []string{buildSystemSection(opts)}

	if len(opts.History) > 0 {
		sections = append(sections, buildHistorySection(opts.History))
	}

	sections = append(sections, retrievalInstructions)
	sections = append(sections, buildEventsSection(opts.Events))

	if opts.Fallback != "" {
		sections = append(sections, FallbackHeader+opts.Fallback)
	}

	return strings.Join(sections, "\n\n")
}

func buildSystemSection(opts Options) string {
	loc := time.UTC
	zoneName := "UTC"
	if opts.TimeZone != "" {
		if l, err := time.LoadLocation(opts.TimeZone); err == nil {
			loc = l
			zoneName = opts.TimeZone
		}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return fmt.Sprintf("%s\n\nCurrent date/time (%s): %s\nChat ID: %s",
		systemContext, zoneName, now.In(loc).Format(time.RFC3339), opts.ChatID)
}

func buildHistorySection(turns []store.Turn) string {
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, t := range turns {
		b.WriteString("\nUser: ")
		b.WriteString(t.UserText)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.BotResponse)
	}
	return b.String()
}

func buildEventsSection(events []event.Event) string {
	items := make([]event.MarshalPromptItem, len(events))
	for i, e := range events {
		items[i] = e.PromptItem()
	}
	data, _ := json.MarshalIndent(items, "", "  ")
	return "New message(s) from the user:\n" + string(data)
}
