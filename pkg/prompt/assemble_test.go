package prompt

import (
	"strings"
	"testing"
	"time"

	"keeper/pkg/event"
	"keeper/pkg/store"
)

func TestBuildIncludesAllSectionsInOrder(t *testing.T) {
	opts := Options{
		ChatID: "42",
		History: []store.Turn{
			{UserText: "hi", BotResponse: "hello"},
		},
		Events: []event.Event{
			{Text: "how's the weather?", FromName: "alice", Timestamp: time.Now()},
		},
		Fallback: "previous attempt failed",
		TimeZone: "UTC",
		Now:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	out := Build(opts)

	idxSystem := strings.Index(out, "Chat ID: 42")
	idxHistory := strings.Index(out, "Recent conversation:")
	idxRetrieval := strings.Index(out, "get_episodes")
	idxEvents := strings.Index(out, "New message(s) from the user:")
	idxFallback := strings.Index(out, FallbackHeader)

	if idxSystem < 0 || idxHistory < 0 || idxRetrieval < 0 || idxEvents < 0 || idxFallback < 0 {
		t.Fatalf("missing section(s) in output:\n%s", out)
	}
	if !(idxSystem < idxHistory && idxHistory < idxRetrieval && idxRetrieval < idxEvents && idxEvents < idxFallback) {
		t.Fatalf("sections out of order:\n%s", out)
	}
	if !strings.Contains(out, "Previous interaction context (retry after failure):\nprevious attempt failed") {
		t.Fatalf("fallback section malformed:\n%s", out)
	}
}

func TestBuildOmitsHistoryWhenEmpty(t *testing.T) {
	opts := Options{
		ChatID: "1",
		Events: []event.Event{{Text: "hey", FromName: "bob", Timestamp: time.Now()}},
		Now:    time.Now(),
	}
	out := Build(opts)
	if strings.Contains(out, "Recent conversation:") {
		t.Fatalf("did not expect history section:\n%s", out)
	}
}

func TestBuildOmitsFallbackWhenAbsent(t *testing.T) {
	opts := Options{
		ChatID: "1",
		Events: []event.Event{{Text: "hey", FromName: "bob", Timestamp: time.Now()}},
		Now:    time.Now(),
	}
	out := Build(opts)
	if strings.Contains(out, FallbackHeader) {
		t.Fatalf("did not expect fallback section:\n%s", out)
	}
}

func TestBuildIsPure(t *testing.T) {
	opts := Options{
		ChatID:  "7",
		Events:  []event.Event{{Text: "x", FromName: "y", Timestamp: time.Unix(0, 0)}},
		Now:     time.Unix(100, 0),
		TimeZone: "UTC",
	}
	a := Build(opts)
	b := Build(opts)
	if a != b {
		t.Fatalf("Build is not pure:\n%s\n---\n%s", a, b)
	}
}

func TestBuildEventsSectionContainsAllTexts(t *testing.T) {
	opts := Options{
		ChatID: "1",
		Events: []event.Event{
			{Text: "hey", FromName: "a", Timestamp: time.Now()},
			{Text: "how's the weather?", FromName: "a", Timestamp: time.Now()},
			{Text: "also check my calendar", FromName: "a", Timestamp: time.Now()},
		},
		Now: time.Now(),
	}
	out := Build(opts)
	for _, want := range []string{"hey", "how's the weather?", "also check my calendar"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected prompt to contain %q:\n%s", want, out)
		}
	}
}
