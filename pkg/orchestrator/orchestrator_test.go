package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keeper/pkg/event"
	"keeper/pkg/llm"
	"keeper/pkg/store"
	"keeper/pkg/tool"
)

// fakeTransport records every Send/SendTyping call, keyed by chat_id, so a
// test can assert what the orchestrator said back without a real channel.
type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]string)}
}

func (f *fakeTransport) Send(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeTransport) SendTyping(ctx context.Context, chatID string) error { return nil }

func (f *fakeTransport) messages(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent[chatID]))
	copy(out, f.sent[chatID])
	return out
}

// fakeClient is an llm.Client whose StreamChat is driven by a caller-supplied
// function keyed by call index, so tests can script per-call sequences of
// success and failure without a real backend.
type fakeClient struct {
	calls     int32
	stream    func(call int) (llm.StreamChunk, error)
	transient bool
}

func (c *fakeClient) Provider() string { return "fake" }

func (c *fakeClient) IsTransientError(err error) bool { return c.transient && err != nil }

func (c *fakeClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	call := int(atomic.AddInt32(&c.calls, 1)) - 1
	chunk, err := c.stream(call)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- chunk
	close(ch)
	return ch, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func textChunk(text string) llm.StreamChunk {
	c := llm.NewTextChunk(text)
	c.IsFinal = true
	c.FinishReason = llm.StopReasonStop
	return c
}

// waitFor polls pred until it's true or the deadline passes, failing the
// test otherwise. Orchestrator work driven through HandleEvent runs on its
// own goroutine, so tests observe completion this way instead of sleeping a
// guessed duration.
func waitFor(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !pred() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// TestHandleEvent_SerializesPerChat exercises §8.3's invariant: at most one
// PROCESS phase runs for a given chat_id at any moment, even when several
// batches queue up back to back.
func TestHandleEvent_SerializesPerChat(t *testing.T) {
	st := openTestStore(t)
	transport := newFakeTransport()

	var mu sync.Mutex
	var concurrent, maxConcurrent int32

	client := &fakeClient{stream: func(call int) (llm.StreamChunk, error) {
		cur := atomic.AddInt32(&concurrent, 1)
		mu.Lock()
		if cur > maxConcurrent {
			maxConcurrent = cur
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return textChunk("ok"), nil
	}}

	orch := New(context.Background(), st, tool.NewRegistry(), client, transport, 5, "UTC", 10*time.Millisecond)

	const batches = 5
	for i := 0; i < batches; i++ {
		orch.HandleEvent(event.Event{ChatID: "chat1", Text: "hello", Timestamp: time.Now()})
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(transport.messages("chat1")) > 0
	})

	mu.Lock()
	got := maxConcurrent
	mu.Unlock()
	if got > 1 {
		t.Fatalf("expected at most one PROCESS phase in flight for a single chat_id, saw %d concurrently", got)
	}
}

// TestHandleEvent_DistinctChatsRunConcurrently is the converse check: the
// per-chat serialization must not become a global lock.
func TestHandleEvent_DistinctChatsRunConcurrently(t *testing.T) {
	st := openTestStore(t)
	transport := newFakeTransport()

	release := make(chan struct{})
	var inFlight, maxConcurrent int32
	var mu sync.Mutex

	client := &fakeClient{stream: func(call int) (llm.StreamChunk, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if cur > maxConcurrent {
			maxConcurrent = cur
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&inFlight, -1)
		return textChunk("ok"), nil
	}}

	orch := New(context.Background(), st, tool.NewRegistry(), client, transport, 5, "UTC", 5*time.Millisecond)

	orch.HandleEvent(event.Event{ChatID: "chatA", Text: "hi", Timestamp: time.Now()})
	orch.HandleEvent(event.Event{ChatID: "chatB", Text: "hi", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return maxConcurrent == 2
	})
	close(release)

	waitFor(t, time.Second, func() bool {
		return len(transport.messages("chatA")) > 0 && len(transport.messages("chatB")) > 0
	})
}

// TestProcessBatch_SavesFallbackOnFailureAndClearsOnSuccess drives
// processBatch directly (synchronously, no goroutine) so the fallback
// round-trip can be asserted without racing the orchestrator's own next
// attempt over the same destructive-read fallback row.
func TestProcessBatch_SavesFallbackOnFailureAndClearsOnSuccess(t *testing.T) {
	st := openTestStore(t)
	transport := newFakeTransport()

	client := &fakeClient{stream: func(call int) (llm.StreamChunk, error) {
		if call == 0 {
			return llm.StreamChunk{}, errors.New("boom")
		}
		return textChunk("recovered"), nil
	}}

	orch := New(context.Background(), st, tool.NewRegistry(), client, transport, 5, "UTC", 5*time.Millisecond)
	cs := orch.chatStateFor("chat1")
	events := []event.Event{{ChatID: "chat1", Text: "first", Timestamp: time.Now()}}

	orch.processBatch("chat1", cs, events)

	fb, err := st.GetFallback(context.Background(), "chat1")
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if !strings.Contains(fb, "first") {
		t.Fatalf("expected fallback blob to carry the failed message, got %q", fb)
	}
	cs.mu.Lock()
	streak := cs.failureStreak
	cs.mu.Unlock()
	if streak != 1 {
		t.Fatalf("expected failure streak 1 after one failure, got %d", streak)
	}

	orch.processBatch("chat1", cs, events)

	msgs := transport.messages("chat1")
	if len(msgs) == 0 || msgs[len(msgs)-1] != "recovered" {
		t.Fatalf("expected the recovered response to be sent, got %v", msgs)
	}

	cleared, err := st.GetFallback(context.Background(), "chat1")
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if cleared != "" {
		t.Fatalf("expected fallback to be cleared after a successful cycle, got %q", cleared)
	}
	cs.mu.Lock()
	streak = cs.failureStreak
	cs.mu.Unlock()
	if streak != 0 {
		t.Fatalf("expected failure streak reset to 0 after success, got %d", streak)
	}
}

// TestProcessBatch_ThirdConsecutiveFailureSendsApologyAndResetsStreak covers
// the three-strikes contract: a third consecutive failure must produce the
// fixed apology (containing "trouble") and reset the streak rather than
// compounding indefinitely.
func TestProcessBatch_ThirdConsecutiveFailureSendsApologyAndResetsStreak(t *testing.T) {
	st := openTestStore(t)
	transport := newFakeTransport()

	client := &fakeClient{stream: func(call int) (llm.StreamChunk, error) {
		return llm.StreamChunk{}, errors.New("always fails")
	}}

	orch := New(context.Background(), st, tool.NewRegistry(), client, transport, 5, "UTC", 5*time.Millisecond)
	cs := orch.chatStateFor("chat1")
	events := []event.Event{{ChatID: "chat1", Text: "msg", Timestamp: time.Now()}}

	restoreBackoff := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = restoreBackoff })

	orch.processBatch("chat1", cs, events)
	orch.processBatch("chat1", cs, events)
	if len(transport.messages("chat1")) != 0 {
		t.Fatalf("apology must not fire before the third consecutive failure")
	}

	orch.processBatch("chat1", cs, events)

	msgs := transport.messages("chat1")
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], "trouble") {
		t.Fatalf("expected the fixed apology containing %q, got %v", "trouble", msgs)
	}

	cs.mu.Lock()
	streak := cs.failureStreak
	cs.mu.Unlock()
	if streak != 0 {
		t.Fatalf("expected failure streak reset to 0 after the apology, got %d", streak)
	}
}
