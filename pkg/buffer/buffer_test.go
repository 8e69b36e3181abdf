package buffer

import (
	"context"
	"testing"
	"time"

	"keeper/pkg/event"
)

func mkEvent(text string) event.Event {
	return event.Event{Text: text, Timestamp: time.Now()}
}

func TestDebounceBatchMergesEventsWithinWindow(t *testing.T) {
	b := New(200 * time.Millisecond)
	ctx := context.Background()

	b.Add(mkEvent("msg1"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		b.Add(mkEvent("msg2"))
	}()

	start := time.Now()
	batch, err := b.WaitAndDrain(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("WaitAndDrain: %v", err)
	}
	if len(batch) != 2 || batch[0].Text != "msg1" || batch[1].Text != "msg2" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if elapsed < 250*time.Millisecond {
		t.Fatalf("drained too early: %v", elapsed)
	}
}

func TestIsEmptyAfterDrain(t *testing.T) {
	b := New(20 * time.Millisecond)
	ctx := context.Background()

	b.Add(mkEvent("only"))
	if _, err := b.WaitAndDrain(ctx); err != nil {
		t.Fatalf("WaitAndDrain: %v", err)
	}
	if !b.IsEmpty() {
		t.Fatalf("expected empty buffer after drain")
	}

	b.Add(mkEvent("again"))
	if b.IsEmpty() {
		t.Fatalf("expected non-empty buffer after Add")
	}
}

func TestAppendMergesWithNextDrain(t *testing.T) {
	b := New(20 * time.Millisecond)
	ctx := context.Background()

	b.Append([]event.Event{mkEvent("requeued")})
	b.Add(mkEvent("fresh"))

	batch, err := b.WaitAndDrain(ctx)
	if err != nil {
		t.Fatalf("WaitAndDrain: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected merged batch of 2, got %d: %+v", len(batch), batch)
	}
}

func TestWaitAndDrainRespectsContextCancellation(t *testing.T) {
	b := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.WaitAndDrain(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
