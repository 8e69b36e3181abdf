// Package buffer implements the per-chat trailing-edge debounce buffer.
// It is a direct port of the asyncio MessageBuffer's behavior onto Go
// channels: add/signal instead of asyncio.Event, a mutex instead of
// asyncio.Lock.
package buffer

import (
	"context"
	"sync"
	"time"

	"keeper/pkg/event"
)

// Buffer holds pending events for a single chat and drains them using a
// trailing-edge debounce: the wait keeps resetting every time a new event
// arrives, so a caller only gets its batch once the chat has gone quiet
// for debounceDelay.
type Buffer struct {
	debounceDelay time.Duration

	mu     sync.Mutex
	events []event.Event

	signalMu sync.Mutex
	signalCh chan struct{}
}

// New creates an empty buffer with the given debounce window.
func New(debounceDelay time.Duration) *Buffer {
	return &Buffer{
		debounceDelay: debounceDelay,
		signalCh:      make(chan struct{}),
	}
}

// Add appends an event and wakes any waiter. Never blocks.
func (b *Buffer) Add(e event.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	b.signal()
}

// Append re-queues a batch (used to retry after a failed PROCESS cycle) and
// signals if the result is non-empty, so a blocked WaitAndDrain picks it up
// immediately rather than waiting for the next Add.
func (b *Buffer) Append(events []event.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, events...)
	nonEmpty := len(b.events) > 0
	b.mu.Unlock()
	if nonEmpty {
		b.signal()
	}
}

// IsEmpty is a snapshot predicate; no ordering guarantee beyond the moment
// it's read.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) == 0
}

func (b *Buffer) signal() {
	b.signalMu.Lock()
	defer b.signalMu.Unlock()
	select {
	case <-b.signalCh:
		// already signaled, nothing to do
	default:
		close(b.signalCh)
	}
}

// wait blocks until the next signal or ctx cancellation, consuming the
// signal (a fresh channel replaces the closed one).
func (b *Buffer) wait(ctx context.Context) error {
	b.signalMu.Lock()
	ch := b.signalCh
	b.signalMu.Unlock()

	select {
	case <-ch:
		b.signalMu.Lock()
		if b.signalCh == ch {
			b.signalCh = make(chan struct{})
		}
		b.signalMu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitTimeout blocks for at most d for the next signal. Returns true if a
// signal arrived, false on timeout. ctx cancellation also returns an error.
func (b *Buffer) waitTimeout(ctx context.Context, d time.Duration) (bool, error) {
	b.signalMu.Lock()
	ch := b.signalCh
	b.signalMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		b.signalMu.Lock()
		if b.signalCh == ch {
			b.signalCh = make(chan struct{})
		}
		b.signalMu.Unlock()
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WaitAndDrain blocks until at least one event is present, then loops
// waiting up to debounceDelay for a further signal; a silent window
// terminates the wait and the current batch is atomically taken and
// cleared.
func (b *Buffer) WaitAndDrain(ctx context.Context) ([]event.Event, error) {
	if b.IsEmpty() {
		if err := b.wait(ctx); err != nil {
			return nil, err
		}
	}

	for {
		signaled, err := b.waitTimeout(ctx, b.debounceDelay)
		if err != nil {
			return nil, err
		}
		if signaled {
			continue
		}
		return b.drain(), nil
	}
}

func (b *Buffer) drain() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.events
	b.events = nil
	return batch
}
