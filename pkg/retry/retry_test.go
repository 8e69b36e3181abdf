package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterKFailures(t *testing.T) {
	var sleeps []time.Duration
	attempts := 0
	k := 3

	opts := Options{
		MaxRetries: k,
		Base:       time.Millisecond,
		Cap:        time.Second,
		Retriable:  func(error) bool { return true },
	}

	fn := func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= k {
			return "", errors.New("transient")
		}
		return "ok", nil
	}

	start := time.Now()
	result, err := Do(context.Background(), opts, fn)
	elapsed := time.Since(start)
	_ = sleeps

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != "ok" {
		t.Fatalf("got %q", result)
	}
	if attempts != k+1 {
		t.Fatalf("expected %d attempts, got %d", k+1, attempts)
	}
	// base=1ms, sleeps are 1,2,4ms => at least 7ms total
	if elapsed < 7*time.Millisecond {
		t.Fatalf("elapsed too short: %v", elapsed)
	}
}

func TestDoPropagatesNonRetriableImmediately(t *testing.T) {
	sentinel := errors.New("fatal")
	calls := 0
	opts := Options{
		MaxRetries: 5,
		Base:       time.Millisecond,
		Cap:        time.Second,
		Retriable:  func(err error) bool { return false },
	}
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoExhaustsRetriesIntoMaxRetriesExceeded(t *testing.T) {
	opts := Options{
		MaxRetries: 2,
		Base:       time.Millisecond,
		Cap:        time.Second,
		Retriable:  func(error) bool { return true },
	}
	attempts := 0
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("always fails")
	})
	var mre *MaxRetriesExceeded
	if !errors.As(err, &mre) {
		t.Fatalf("expected MaxRetriesExceeded, got %v", err)
	}
	if mre.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", mre.Attempts)
	}
	if attempts != 3 {
		t.Fatalf("expected fn called 3 times, got %d", attempts)
	}
}

func TestDoCapsBackoffDelay(t *testing.T) {
	opts := Options{
		MaxRetries: 3,
		Base:       50 * time.Millisecond,
		Cap:        60 * time.Millisecond,
		Retriable:  func(error) bool { return true },
	}
	start := time.Now()
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected error")
	}
	// uncapped delays would be 50,100,200ms (350ms); capped at 60 =>
	// 50+60+60=170ms. The 300ms bound lies between the two totals.
	if elapsed > 300*time.Millisecond {
		t.Fatalf("cap not applied, elapsed=%v", elapsed)
	}
}
