package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 3}, AlwaysRetryable, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	err := Do(context.Background(), cfg, AlwaysRetryable, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	notRetryable := errors.New("fatal")
	err := Do(context.Background(), Config{MaxRetries: 5}, func(err error) bool {
		return err != notRetryable
	}, func(ctx context.Context) error {
		calls++
		return notRetryable
	})
	if !errors.Is(err, notRetryable) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Config{MaxRetries: 3}, AlwaysRetryable, func(ctx context.Context) error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff2Pow(t *testing.T) {
	cases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	}
	for n, want := range cases {
		if got := Backoff2Pow(n); got != want {
			t.Errorf("Backoff2Pow(%d) = %v, want %v", n, got, want)
		}
	}
}
