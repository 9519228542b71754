package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Default, nil, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
	err := Do(context.Background(), policy, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	policy := Policy{Attempts: 2, InitialBackoff: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, nil, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("Do() error = %v, want boom", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoStopsWhenShouldRetryReturnsFalse(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 5, InitialBackoff: time.Millisecond}
	err := Do(context.Background(), policy, func(error) bool { return false }, func(context.Context) error {
		calls++
		return errors.New("not retryable")
	})
	if err == nil {
		t.Fatalf("Do() should return the error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{Attempts: 5, InitialBackoff: 50 * time.Millisecond}
	calls := 0
	cancel()
	err := Do(ctx, policy, nil, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("Do() should return an error once cancelled")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 before the cancellation is observed", calls)
	}
}
