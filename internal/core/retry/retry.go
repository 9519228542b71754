// Package retry provides the bounded-retry-with-backoff helper every
// transactional or network-calling component in this repository composes
// with instead of hand-rolling its own loop. It generalizes the teacher's
// internal/app/core/service.RetryPolicy/Retry pair.
package retry

import (
	"context"
	"time"
)

// Policy governs retry behavior for a single call site.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Default preserves single-attempt, no-backoff behavior — safe as a
// zero-configuration policy for call sites that only want the shape, not
// the retrying.
var Default = Policy{Attempts: 1, InitialBackoff: 0, MaxBackoff: 0, Multiplier: 1}

// Busy is the policy the deployer composes transactional store operations
// with: a handful of short, lightly-backed-off attempts appropriate for
// waiting out row-level lock contention, not network partitions.
var Busy = Policy{
	Attempts:       5,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     250 * time.Millisecond,
	Multiplier:     2,
}

// Do executes fn under policy, retrying on a non-nil error until Attempts
// is exhausted or ctx is cancelled. The final error is returned. shouldRetry,
// if non-nil, is consulted before each retry so that non-retryable errors
// (e.g. validation failures) fail fast instead of exhausting the policy.
func Do(ctx context.Context, policy Policy, shouldRetry func(error) bool, fn func(context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}

	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == policy.Attempts {
			return lastErr
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			next := time.Duration(float64(backoff) * policy.Multiplier)
			if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
				next = policy.MaxBackoff
			}
			backoff = next
		}
	}
	return lastErr
}
