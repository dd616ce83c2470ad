package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        maxRetries,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(3), func(error) bool { return true }, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithPolicy failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryNonRetriablePropagatesUnchanged(t *testing.T) {
	attempts := 0
	boom := errors.New("table not found")
	err := RetryWithPolicy(context.Background(), fastPolicy(10), func(error) bool { return false }, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RetryWithPolicy = %v, want %v", err, boom)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	const maxRetries = 3
	attempts := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(maxRetries), func(error) bool { return true }, func() error {
		attempts++
		return fmt.Errorf("transient failure %d", attempts)
	})
	if attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, maxRetries+1)
	}
	if err == nil || err.Error() != fmt.Sprintf("transient failure %d", maxRetries+1) {
		t.Errorf("err = %v, want the last recorded failure", err)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(5), func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithPolicy failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	policy := RetryPolicy{
		MaxRetries:        5,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 1,
	}
	err := RetryWithPolicy(ctx, policy, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithPolicy = %v, want context.Canceled", err)
	}
	// The first attempt runs unconditionally; cancellation is only observed
	// once a backoff sleep is due.
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestBackoffDelayStaysWithinBounds(t *testing.T) {
	policy := DefaultRetryPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := min(time.Duration(float64(policy.InitialBackoff)*pow(policy.BackoffMultiplier, attempt)), policy.MaxBackoff)
		for i := 0; i < 100; i++ {
			d := backoffDelay(policy, attempt)
			if d < 0 || d >= ceiling {
				t.Fatalf("backoffDelay(attempt=%d) = %v, want in [0, %v)", attempt, d, ceiling)
			}
		}
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
