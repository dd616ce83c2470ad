package client

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds the retry loop wrapped around every RPC.
type RetryPolicy struct {
	// MaxRetries is the number of re-attempts after the first try.
	MaxRetries int
	// InitialBackoff seeds the exponential backoff schedule.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff ceiling.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the ceiling per recorded failure.
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the policy used when the caller supplies none:
// up to 15 retries with a jittered ceiling growing 50ms, 200ms, 800ms, ...
// capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        15,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 4,
	}
}

// retryState tracks one retry loop invocation. It is owned by that
// invocation only and never shared across operations.
type retryState struct {
	lastErr error
	count   int
	done    bool
}

func (s *retryState) recordFailure(err error) {
	s.lastErr = err
	s.count++
}

// RetryWithPolicy runs op until it succeeds, fails with an error canRetry
// rejects, or the policy's attempt budget is spent. Retriable failures are
// swallowed and recorded; non-retriable errors propagate unmodified. The
// first attempt runs immediately, every later attempt sleeps a uniformly
// random duration below the current backoff ceiling. Attempts are strictly
// sequential. On exhaustion the last recorded error is returned.
func RetryWithPolicy(ctx context.Context, policy RetryPolicy, canRetry func(error) bool, op func() error) error {
	state := &retryState{}
	for {
		if state.done {
			return nil
		}
		if state.count > policy.MaxRetries {
			if state.lastErr != nil {
				return state.lastErr
			}
			// Unreachable with the loop below, kept as a guard.
			return ErrRetryExhausted
		}
		if state.count > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(policy, state.count)):
			}
		}
		err := op()
		if err == nil {
			state.done = true
			continue
		}
		if !canRetry(err) {
			return err
		}
		state.recordFailure(err)
	}
}

// backoffDelay picks a random delay in [0, min(initial*multiplier^attempt, max)).
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	ceiling := float64(policy.InitialBackoff) * math.Pow(policy.BackoffMultiplier, float64(attempt))
	if limit := float64(policy.MaxBackoff); ceiling > limit {
		ceiling = limit
	}
	if ceiling < 1 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}
