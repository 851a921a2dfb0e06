package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy bounds how a fallible operation is retried. It is a value type
// with no mutable state.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultPolicy derives a policy from the transport's retry settings.
func DefaultPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      baseDelay,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// FinalError marks a failure whose retry budget is exhausted, so callers
// record it as a permanent drop rather than re-queue.
type FinalError struct {
	Attempts int
	Err      error
}

func (e *FinalError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FinalError) Unwrap() error { return e.Err }

// Backoff returns the pre-jitter delay before the given retry. Attempts are
// 1-based; the delay grows by Multiplier and is capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) delay(attempt int) time.Duration {
	jitter := 1.0 + p.JitterFraction*(rand.Float64()-0.5)
	return time.Duration(float64(p.Backoff(attempt)) * jitter)
}

// Do invokes op, retrying transient failures per the policy. On exhausting
// the budget it returns the last error wrapped in *FinalError. The context
// cancels waits between attempts.
func Do(ctx context.Context, p Policy, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &FinalError{Attempts: attempt, Err: lastErr}
		}
	}

	return &FinalError{Attempts: p.MaxAttempts, Err: lastErr}
}
