// Package resilience bounds delivery work: a hard per-attempt time budget
// and a per-destination breaker that stops hammering endpoints that keep
// failing at the transport level.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptTimeout is returned when a delivery attempt exceeds its budget.
var ErrAttemptTimeout = errors.New("delivery attempt timed out")

// WithTimeout runs fn under a deadline. The deadline propagates through the
// derived context so transports can abort in-flight I/O; if fn ignores the
// context, WithTimeout still returns once the budget is spent and the
// goroutine finishes on its own.
func WithTimeout(ctx context.Context, budget time.Duration, fn func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return ErrAttemptTimeout
		}
		return attemptCtx.Err()
	}
}
