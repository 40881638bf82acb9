package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_ReturnsFnResultWithinBudget(t *testing.T) {
	wantErr := errors.New("provider rejected the message")

	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}

	err = WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWithTimeout_ExceededBudgetReturnsAttemptTimeout(t *testing.T) {
	start := time.Now()
	err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("expected ErrAttemptTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout did not bound the call, took %s", elapsed)
	}
}

func TestWithTimeout_ReturnsEvenWhenFnIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("expected ErrAttemptTimeout, got %v", err)
	}
}

func TestWithTimeout_ParentCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WithTimeout(ctx, time.Minute, func(runCtx context.Context) error {
		<-runCtx.Done()
		return runCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout_FnSeesTheDeadline(t *testing.T) {
	budget := 500 * time.Millisecond
	err := WithTimeout(context.Background(), budget, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline on attempt context")
		}
		if remaining := time.Until(deadline); remaining > budget {
			return errors.New("deadline exceeds the budget")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
