package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relayq/relayq/pkg/notification"
)

func TestMemoryNotificationStore_CreateAndLookup(t *testing.T) {
	s := NewMemoryNotificationStore()
	ctx := context.Background()

	n := validNotification()
	if err := s.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "acme" || got.Status != notification.StatusQueued {
		t.Fatalf("unexpected notification %+v", got)
	}

	byKey, err := s.FindByIdempotencyKey(ctx, "acme", "order-42")
	if err != nil {
		t.Fatalf("find by idempotency key: %v", err)
	}
	if byKey.ID != n.ID {
		t.Fatalf("expected %s, got %s", n.ID, byKey.ID)
	}
}

func TestMemoryNotificationStore_DuplicateIdempotencyKey(t *testing.T) {
	s := NewMemoryNotificationStore()
	ctx := context.Background()

	if err := s.Create(ctx, validNotification()); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := validNotification()
	dup.ID = "n-2"
	if err := s.Create(ctx, dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Same key under another tenant is a different request.
	other := validNotification()
	other.ID = "n-3"
	other.TenantID = "globex"
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("create for other tenant: %v", err)
	}
}

func TestMemoryNotificationStore_Lifecycle(t *testing.T) {
	s := NewMemoryNotificationStore()
	ctx := context.Background()

	n := validNotification()
	if err := s.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	started := time.Now().UTC()
	attempt, err := s.MarkProcessing(ctx, n.ID, started)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", attempt)
	}

	if err := s.Requeue(ctx, n.ID, "timeout"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ := s.Get(ctx, n.ID)
	if got.Status != notification.StatusQueued || got.LastError != "timeout" {
		t.Fatalf("unexpected state after requeue %+v", got)
	}

	if _, err := s.MarkProcessing(ctx, n.ID, time.Now()); err != nil {
		t.Fatalf("mark processing again: %v", err)
	}
	if err := s.MarkCompleted(ctx, n.ID, time.Now()); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, _ = s.Get(ctx, n.ID)
	if got.Status != notification.StatusCompleted || got.Attempts != 2 || got.LastError != "" {
		t.Fatalf("unexpected final state %+v", got)
	}
}

func TestMemoryNotificationStore_NotFound(t *testing.T) {
	s := NewMemoryNotificationStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkFailed(ctx, "ghost", "x", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDeliveryLedger_AppendOnly(t *testing.T) {
	l := NewMemoryDeliveryLedger()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		outcome := notification.OutcomeFailure
		if i == 3 {
			outcome = notification.OutcomeSuccess
		}
		err := l.AppendAttempt(ctx, &notification.Attempt{
			NotificationID: "n-1",
			Number:         i,
			Outcome:        outcome,
			StatusCode:     503,
			At:             time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append attempt %d: %v", i, err)
		}
	}

	attempts, err := l.ListAttempts(ctx, "n-1")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	for i, attempt := range attempts {
		if attempt.Number != i+1 {
			t.Fatalf("expected attempt %d at index %d, got %d", i+1, i, attempt.Number)
		}
		if attempt.ID == "" {
			t.Fatal("expected generated attempt id")
		}
	}
	if attempts[2].Outcome != notification.OutcomeSuccess {
		t.Fatalf("unexpected final outcome %s", attempts[2].Outcome)
	}
}

func TestMemoryDeliveryLedger_RejectsInvalid(t *testing.T) {
	l := NewMemoryDeliveryLedger()
	ctx := context.Background()

	if err := l.AppendAttempt(ctx, nil); err == nil {
		t.Fatal("expected error for nil attempt")
	}
	if err := l.AppendAttempt(ctx, &notification.Attempt{Number: 1}); err == nil {
		t.Fatal("expected error for missing notification id")
	}
	if err := l.AppendAttempt(ctx, &notification.Attempt{NotificationID: "n-1"}); err == nil {
		t.Fatal("expected error for non-positive attempt number")
	}
}
