package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/store"
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...any)                      {}
func (l *nopLogger) Info(string, ...any)                       {}
func (l *nopLogger) Warn(string, ...any)                       {}
func (l *nopLogger) Error(string, ...any)                      {}
func (l *nopLogger) With(...any) logger.Logger                 { return l }
func (l *nopLogger) WithContext(context.Context) logger.Logger { return l }

func newResolver(t *testing.T) (*Resolver, *store.MemoryNotificationStore) {
	t.Helper()
	notifications := store.NewMemoryNotificationStore()
	resolver, err := NewResolver(notifications, &nopLogger{})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver, notifications
}

func draft(id, key string) *notification.Notification {
	return &notification.Notification{
		ID:             id,
		TenantID:       "acme",
		Kind:           notification.KindEmail,
		Priority:       notification.PriorityNormal,
		Status:         notification.StatusQueued,
		IdempotencyKey: key,
		Payload:        []byte(`{"to":"a@b.c","subject":"hi","body":"hello"}`),
		MaxAttempts:    notification.DefaultMaxAttempts,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestResolver_CreatesNewNotification(t *testing.T) {
	resolver, notifications := newResolver(t)

	created, existing, err := resolver.Resolve(context.Background(), draft("n-1", "order-42"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if existing {
		t.Fatal("expected a fresh notification")
	}
	if created.ID != "n-1" {
		t.Fatalf("unexpected id %s", created.ID)
	}
	if _, err := notifications.Get(context.Background(), "n-1"); err != nil {
		t.Fatalf("stored notification missing: %v", err)
	}
}

func TestResolver_ReturnsExistingForDuplicateKey(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	first, _, err := resolver.Resolve(ctx, draft("n-1", "order-42"))
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	second, existing, err := resolver.Resolve(ctx, draft("n-2", "order-42"))
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !existing {
		t.Fatal("expected duplicate to resolve to existing notification")
	}
	if second.ID != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, second.ID)
	}
}

func TestResolver_KeysAreScopedPerTenant(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	if _, _, err := resolver.Resolve(ctx, draft("n-1", "order-42")); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	other := draft("n-2", "order-42")
	other.TenantID = "globex"
	_, existing, err := resolver.Resolve(ctx, other)
	if err != nil {
		t.Fatalf("resolve for other tenant: %v", err)
	}
	if existing {
		t.Fatal("same key under another tenant must create a new notification")
	}
}

func TestResolver_EmptyKeyAlwaysCreates(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, existing, err := resolver.Resolve(ctx, draft(uuid.NewString(), ""))
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if existing {
			t.Fatal("keyless submissions must never be deduplicated")
		}
	}
}

func TestResolver_ConcurrentDuplicatesResolveToOne(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			resolved, _, err := resolver.Resolve(ctx, draft(uuid.NewString(), "order-42"))
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[slot] = resolved.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected all submissions to resolve to one notification, got %v", ids)
		}
	}
}

func TestResolver_IDCollisionWithoutKeyFails(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	if _, _, err := resolver.Resolve(ctx, draft("n-1", "")); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, _, err := resolver.Resolve(ctx, draft("n-1", "")); !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}
