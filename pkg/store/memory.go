package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/pkg/notification"
)

// MemoryNotificationStore is an in-process NotificationStore for single-node
// deployments and tests.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*notification.Notification
	byIdempotency map[string]string
}

// NewMemoryNotificationStore creates an empty in-process store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		notifications: map[string]*notification.Notification{},
		byIdempotency: map[string]string{},
	}
}

func idempotencyIndexKey(tenantID, key string) string {
	return strings.TrimSpace(tenantID) + "\x00" + strings.TrimSpace(key)
}

// Create persists a new notification record.
func (s *MemoryNotificationStore) Create(ctx context.Context, n *notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return fmt.Errorf("%w: notification id %s", ErrDuplicateKey, n.ID)
	}
	key := strings.TrimSpace(n.IdempotencyKey)
	if key != "" {
		indexKey := idempotencyIndexKey(n.TenantID, key)
		if _, exists := s.byIdempotency[indexKey]; exists {
			return fmt.Errorf("%w: idempotency key %s", ErrDuplicateKey, key)
		}
		s.byIdempotency[indexKey] = n.ID
	}

	stored := *n
	stored.Payload = append([]byte(nil), n.Payload...)
	s.notifications[n.ID] = &stored
	return nil
}

// Get returns one notification by id.
func (s *MemoryNotificationStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *stored
	out.Payload = append([]byte(nil), stored.Payload...)
	return &out, nil
}

// FindByIdempotencyKey returns the tenant's notification created with key.
func (s *MemoryNotificationStore) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*notification.Notification, error) {
	s.mu.RLock()
	id, ok := s.byIdempotency[idempotencyIndexKey(tenantID, key)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// MarkProcessing transitions to processing and bumps the attempt counter.
func (s *MemoryNotificationStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return 0, ErrNotFound
	}
	stored.Status = notification.StatusProcessing
	stored.Attempts++
	stored.StartedAt = startedAt.UTC()
	return stored.Attempts, nil
}

// MarkCompleted records terminal success.
func (s *MemoryNotificationStore) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	stored.Status = notification.StatusCompleted
	stored.CompletedAt = completedAt.UTC()
	stored.LastError = ""
	return nil
}

// MarkFailed records terminal failure with the final error text.
func (s *MemoryNotificationStore) MarkFailed(ctx context.Context, id string, lastError string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	stored.Status = notification.StatusFailed
	stored.LastError = lastError
	stored.CompletedAt = failedAt.UTC()
	return nil
}

// Requeue moves the notification back to queued after a retryable failure.
func (s *MemoryNotificationStore) Requeue(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	stored.Status = notification.StatusQueued
	stored.LastError = lastError
	return nil
}

// MemoryDeliveryLedger is an in-process DeliveryLedger for single-node
// deployments and tests.
type MemoryDeliveryLedger struct {
	mu       sync.RWMutex
	attempts map[string][]*notification.Attempt
}

// NewMemoryDeliveryLedger creates an empty in-process ledger.
func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{attempts: map[string][]*notification.Attempt{}}
}

// AppendAttempt records one attempt outcome.
func (l *MemoryDeliveryLedger) AppendAttempt(ctx context.Context, attempt *notification.Attempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt is required")
	}
	if strings.TrimSpace(attempt.NotificationID) == "" {
		return fmt.Errorf("attempt notification id is required")
	}
	if attempt.Number <= 0 {
		return fmt.Errorf("attempt number must be positive")
	}

	stored := *attempt
	if strings.TrimSpace(stored.ID) == "" {
		stored.ID = uuid.NewString()
	}
	stored.At = stored.At.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[stored.NotificationID] = append(l.attempts[stored.NotificationID], &stored)
	return nil
}

// ListAttempts returns all attempts for a notification, oldest first.
func (l *MemoryDeliveryLedger) ListAttempts(ctx context.Context, notificationID string) ([]*notification.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.attempts[strings.TrimSpace(notificationID)]
	out := make([]*notification.Attempt, 0, len(stored))
	for _, attempt := range stored {
		attemptCopy := *attempt
		out = append(out, &attemptCopy)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
