package store

import (
	"context"
	"errors"
	"time"

	"github.com/relayq/relayq/pkg/notification"
)

var (
	// ErrNotFound classifies lookups for records that do not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey classifies inserts that violate a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")
)

// NotificationStore is the source of truth for notification records. The
// queue holds transient routing state only; status lives here.
type NotificationStore interface {
	// Create persists a new notification. When the notification carries an
	// idempotency key that the tenant already used, Create returns
	// ErrDuplicateKey without persisting anything.
	Create(ctx context.Context, n *notification.Notification) error

	// Get returns one notification by id.
	Get(ctx context.Context, id string) (*notification.Notification, error)

	// FindByIdempotencyKey returns the tenant's notification previously
	// created with the given key.
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*notification.Notification, error)

	// MarkProcessing transitions the notification to processing and bumps its
	// attempt counter, returning the new attempt number.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (int, error)

	// MarkCompleted records terminal success.
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error

	// MarkFailed records terminal failure with the final error text.
	MarkFailed(ctx context.Context, id string, lastError string, failedAt time.Time) error

	// Requeue moves a notification back to queued after a retryable failure.
	Requeue(ctx context.Context, id string, lastError string) error
}

// DeliveryLedger is the append-only record of every delivery attempt.
// Entries are never updated or deleted.
type DeliveryLedger interface {
	// AppendAttempt records one attempt outcome.
	AppendAttempt(ctx context.Context, attempt *notification.Attempt) error

	// ListAttempts returns all attempts for a notification, oldest first.
	ListAttempts(ctx context.Context, notificationID string) ([]*notification.Attempt, error)
}
