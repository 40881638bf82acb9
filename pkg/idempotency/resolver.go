// Package idempotency deduplicates notification submissions per tenant.
//
// Uniqueness is owned by the store (a unique index on tenant id and key),
// not by a read-then-write here. The resolver inserts first and treats a
// duplicate-key rejection as "another request already won", so two identical
// requests racing each other still resolve to one notification.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/store"
)

// Resolver creates notifications exactly once per (tenant, key).
type Resolver struct {
	notifications store.NotificationStore
	log           logger.Logger
}

// NewResolver creates an idempotency resolver over the notification store.
func NewResolver(notifications store.NotificationStore, log logger.Logger) (*Resolver, error) {
	if notifications == nil {
		return nil, errors.New("notification store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Resolver{notifications: notifications, log: log}, nil
}

// Resolve persists the notification unless the tenant already submitted one
// with the same idempotency key. It returns the stored notification and
// whether it came from an earlier submission. Notifications without a key
// are always created.
func (r *Resolver) Resolve(ctx context.Context, n *notification.Notification) (*notification.Notification, bool, error) {
	if n == nil {
		return nil, false, errors.New("notification is required")
	}

	err := r.notifications.Create(ctx, n)
	if err == nil {
		return n, false, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return nil, false, fmt.Errorf("create notification failed: %w", err)
	}

	key := strings.TrimSpace(n.IdempotencyKey)
	if key == "" {
		// Duplicate without a key means an id collision, not a replay.
		return nil, false, err
	}

	existing, lookupErr := r.notifications.FindByIdempotencyKey(ctx, n.TenantID, key)
	if lookupErr != nil {
		return nil, false, fmt.Errorf("resolve duplicate submission failed: %w", lookupErr)
	}

	r.log.Debug("duplicate submission resolved to existing notification",
		"tenant_id", n.TenantID, "idempotency_key", key, "notification_id", existing.ID)
	return existing, true, nil
}
