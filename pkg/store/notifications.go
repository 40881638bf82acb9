package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/relayq/relayq/pkg/notification"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresNotificationStore persists notifications in PostgreSQL. Duplicate
// submissions are rejected by the unique index on (tenant_id, idempotency_key)
// rather than by a read-then-write, so concurrent duplicates cannot race.
type PostgresNotificationStore struct {
	adapter *PostgresAdapter
}

// NewPostgresNotificationStore creates a notification store on the adapter.
func NewPostgresNotificationStore(adapter *PostgresAdapter) (*PostgresNotificationStore, error) {
	if adapter == nil {
		return nil, errors.New("postgres adapter is required")
	}
	return &PostgresNotificationStore{adapter: adapter}, nil
}

const notificationColumns = `id, tenant_id, kind, priority, status, idempotency_key,
payload, attempts, max_attempts, last_error, created_at, started_at, completed_at`

// Create persists a new notification record.
func (s *PostgresNotificationStore) Create(ctx context.Context, n *notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	_, err := s.adapter.ExecContext(ctx, `
INSERT INTO notifications (`+notificationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		n.ID,
		n.TenantID,
		string(n.Kind),
		int(n.Priority),
		string(n.Status),
		nullString(n.IdempotencyKey),
		n.Payload,
		n.Attempts,
		n.MaxAttempts,
		n.LastError,
		n.CreatedAt.UTC(),
		nullTime(n.StartedAt),
		nullTime(n.CompletedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
		}
		return fmt.Errorf("insert notification failed: %w", err)
	}
	return nil
}

// Get returns one notification by id.
func (s *PostgresNotificationStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	row := s.adapter.QueryRowContext(ctx, `
SELECT `+notificationColumns+`
FROM notifications
WHERE id = $1`, strings.TrimSpace(id))
	return scanNotification(row)
}

// FindByIdempotencyKey returns the tenant's notification created with key.
func (s *PostgresNotificationStore) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*notification.Notification, error) {
	row := s.adapter.QueryRowContext(ctx, `
SELECT `+notificationColumns+`
FROM notifications
WHERE tenant_id = $1 AND idempotency_key = $2`, strings.TrimSpace(tenantID), strings.TrimSpace(key))
	return scanNotification(row)
}

// MarkProcessing transitions to processing and bumps the attempt counter.
func (s *PostgresNotificationStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (int, error) {
	var attempts int
	err := s.adapter.QueryRowContext(ctx, `
UPDATE notifications
SET status = $2, attempts = attempts + 1, started_at = $3
WHERE id = $1
RETURNING attempts`,
		strings.TrimSpace(id),
		string(notification.StatusProcessing),
		startedAt.UTC(),
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("mark processing failed: %w", err)
	}
	return attempts, nil
}

// MarkCompleted records terminal success.
func (s *PostgresNotificationStore) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	return s.updateStatus(ctx, `
UPDATE notifications
SET status = $2, completed_at = $3, last_error = ''
WHERE id = $1`,
		strings.TrimSpace(id),
		string(notification.StatusCompleted),
		completedAt.UTC(),
	)
}

// MarkFailed records terminal failure with the final error text.
func (s *PostgresNotificationStore) MarkFailed(ctx context.Context, id string, lastError string, failedAt time.Time) error {
	return s.updateStatus(ctx, `
UPDATE notifications
SET status = $2, last_error = $3, completed_at = $4
WHERE id = $1`,
		strings.TrimSpace(id),
		string(notification.StatusFailed),
		lastError,
		failedAt.UTC(),
	)
}

// Requeue moves the notification back to queued after a retryable failure.
func (s *PostgresNotificationStore) Requeue(ctx context.Context, id string, lastError string) error {
	return s.updateStatus(ctx, `
UPDATE notifications
SET status = $2, last_error = $3
WHERE id = $1`,
		strings.TrimSpace(id),
		string(notification.StatusQueued),
		lastError,
	)
}

func (s *PostgresNotificationStore) updateStatus(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.adapter.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected failed: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row *sql.Row) (*notification.Notification, error) {
	var (
		n              notification.Notification
		kind, status   string
		priority       int
		idempotencyKey sql.NullString
		startedAt      sql.NullTime
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&n.ID,
		&n.TenantID,
		&kind,
		&priority,
		&status,
		&idempotencyKey,
		&n.Payload,
		&n.Attempts,
		&n.MaxAttempts,
		&n.LastError,
		&n.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan notification failed: %w", err)
	}
	n.Kind = notification.Kind(kind)
	n.Priority = notification.Priority(priority)
	n.Status = notification.Status(status)
	n.IdempotencyKey = idempotencyKey.String
	if startedAt.Valid {
		n.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		n.CompletedAt = completedAt.Time
	}
	return &n, nil
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value.UTC(), Valid: !value.IsZero()}
}
