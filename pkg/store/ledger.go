package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relayq/relayq/pkg/notification"
)

// PostgresDeliveryLedger appends delivery attempts to an insert-only table.
// There is deliberately no update or delete path.
type PostgresDeliveryLedger struct {
	adapter *PostgresAdapter
}

// NewPostgresDeliveryLedger creates a delivery ledger on the adapter.
func NewPostgresDeliveryLedger(adapter *PostgresAdapter) (*PostgresDeliveryLedger, error) {
	if adapter == nil {
		return nil, errors.New("postgres adapter is required")
	}
	return &PostgresDeliveryLedger{adapter: adapter}, nil
}

// AppendAttempt records one attempt outcome.
func (l *PostgresDeliveryLedger) AppendAttempt(ctx context.Context, attempt *notification.Attempt) error {
	if attempt == nil {
		return errors.New("attempt is required")
	}
	if strings.TrimSpace(attempt.NotificationID) == "" {
		return errors.New("attempt notification id is required")
	}
	if attempt.Number <= 0 {
		return errors.New("attempt number must be positive")
	}
	id := strings.TrimSpace(attempt.ID)
	if id == "" {
		id = uuid.NewString()
	}

	_, err := l.adapter.ExecContext(ctx, `
INSERT INTO delivery_attempts (id, notification_id, number, outcome, status_code, response, error, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id,
		attempt.NotificationID,
		attempt.Number,
		string(attempt.Outcome),
		attempt.StatusCode,
		attempt.Response,
		attempt.Error,
		attempt.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append delivery attempt failed: %w", err)
	}
	return nil
}

// ListAttempts returns all attempts for a notification, oldest first.
func (l *PostgresDeliveryLedger) ListAttempts(ctx context.Context, notificationID string) ([]*notification.Attempt, error) {
	rows, err := l.adapter.QueryContext(ctx, `
SELECT id, notification_id, number, outcome, status_code, response, error, at
FROM delivery_attempts
WHERE notification_id = $1
ORDER BY number ASC, at ASC`, strings.TrimSpace(notificationID))
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts failed: %w", err)
	}
	defer rows.Close()

	var attempts []*notification.Attempt
	for rows.Next() {
		var (
			attempt notification.Attempt
			outcome string
		)
		if err := rows.Scan(
			&attempt.ID,
			&attempt.NotificationID,
			&attempt.Number,
			&outcome,
			&attempt.StatusCode,
			&attempt.Response,
			&attempt.Error,
			&attempt.At,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt failed: %w", err)
		}
		attempt.Outcome = notification.Outcome(outcome)
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts failed: %w", err)
	}
	return attempts, nil
}
