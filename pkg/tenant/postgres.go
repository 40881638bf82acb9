package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relayq/relayq/pkg/store"
)

// PostgresStore persists tenants in PostgreSQL. Quota consumption is a single
// conditional UPDATE so concurrent submissions never double-count and the
// lazy monthly reset cannot race with the increment.
type PostgresStore struct {
	adapter *store.PostgresAdapter
}

// NewPostgresStore creates a tenant store on the adapter.
func NewPostgresStore(adapter *store.PostgresAdapter) (*PostgresStore, error) {
	if adapter == nil {
		return nil, errors.New("postgres adapter is required")
	}
	return &PostgresStore{adapter: adapter}, nil
}

// Get returns one tenant by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.adapter.QueryRowContext(ctx, `
SELECT id, name, monthly_limit, rate_per_minute, quota_used, quota_reset_at, created_at
FROM tenants
WHERE id = $1`, strings.TrimSpace(id)).Scan(
		&t.ID,
		&t.Name,
		&t.MonthlyLimit,
		&t.RatePerMinute,
		&t.QuotaUsed,
		&t.QuotaResetAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant failed: %w", err)
	}
	return &t, nil
}

// ConsumeQuota counts one notification against the monthly quota.
//
// The UPDATE resets a counter whose boundary has passed and increments it in
// one statement, guarded so the row is only touched when the incremented
// value stays within the limit. No matched row means either the tenant is
// unknown or the quota is exhausted; the follow-up SELECT disambiguates.
func (s *PostgresStore) ConsumeQuota(ctx context.Context, id string, now time.Time) (Usage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Usage{}, errors.New("tenant id is required")
	}
	now = now.UTC()
	nextReset := NextResetAt(now)

	var usage Usage
	err := s.adapter.QueryRowContext(ctx, `
UPDATE tenants
SET quota_used = CASE WHEN quota_reset_at <= $2 THEN 1 ELSE quota_used + 1 END,
    quota_reset_at = CASE WHEN quota_reset_at <= $2 THEN $3 ELSE quota_reset_at END
WHERE id = $1
  AND (CASE WHEN quota_reset_at <= $2 THEN 1 ELSE quota_used + 1 END) <= monthly_limit
RETURNING quota_used, monthly_limit, quota_reset_at`,
		id, now, nextReset,
	).Scan(&usage.Used, &usage.Limit, &usage.ResetAt)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Usage{}, fmt.Errorf("consume quota failed: %w", err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return Usage{}, getErr
	}
	snapshot := Usage{
		Used:    current.QuotaUsed,
		Limit:   current.MonthlyLimit,
		ResetAt: current.QuotaResetAt,
	}
	if !current.QuotaResetAt.After(now) {
		// The boundary passed between the UPDATE and this read; a retry
		// would succeed, but reporting the stale counter is still correct
		// enough for an error path. Zero limits always reject.
		snapshot.Used = 0
		snapshot.ResetAt = nextReset
	}
	return snapshot, ErrQuotaExceeded
}
