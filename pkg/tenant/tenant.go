package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound classifies lookups for tenants that do not exist.
	ErrNotFound = errors.New("tenant not found")
	// ErrQuotaExceeded classifies quota consumption past the monthly limit.
	ErrQuotaExceeded = errors.New("tenant quota exceeded")
)

// Tenant is one registered sender with its plan limits and quota state.
type Tenant struct {
	ID            string
	Name          string
	MonthlyLimit  int64
	RatePerMinute int
	QuotaUsed     int64
	QuotaResetAt  time.Time
	CreatedAt     time.Time
}

// Usage is the quota snapshot after (or instead of) a consumption.
type Usage struct {
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// Store manages tenant records and their monthly quota counters.
type Store interface {
	// Get returns one tenant by id.
	Get(ctx context.Context, id string) (*Tenant, error)

	// ConsumeQuota atomically counts one notification against the tenant's
	// monthly quota. Counters that have passed their reset boundary are reset
	// in the same operation; nothing resets them eagerly. When the quota is
	// exhausted it returns the current snapshot together with
	// ErrQuotaExceeded and consumes nothing.
	ConsumeQuota(ctx context.Context, id string, now time.Time) (Usage, error)
}

// NextResetAt returns the first instant of the month after now, in UTC.
// Monthly quotas run on calendar months regardless of tenant timezone.
func NextResetAt(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
