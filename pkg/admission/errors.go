package admission

import (
	"fmt"
	"time"

	"github.com/relayq/relayq/pkg/tenant"
)

// QuotaExceededError reports a submission rejected because the tenant's
// monthly quota is exhausted. It carries the usage snapshot for the response.
type QuotaExceededError struct {
	TenantID string
	Usage    tenant.Usage
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s exceeded monthly quota (%d/%d, resets %s)",
		e.TenantID, e.Usage.Used, e.Usage.Limit, e.Usage.ResetAt.Format(time.RFC3339))
}

// Unwrap lets callers match the sentinel with errors.Is.
func (e *QuotaExceededError) Unwrap() error { return tenant.ErrQuotaExceeded }

// RateLimitedError reports a submission rejected by the per-minute rate
// limit. RetryAfter is the limiter's estimate of when capacity frees up.
type RateLimitedError struct {
	TenantID   string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("tenant %s exceeded rate limit of %d per minute", e.TenantID, e.Limit)
}
