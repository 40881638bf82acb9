package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/tenant"
)

// Decision is the result of an accepted admission check.
type Decision struct {
	Tenant *tenant.Tenant
	Usage  tenant.Usage
}

// Gate runs every submission through the tenant's rate limit and monthly
// quota before anything is persisted or queued. The rate check runs first so
// bursts are shed before they consume quota.
type Gate struct {
	tenants tenant.Store
	limiter Limiter
	log     logger.Logger
	now     func() time.Time
}

// NewGate creates an admission gate.
func NewGate(tenants tenant.Store, limiter Limiter, log logger.Logger) (*Gate, error) {
	if tenants == nil {
		return nil, errors.New("tenant store is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Gate{tenants: tenants, limiter: limiter, log: log, now: time.Now}, nil
}

// Admit checks the tenant's rate limit and consumes one unit of quota.
func (g *Gate) Admit(ctx context.Context, tenantID string) (*Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	current, err := g.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			recordDecision("unknown_tenant")
			return nil, err
		}
		return nil, fmt.Errorf("load tenant failed: %w", err)
	}

	if !g.limiter.Allow(ctx, tenantID, current.RatePerMinute) {
		recordDecision("rate_limited")
		g.log.Warn("submission rate limited", "tenant_id", tenantID, "limit", current.RatePerMinute)
		return nil, &RateLimitedError{
			TenantID:   tenantID,
			Limit:      current.RatePerMinute,
			RetryAfter: g.limiter.RetryAfter(ctx, tenantID, current.RatePerMinute),
		}
	}

	usage, err := g.tenants.ConsumeQuota(ctx, tenantID, g.now().UTC())
	if err != nil {
		if errors.Is(err, tenant.ErrQuotaExceeded) {
			recordDecision("quota_exceeded")
			g.log.Warn("submission over quota",
				"tenant_id", tenantID, "used", usage.Used, "limit", usage.Limit)
			return nil, &QuotaExceededError{TenantID: tenantID, Usage: usage}
		}
		return nil, fmt.Errorf("consume quota failed: %w", err)
	}

	recordDecision("admitted")
	return &Decision{Tenant: current, Usage: usage}, nil
}
