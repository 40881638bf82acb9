package tenant

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process tenant Store for single-node deployments and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*Tenant
}

// NewMemoryStore creates a store seeded with the given tenants.
func NewMemoryStore(tenants ...*Tenant) *MemoryStore {
	s := &MemoryStore{tenants: map[string]*Tenant{}}
	for _, t := range tenants {
		if t == nil || strings.TrimSpace(t.ID) == "" {
			continue
		}
		stored := *t
		if stored.QuotaResetAt.IsZero() {
			stored.QuotaResetAt = NextResetAt(time.Now())
		}
		s.tenants[stored.ID] = &stored
	}
	return s
}

// Put inserts or replaces a tenant record.
func (s *MemoryStore) Put(t *Tenant) {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *t
	s.tenants[stored.ID] = &stored
}

// Get returns one tenant by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tenants[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *stored
	return &out, nil
}

// ConsumeQuota counts one notification against the monthly quota.
func (s *MemoryStore) ConsumeQuota(ctx context.Context, id string, now time.Time) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tenants[strings.TrimSpace(id)]
	if !ok {
		return Usage{}, ErrNotFound
	}

	now = now.UTC()
	if !stored.QuotaResetAt.After(now) {
		stored.QuotaUsed = 0
		stored.QuotaResetAt = NextResetAt(now)
	}

	usage := Usage{
		Used:    stored.QuotaUsed,
		Limit:   stored.MonthlyLimit,
		ResetAt: stored.QuotaResetAt,
	}
	if stored.QuotaUsed+1 > stored.MonthlyLimit {
		return usage, ErrQuotaExceeded
	}
	stored.QuotaUsed++
	usage.Used = stored.QuotaUsed
	return usage, nil
}
