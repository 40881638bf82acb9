package health

import (
	"context"
	"time"
)

// Checkable is implemented by backing components that can report their own
// connectivity, such as the queue backend and the Postgres adapter.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

const defaultCheckTimeout = 5 * time.Second

// ComponentChecker probes a Checkable component under a timeout.
type ComponentChecker struct {
	name      string
	component Checkable
	timeout   time.Duration

	// degradedOnFailure marks failures as degraded instead of unhealthy,
	// for components the service can run without (fail-open rate limiter).
	degradedOnFailure bool
}

// NewComponentChecker creates a checker for a required component.
func NewComponentChecker(name string, component Checkable, timeout time.Duration) *ComponentChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &ComponentChecker{name: name, component: component, timeout: timeout}
}

// NewOptionalComponentChecker creates a checker whose failure only degrades
// the service instead of failing readiness.
func NewOptionalComponentChecker(name string, component Checkable, timeout time.Duration) *ComponentChecker {
	checker := NewComponentChecker(name, component, timeout)
	checker.degradedOnFailure = true
	return checker
}

// Check probes the component.
func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.component.HealthCheck(checkCtx)
	duration := time.Since(start)

	if err != nil {
		status := StatusUnhealthy
		if c.degradedOnFailure {
			status = StatusDegraded
		}
		return CheckResult{
			Name:      c.name,
			Status:    status,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
			Duration:  duration,
		}
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "ok",
		Timestamp: time.Now().UTC(),
		Duration:  duration,
	}
}

// Name returns the check name.
func (c *ComponentChecker) Name() string { return c.name }

// LivenessChecker always passes; it answers "is the process up" probes.
type LivenessChecker struct {
	name string
}

// NewLivenessChecker creates a liveness checker.
func NewLivenessChecker(name string) *LivenessChecker {
	return &LivenessChecker{name: name}
}

// Check reports healthy unconditionally.
func (c *LivenessChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now().UTC(),
	}
}

// Name returns the check name.
func (c *LivenessChecker) Name() string { return c.name }
