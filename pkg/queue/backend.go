package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLeaseTTL is the lease duration applied when Reserve gets none.
	DefaultLeaseTTL = 30 * time.Second
)

// Task headers attached while routing through retry and dead-letter flows.
const (
	HeaderFailureReason = "failure_reason"
	HeaderFailedAt      = "failed_at"
	HeaderOriginalLane  = "original_lane"
)

var (
	// ErrValidation classifies invalid tasks or arguments.
	ErrValidation = errors.New("queue validation error")
	// ErrClosed classifies operations against a closed backend.
	ErrClosed = errors.New("queue backend closed")
	// ErrLeaseNotFound classifies ack/nack against an expired or unknown lease.
	ErrLeaseNotFound = errors.New("queue lease not found")
)

// Priorities dequeued in order; must stay sorted descending.
var priorityTiers = []int{10, 5, 1}

// Task is the queue envelope for one notification delivery.
type Task struct {
	ID          string            `json:"id"`
	Lane        string            `json:"lane"`
	TenantID    string            `json:"tenant_id"`
	Priority    int               `json:"priority"`
	Payload     []byte            `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"max_attempts"`
	RunAt       time.Time         `json:"run_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Validate checks the fields the backend relies on.
func (t *Task) Validate() error {
	if t == nil {
		return queueError(ErrValidation, "task is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return queueError(ErrValidation, "task id is required")
	}
	if strings.TrimSpace(t.Lane) == "" {
		return queueError(ErrValidation, "task lane is required")
	}
	if len(t.Payload) == 0 {
		return queueError(ErrValidation, "task payload is required")
	}
	if !validTier(t.Priority) {
		return queueError(ErrValidation, fmt.Sprintf("unsupported priority %d", t.Priority))
	}
	if t.Attempt < 0 {
		return queueError(ErrValidation, "task attempt must be >= 0")
	}
	return nil
}

// Lease tracks temporary ownership over a reserved task.
type Lease struct {
	TaskID   string
	Token    string
	Lane     string
	ExpireAt time.Time
	Attempt  int
}

// LaneStats is the operational snapshot of one lane.
type LaneStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// Backend is the queue contract: priority lanes with reserve/ack/nack
// semantics, lane controls, and dead-letter routing.
type Backend interface {
	// Enqueue schedules a task for immediate or delayed (RunAt) execution.
	Enqueue(ctx context.Context, task *Task) error
	// Reserve blocks until a task is available on the lane (or ctx ends) and
	// returns it with a lease. Paused lanes yield no tasks.
	Reserve(ctx context.Context, lane string, leaseFor time.Duration) (*Task, *Lease, error)
	// Ack confirms completion and releases the lease.
	Ack(ctx context.Context, lease *Lease) error
	// Nack re-enqueues the leased task for retry at nextRunAt.
	Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error
	// MoveToDLQ routes the leased task to the dead-letter lane.
	MoveToDLQ(ctx context.Context, lease *Lease, reason error) error
	// Pause stops dequeuing from the lane without losing queued state.
	Pause(ctx context.Context, lane string) error
	// Resume re-enables dequeuing from a paused lane.
	Resume(ctx context.Context, lane string) error
	// Drain discards all queued (ready and delayed) tasks on the lane.
	Drain(ctx context.Context, lane string) error
	// Stats reports lane counts for operational tooling.
	Stats(ctx context.Context, lane string) (LaneStats, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

func validTier(priority int) bool {
	for _, tier := range priorityTiers {
		if priority == tier {
			return true
		}
	}
	return false
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	copyTask := *task
	copyTask.Payload = cloneBytes(task.Payload)
	copyTask.Headers = cloneHeaders(task.Headers)
	return &copyTask
}

func cloneLease(lease *Lease) *Lease {
	if lease == nil {
		return nil
	}
	copyLease := *lease
	return &copyLease
}

func cloneHeaders(input map[string]string) map[string]string {
	if len(input) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}
