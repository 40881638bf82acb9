package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
)

const defaultMemoryPollInterval = 10 * time.Millisecond

// MemoryBackendConfig configures the in-process queue backend.
type MemoryBackendConfig struct {
	PollInterval   time.Duration
	DeadLetterLane string
}

func (c *MemoryBackendConfig) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultMemoryPollInterval
	}
	if strings.TrimSpace(c.DeadLetterLane) == "" {
		c.DeadLetterLane = "dead-letter"
	}
}

type delayedTask struct {
	task  *Task
	runAt time.Time
}

type memoryLane struct {
	ready     map[int][]*Task
	delayed   []delayedTask
	paused    bool
	active    int64
	completed int64
	failed    int64
}

func newMemoryLane() *memoryLane {
	return &memoryLane{ready: map[int][]*Task{}}
}

type memoryLease struct {
	task  *Task
	lane  string
	timer *time.Timer
}

// MemoryBackend implements Backend with in-process state. It exists for
// single-node deployments and tests; the Redis backend is the production path.
type MemoryBackend struct {
	log    logger.Logger
	config MemoryBackendConfig

	mu     sync.Mutex
	lanes  map[string]*memoryLane
	leases map[string]*memoryLease
	dlq    map[string][]*DLQEntry
	closed bool
}

// NewMemoryBackend creates an in-process queue backend.
func NewMemoryBackend(cfg MemoryBackendConfig, log logger.Logger) (*MemoryBackend, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &MemoryBackend{
		log:    log,
		config: cfg,
		lanes:  map[string]*memoryLane{},
		leases: map[string]*memoryLease{},
		dlq:    map[string][]*DLQEntry{},
	}, nil
}

// Enqueue schedules a task for immediate or delayed execution.
func (b *MemoryBackend) Enqueue(ctx context.Context, task *Task) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	taskCopy := cloneTask(task)
	if err := taskCopy.Validate(); err != nil {
		return err
	}
	if taskCopy.CreatedAt.IsZero() {
		taskCopy.CreatedAt = time.Now().UTC()
	}
	if taskCopy.RunAt.IsZero() {
		taskCopy.RunAt = taskCopy.CreatedAt
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	lane := b.lane(taskCopy.Lane)
	now := time.Now().UTC()
	if taskCopy.RunAt.After(now) {
		lane.delayed = append(lane.delayed, delayedTask{task: taskCopy, runAt: taskCopy.RunAt})
	} else {
		lane.ready[taskCopy.Priority] = append(lane.ready[taskCopy.Priority], taskCopy)
	}
	recordTaskEnqueued("memory", taskCopy)
	return nil
}

// Reserve blocks until a task is available on the lane or ctx ends.
func (b *MemoryBackend) Reserve(ctx context.Context, laneName string, leaseFor time.Duration) (*Task, *Lease, error) {
	if ctx == nil {
		return nil, nil, errors.New("context is required")
	}
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return nil, nil, errors.New("lane is required")
	}
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		task, lease, err := b.tryReserve(laneName, leaseFor)
		if err != nil {
			return nil, nil, err
		}
		if task != nil {
			return task, lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(b.config.PollInterval):
		}
	}
}

func (b *MemoryBackend) tryReserve(laneName string, leaseFor time.Duration) (*Task, *Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}

	lane := b.lane(laneName)
	if lane.paused {
		return nil, nil, nil
	}
	b.promoteDueLocked(lane)

	for _, tier := range priorityTiers {
		pending := lane.ready[tier]
		if len(pending) == 0 {
			continue
		}
		task := pending[0]
		lane.ready[tier] = pending[1:]
		lane.active++

		token := randomToken()
		lease := &Lease{
			TaskID:   task.ID,
			Token:    token,
			Lane:     laneName,
			ExpireAt: time.Now().UTC().Add(leaseFor),
			Attempt:  task.Attempt,
		}
		state := &memoryLease{task: task, lane: laneName}
		state.timer = time.AfterFunc(leaseFor, func() { b.expireLease(token) })
		b.leases[token] = state

		return cloneTask(task), cloneLease(lease), nil
	}
	return nil, nil, nil
}

func (b *MemoryBackend) promoteDueLocked(lane *memoryLane) {
	if len(lane.delayed) == 0 {
		return
	}
	now := time.Now().UTC()
	remaining := lane.delayed[:0]
	due := make([]delayedTask, 0, len(lane.delayed))
	for _, entry := range lane.delayed {
		if entry.runAt.After(now) {
			remaining = append(remaining, entry)
			continue
		}
		due = append(due, entry)
	}
	lane.delayed = remaining
	// Preserve FIFO within a tier for tasks that became due together.
	sort.SliceStable(due, func(i, j int) bool { return due[i].runAt.Before(due[j].runAt) })
	for _, entry := range due {
		lane.ready[entry.task.Priority] = append(lane.ready[entry.task.Priority], entry.task)
	}
}

// Ack confirms completion and releases the lease.
func (b *MemoryBackend) Ack(ctx context.Context, lease *Lease) error {
	state, err := b.popLease(lease)
	if err != nil {
		if errors.Is(err, ErrLeaseNotFound) {
			return nil
		}
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	lane := b.lane(state.lane)
	lane.active--
	lane.completed++
	return nil
}

// Nack re-enqueues the leased task for retry at nextRunAt.
func (b *MemoryBackend) Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error {
	state, err := b.popLease(lease)
	if err != nil {
		return err
	}

	retry := cloneTask(state.task)
	retry.Attempt++
	if retry.Headers == nil {
		retry.Headers = map[string]string{}
	}
	if reason != nil {
		retry.Headers[HeaderFailureReason] = reason.Error()
	}
	retry.Headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	retry.RunAt = nextRunAt.UTC()
	if retry.RunAt.IsZero() {
		retry.RunAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	lane := b.lane(state.lane)
	lane.active--
	target := b.lane(retry.Lane)
	if retry.RunAt.After(time.Now().UTC()) {
		target.delayed = append(target.delayed, delayedTask{task: retry, runAt: retry.RunAt})
	} else {
		target.ready[retry.Priority] = append(target.ready[retry.Priority], retry)
	}
	recordTaskEnqueued("memory", retry)
	return nil
}

// MoveToDLQ routes the leased task to the dead-letter lane.
func (b *MemoryBackend) MoveToDLQ(ctx context.Context, lease *Lease, reason error) error {
	state, err := b.popLease(lease)
	if err != nil {
		return err
	}

	moved := cloneTask(state.task)
	originalLane := moved.Lane
	moved.Lane = b.config.DeadLetterLane
	moved.Priority = 1
	if moved.Headers == nil {
		moved.Headers = map[string]string{}
	}
	moved.Headers[HeaderOriginalLane] = originalLane
	moved.Headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	if reason != nil {
		moved.Headers[HeaderFailureReason] = reason.Error()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	lane := b.lane(state.lane)
	lane.active--
	lane.failed++

	dead := b.lane(moved.Lane)
	dead.ready[moved.Priority] = append(dead.ready[moved.Priority], moved)

	entry := &DLQEntry{
		ID:           randomToken(),
		Lane:         moved.Lane,
		OriginalLane: originalLane,
		Task:         cloneTask(moved),
		Reason:       strings.TrimSpace(moved.Headers[HeaderFailureReason]),
		FailedAt:     time.Now().UTC(),
	}
	b.dlq[originalLane] = append(b.dlq[originalLane], entry)
	recordTaskDLQ(originalLane)
	return nil
}

// Pause stops dequeuing from the lane without losing queued state.
func (b *MemoryBackend) Pause(ctx context.Context, laneName string) error {
	return b.setPaused(laneName, true)
}

// Resume re-enables dequeuing from the lane.
func (b *MemoryBackend) Resume(ctx context.Context, laneName string) error {
	return b.setPaused(laneName, false)
}

func (b *MemoryBackend) setPaused(laneName string, paused bool) error {
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return errors.New("lane is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.lane(laneName).paused = paused
	return nil
}

// Drain discards all ready and delayed tasks on the lane.
func (b *MemoryBackend) Drain(ctx context.Context, laneName string) error {
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return errors.New("lane is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	lane := b.lane(laneName)
	lane.ready = map[int][]*Task{}
	lane.delayed = nil
	return nil
}

// Stats reports lane counters.
func (b *MemoryBackend) Stats(ctx context.Context, laneName string) (LaneStats, error) {
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return LaneStats{}, errors.New("lane is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return LaneStats{}, ErrClosed
	}
	lane := b.lane(laneName)
	stats := LaneStats{
		Active:    lane.active,
		Completed: lane.completed,
		Failed:    lane.failed,
		Delayed:   int64(len(lane.delayed)),
		Paused:    lane.paused,
	}
	for _, tier := range priorityTiers {
		stats.Waiting += int64(len(lane.ready[tier]))
	}
	return stats, nil
}

// ListDLQ lists the latest dead-letter records for one original lane.
func (b *MemoryBackend) ListDLQ(ctx context.Context, laneName string, limit int) ([]*DLQEntry, error) {
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return nil, errors.New("lane is required")
	}
	if limit <= 0 {
		limit = 50
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	entries := b.dlq[laneName]
	out := make([]*DLQEntry, 0, limit)
	for idx := len(entries) - 1; idx >= 0 && len(out) < limit; idx-- {
		entry := entries[idx]
		out = append(out, &DLQEntry{
			ID:           entry.ID,
			Lane:         entry.Lane,
			OriginalLane: entry.OriginalLane,
			Task:         cloneTask(entry.Task),
			Reason:       entry.Reason,
			FailedAt:     entry.FailedAt,
		})
	}
	return out, nil
}

// ReplayDLQ re-enqueues selected DLQ entries back to their original lane.
func (b *MemoryBackend) ReplayDLQ(ctx context.Context, laneName string, ids []string) (int, error) {
	laneName = strings.TrimSpace(laneName)
	if laneName == "" {
		return 0, errors.New("lane is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			wanted[trimmed] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}

	replayed := 0
	remaining := b.dlq[laneName][:0]
	for _, entry := range b.dlq[laneName] {
		if _, ok := wanted[entry.ID]; !ok {
			remaining = append(remaining, entry)
			continue
		}
		task := cloneTask(entry.Task)
		task.Lane = entry.OriginalLane
		if task.Headers == nil {
			task.Headers = map[string]string{}
		}
		task.Headers["dlq_replay"] = "true"
		task.Attempt = 0
		task.RunAt = time.Now().UTC()

		lane := b.lane(task.Lane)
		lane.ready[task.Priority] = append(lane.ready[task.Priority], task)
		b.removeParkedLocked(entry.Task.ID)
		replayed++
	}
	b.dlq[laneName] = remaining
	return replayed, nil
}

// removeParkedLocked drops the copy MoveToDLQ parked on the dead-letter lane
// so replayed tasks stop counting as waiting there.
func (b *MemoryBackend) removeParkedLocked(taskID string) {
	dead := b.lane(b.config.DeadLetterLane)
	for tier, pending := range dead.ready {
		for i, parked := range pending {
			if parked.ID == taskID {
				dead.ready[tier] = append(pending[:i], pending[i+1:]...)
				return
			}
		}
	}
}

// HealthCheck always succeeds while the backend is open.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close releases pending leases and rejects further operations.
func (b *MemoryBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for token, state := range b.leases {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(b.leases, token)
	}
	return nil
}

func (b *MemoryBackend) popLease(lease *Lease) (*memoryLease, error) {
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return nil, queueError(ErrValidation, "lease token is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.leases[strings.TrimSpace(lease.Token)]
	if !ok {
		return nil, ErrLeaseNotFound
	}
	delete(b.leases, strings.TrimSpace(lease.Token))
	if state.timer != nil {
		state.timer.Stop()
	}
	return state, nil
}

// expireLease puts an unacknowledged task back on its lane so it is not lost
// when a worker dies mid-processing.
func (b *MemoryBackend) expireLease(token string) {
	b.mu.Lock()
	state, ok := b.leases[token]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.leases, token)
	if b.closed {
		b.mu.Unlock()
		return
	}
	lane := b.lane(state.lane)
	lane.active--
	lane.ready[state.task.Priority] = append(lane.ready[state.task.Priority], state.task)
	b.mu.Unlock()

	b.log.Warn("queue lease expired, task requeued", "token", token, "task_id", state.task.ID, "lane", state.lane)
}

func (b *MemoryBackend) lane(name string) *memoryLane {
	name = strings.TrimSpace(name)
	lane, ok := b.lanes[name]
	if !ok {
		lane = newMemoryLane()
		b.lanes[name] = lane
	}
	return lane
}
