package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
)

type testLogger struct{}

func (l *testLogger) Debug(string, ...any)                     {}
func (l *testLogger) Info(string, ...any)                      {}
func (l *testLogger) Warn(string, ...any)                      {}
func (l *testLogger) Error(string, ...any)                     {}
func (l *testLogger) With(...any) logger.Logger                { return l }
func (l *testLogger) WithContext(context.Context) logger.Logger { return l }

func newTestMemoryBackend(t *testing.T) *MemoryBackend {
	t.Helper()
	backend, err := NewMemoryBackend(MemoryBackendConfig{PollInterval: time.Millisecond}, &testLogger{})
	if err != nil {
		t.Fatalf("new memory backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func testTask(id, lane string, priority int) *Task {
	payload, _ := json.Marshal(map[string]string{"id": id})
	return &Task{
		ID:          id,
		Lane:        lane,
		TenantID:    "tenant-1",
		Priority:    priority,
		Payload:     payload,
		MaxAttempts: 3,
	}
}

func reserveOne(t *testing.T, backend Backend, lane string) (*Task, *Lease) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, lease, err := backend.Reserve(ctx, lane, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return task, lease
}

func TestMemoryBackend_PriorityOrderAcrossTiers(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	for _, task := range []*Task{
		testTask("low-1", "email", 1),
		testTask("normal-1", "email", 5),
		testTask("critical-1", "email", 10),
		testTask("normal-2", "email", 5),
	} {
		if err := backend.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue %s: %v", task.ID, err)
		}
	}

	want := []string{"critical-1", "normal-1", "normal-2", "low-1"}
	for _, expected := range want {
		task, lease := reserveOne(t, backend, "email")
		if task.ID != expected {
			t.Fatalf("expected %s, got %s", expected, task.ID)
		}
		if err := backend.Ack(ctx, lease); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
}

func TestMemoryBackend_PauseResume(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	if err := backend.Enqueue(ctx, testTask("t-1", "webhook", 5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := backend.Pause(ctx, "webhook"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := backend.Reserve(shortCtx, "webhook", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while paused, got %v", err)
	}

	stats, err := backend.Stats(ctx, "webhook")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.Paused || stats.Waiting != 1 {
		t.Fatalf("unexpected stats while paused: %+v", stats)
	}

	if err := backend.Resume(ctx, "webhook"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	task, _ := reserveOne(t, backend, "webhook")
	if task.ID != "t-1" {
		t.Fatalf("unexpected task %s", task.ID)
	}
}

func TestMemoryBackend_Drain(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := testTask("t-"+string(rune('a'+i)), "email", 5)
		if err := backend.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	delayed := testTask("t-delayed", "email", 5)
	delayed.RunAt = time.Now().UTC().Add(time.Hour)
	if err := backend.Enqueue(ctx, delayed); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	if err := backend.Drain(ctx, "email"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	stats, err := backend.Stats(ctx, "email")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 0 || stats.Delayed != 0 {
		t.Fatalf("expected empty lane after drain, got %+v", stats)
	}
}

func TestMemoryBackend_NackSchedulesDelayedRetry(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	if err := backend.Enqueue(ctx, testTask("t-1", "webhook", 5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, lease := reserveOne(t, backend, "webhook")

	nextRun := time.Now().UTC().Add(30 * time.Millisecond)
	if err := backend.Nack(ctx, lease, nextRun, errors.New("boom")); err != nil {
		t.Fatalf("nack: %v", err)
	}

	stats, err := backend.Stats(ctx, "webhook")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Delayed != 1 || stats.Active != 0 {
		t.Fatalf("expected one delayed task, got %+v", stats)
	}

	task, _ := reserveOne(t, backend, "webhook")
	if task.ID != "t-1" {
		t.Fatalf("unexpected task %s", task.ID)
	}
	if task.Attempt != 1 {
		t.Fatalf("expected attempt 1 after nack, got %d", task.Attempt)
	}
	if task.Headers[HeaderFailureReason] != "boom" {
		t.Fatalf("expected failure reason header, got %q", task.Headers[HeaderFailureReason])
	}
}

func TestMemoryBackend_MoveToDLQAndReplay(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	if err := backend.Enqueue(ctx, testTask("t-1", "webhook", 10)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, lease := reserveOne(t, backend, "webhook")

	if err := backend.MoveToDLQ(ctx, lease, errors.New("terminal: 404")); err != nil {
		t.Fatalf("move to dlq: %v", err)
	}

	stats, err := backend.Stats(ctx, "webhook")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 || stats.Active != 0 {
		t.Fatalf("unexpected stats after dlq: %+v", stats)
	}

	deadStats, err := backend.Stats(ctx, "dead-letter")
	if err != nil {
		t.Fatalf("stats dead-letter: %v", err)
	}
	if deadStats.Waiting != 1 {
		t.Fatalf("expected dead-letter lane to hold the task, got %+v", deadStats)
	}

	entries, err := backend.ListDLQ(ctx, "webhook", 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(entries))
	}
	if entries[0].Reason != "terminal: 404" {
		t.Fatalf("unexpected reason %q", entries[0].Reason)
	}
	if entries[0].OriginalLane != "webhook" {
		t.Fatalf("unexpected original lane %q", entries[0].OriginalLane)
	}
	if entries[0].Task.Priority != 1 {
		t.Fatalf("expected low-priority marker on dead-lettered task, got %d", entries[0].Task.Priority)
	}

	replayed, err := backend.ReplayDLQ(ctx, "webhook", []string{entries[0].ID})
	if err != nil {
		t.Fatalf("replay dlq: %v", err)
	}
	if replayed != 1 {
		t.Fatalf("expected one replayed task, got %d", replayed)
	}
	task, _ := reserveOne(t, backend, "webhook")
	if task.ID != "t-1" || task.Attempt != 0 {
		t.Fatalf("unexpected replayed task %+v", task)
	}
}

func TestMemoryBackend_ReplayRemovesParkedDeadLetterTask(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	for cycle := 1; cycle <= 2; cycle++ {
		if err := backend.Enqueue(ctx, testTask("t-1", "webhook", 5)); err != nil {
			t.Fatalf("cycle %d enqueue: %v", cycle, err)
		}
		_, lease := reserveOne(t, backend, "webhook")
		if err := backend.MoveToDLQ(ctx, lease, errors.New("http 503")); err != nil {
			t.Fatalf("cycle %d move to dlq: %v", cycle, err)
		}

		entries, err := backend.ListDLQ(ctx, "webhook", 10)
		if err != nil {
			t.Fatalf("cycle %d list dlq: %v", cycle, err)
		}
		if len(entries) != 1 {
			t.Fatalf("cycle %d: expected one dlq entry, got %d", cycle, len(entries))
		}
		if _, err := backend.ReplayDLQ(ctx, "webhook", []string{entries[0].ID}); err != nil {
			t.Fatalf("cycle %d replay dlq: %v", cycle, err)
		}

		deadStats, err := backend.Stats(ctx, "dead-letter")
		if err != nil {
			t.Fatalf("cycle %d stats dead-letter: %v", cycle, err)
		}
		if deadStats.Waiting != 0 {
			t.Fatalf("cycle %d: replayed task still parked on the dead-letter lane: %+v", cycle, deadStats)
		}

		task, lease2 := reserveOne(t, backend, "webhook")
		if task.ID != "t-1" {
			t.Fatalf("cycle %d: unexpected replayed task %+v", cycle, task)
		}
		if err := backend.Ack(ctx, lease2); err != nil {
			t.Fatalf("cycle %d ack: %v", cycle, err)
		}
	}
}

func TestMemoryBackend_AckIsIdempotent(t *testing.T) {
	backend := newTestMemoryBackend(t)
	ctx := context.Background()

	if err := backend.Enqueue(ctx, testTask("t-1", "email", 5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, lease := reserveOne(t, backend, "email")
	if err := backend.Ack(ctx, lease); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := backend.Ack(ctx, lease); err != nil {
		t.Fatalf("second ack should be a no-op: %v", err)
	}
}

func TestMemoryBackend_ClosedBackendRejectsOperations(t *testing.T) {
	backend := newTestMemoryBackend(t)
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := backend.Enqueue(context.Background(), testTask("t-1", "email", 5)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
