package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/relayq/relayq/pkg/delivery"
	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/observability/tracing"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/resilience"
	"github.com/relayq/relayq/pkg/store"
)

const (
	DefaultWorkerConcurrency    = 5
	DefaultWorkerReserveTimeout = time.Second
	DefaultWorkerStopTimeout    = 10 * time.Second

	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// RetryPolicy controls retry behavior for failed deliveries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (c *RetryPolicy) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = notification.DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
}

// WorkerConfig configures worker lifecycle and concurrency.
type WorkerConfig struct {
	Lanes          []string
	Concurrency    int
	LeaseTTL       time.Duration
	ReserveTimeout time.Duration
	StopTimeout    time.Duration
	Retry          RetryPolicy
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultWorkerConcurrency
	}
	if c.LeaseTTL <= 0 {
		// The lease must outlive one attempt or an expiring lease would
		// hand the task to another worker mid-delivery.
		c.LeaseTTL = 2 * DefaultAttemptTimeout
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = DefaultWorkerReserveTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultWorkerStopTimeout
	}
	c.Retry.normalize()
}

// Worker drains notification lanes and drives each delivery through its
// handler, the retry schedule, the delivery ledger and the store status
// transitions.
type Worker struct {
	backend       queue.Backend
	notifications store.NotificationStore
	ledger        store.DeliveryLedger
	log           logger.Logger
	config        WorkerConfig

	mu       sync.RWMutex
	handlers map[string]Handler

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWorker creates a dispatch worker.
func NewWorker(
	backend queue.Backend,
	notifications store.NotificationStore,
	ledger store.DeliveryLedger,
	log logger.Logger,
	cfg WorkerConfig,
) (*Worker, error) {
	if backend == nil {
		return nil, errors.New("queue backend is required")
	}
	if notifications == nil {
		return nil, errors.New("notification store is required")
	}
	if ledger == nil {
		return nil, errors.New("delivery ledger is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	lanes := make([]string, 0, len(cfg.Lanes))
	for _, lane := range cfg.Lanes {
		if trimmed := strings.TrimSpace(lane); trimmed != "" {
			lanes = append(lanes, trimmed)
		}
	}
	if len(lanes) == 0 {
		return nil, errors.New("at least one lane is required")
	}
	cfg.Lanes = lanes

	return &Worker{
		backend:       backend,
		notifications: notifications,
		ledger:        ledger,
		log:           log,
		config:        cfg,
		handlers:      map[string]Handler{},
	}, nil
}

// Register binds a handler to a lane.
func (w *Worker) Register(lane string, handler Handler) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return errors.New("lane is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[lane] = handler
	return nil
}

// Start launches lane loops and blocks until context cancellation.
func (w *Worker) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	w.lifecycleMu.Lock()
	if w.running {
		w.lifecycleMu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lifecycleMu.Unlock()

	for _, lane := range w.config.Lanes {
		for idx := 0; idx < w.config.Concurrency; idx++ {
			w.wg.Add(1)
			go w.runLaneLoop(runCtx, lane)
		}
	}

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer stopCancel()
	return w.Stop(stopCtx)
}

// Stop requests graceful shutdown and waits for active deliveries to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.lifecycleMu.Lock()
	if !w.running {
		w.lifecycleMu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return nil
	}
}

func (w *Worker) runLaneLoop(ctx context.Context, lane string) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		reserveCtx, cancel := context.WithTimeout(ctx, w.config.ReserveTimeout)
		task, lease, err := w.backend.Reserve(reserveCtx, lane, w.config.LeaseTTL)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Warn("delivery reserve failed", "lane", lane, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if task == nil || lease == nil {
			continue
		}

		incrementDeliveryInFlight(lane)
		if err := w.process(ctx, task, lease); err != nil {
			w.log.Warn("delivery processing failed",
				"lane", lane, "notification_id", task.ID, "error", err)
			recordDeliveryProcessed(lane, "error")
		}
		decrementDeliveryInFlight(lane)
	}
}

// process runs one delivery attempt end to end. The task id doubles as the
// notification id; the store stays the source of truth for status and the
// attempt counter.
func (w *Worker) process(ctx context.Context, task *queue.Task, lease *queue.Lease) error {
	current, err := w.notifications.Get(ctx, task.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Queue entry without a backing record; nothing to deliver.
			w.log.Warn("dropping orphaned queue task", "notification_id", task.ID, "lane", task.Lane)
			if ackErr := w.backend.Ack(ctx, lease); ackErr != nil {
				return fmt.Errorf("ack orphaned task failed: %w", ackErr)
			}
			recordDeliveryProcessed(task.Lane, "orphaned")
			return nil
		}
		return w.retryWithoutAttempt(ctx, task, lease, fmt.Errorf("load notification failed: %w", err))
	}
	if current.Status == notification.StatusCompleted || current.Status == notification.StatusFailed {
		// Terminal already; a duplicate queue entry must not redeliver.
		if ackErr := w.backend.Ack(ctx, lease); ackErr != nil {
			return fmt.Errorf("ack settled notification failed: %w", ackErr)
		}
		recordDeliveryProcessed(task.Lane, "settled")
		return nil
	}

	attemptNumber, err := w.notifications.MarkProcessing(ctx, current.ID, time.Now().UTC())
	if err != nil {
		return w.retryWithoutAttempt(ctx, task, lease, fmt.Errorf("mark processing failed: %w", err))
	}

	attemptCtx, span := tracing.StartDeliverySpan(ctx, task.Lane, current.ID, attemptNumber)
	defer span.End()

	handler, found := w.lookupHandler(task.Lane)
	if !found {
		missingErr := delivery.NewTerminalError(0, fmt.Sprintf("no handler registered for lane %q", task.Lane))
		tracing.RecordError(span, missingErr)
		w.appendLedgerEntry(ctx, current, attemptNumber, AttemptOutcome{}, missingErr)
		return w.settleFailure(ctx, current, task, lease, attemptNumber, missingErr)
	}

	outcome, execErr := w.executeHandler(attemptCtx, current, handler)
	w.appendLedgerEntry(ctx, current, attemptNumber, outcome, execErr)

	if execErr == nil {
		tracing.RecordSuccess(span)
		if err := w.notifications.MarkCompleted(ctx, current.ID, time.Now().UTC()); err != nil {
			w.log.Error("mark completed failed", "notification_id", current.ID, "error", err)
		}
		if err := w.backend.Ack(ctx, lease); err != nil {
			return fmt.Errorf("ack failed: %w", err)
		}
		recordDeliveryProcessed(task.Lane, "success")
		return nil
	}

	tracing.RecordError(span, execErr)
	return w.settleFailure(ctx, current, task, lease, attemptNumber, execErr)
}

func (w *Worker) executeHandler(ctx context.Context, n *notification.Notification, handler Handler) (outcome AttemptOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while delivering notification: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	err = resilience.WithTimeout(ctx, w.config.Retry.AttemptTimeout, func(runCtx context.Context) error {
		var handlerErr error
		outcome, handlerErr = handler(runCtx, n)
		return handlerErr
	})
	return outcome, err
}

// settleFailure picks retry or dead-letter for a failed attempt. Terminal
// failures and exhausted attempts dead-letter; everything else retries with
// exponential backoff.
func (w *Worker) settleFailure(
	ctx context.Context,
	current *notification.Notification,
	task *queue.Task,
	lease *queue.Lease,
	attemptNumber int,
	failure error,
) error {
	maxAttempts := current.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.config.Retry.MaxAttempts
	}

	if delivery.IsTerminal(failure) || attemptNumber >= maxAttempts {
		if err := w.notifications.MarkFailed(ctx, current.ID, failure.Error(), time.Now().UTC()); err != nil {
			w.log.Error("mark failed failed", "notification_id", current.ID, "error", err)
		}
		if err := w.backend.MoveToDLQ(ctx, lease, failure); err != nil {
			return fmt.Errorf("dlq move failed: %w", err)
		}
		recordDeliveryDLQ(task.Lane)
		recordDeliveryProcessed(task.Lane, "dlq")
		w.log.Warn("notification dead-lettered",
			"notification_id", current.ID,
			"lane", task.Lane,
			"attempt", attemptNumber,
			"terminal", delivery.IsTerminal(failure),
			"error", failure)
		return nil
	}

	if err := w.notifications.Requeue(ctx, current.ID, failure.Error()); err != nil {
		w.log.Error("requeue status update failed", "notification_id", current.ID, "error", err)
	}
	backoff := exponentialBackoff(attemptNumber, w.config.Retry.InitialBackoff, w.config.Retry.MaxBackoff)
	nextRun := time.Now().UTC().Add(backoff)
	if err := w.backend.Nack(ctx, lease, nextRun, failure); err != nil {
		return fmt.Errorf("nack failed: %w", err)
	}
	recordDeliveryRetry(task.Lane)
	recordDeliveryProcessed(task.Lane, "retry")
	return nil
}

// retryWithoutAttempt puts the task back without burning one of the
// notification's attempts; used when the store, not the delivery, failed.
func (w *Worker) retryWithoutAttempt(ctx context.Context, task *queue.Task, lease *queue.Lease, cause error) error {
	nextRun := time.Now().UTC().Add(w.config.Retry.InitialBackoff)
	if err := w.backend.Nack(ctx, lease, nextRun, cause); err != nil {
		return errors.Join(cause, fmt.Errorf("nack failed: %w", err))
	}
	return cause
}

// appendLedgerEntry records the attempt. Ledger failures are logged and
// swallowed: history must never decide whether a delivery retries.
func (w *Worker) appendLedgerEntry(
	ctx context.Context,
	current *notification.Notification,
	attemptNumber int,
	outcome AttemptOutcome,
	execErr error,
) {
	entry := &notification.Attempt{
		NotificationID: current.ID,
		Number:         attemptNumber,
		Outcome:        notification.OutcomeSuccess,
		StatusCode:     outcome.StatusCode,
		Response:       outcome.Response,
		At:             time.Now().UTC(),
	}
	if execErr != nil {
		entry.Outcome = notification.OutcomeFailure
		entry.Error = execErr.Error()
		if code := delivery.StatusCode(execErr); code != 0 {
			entry.StatusCode = code
		}
	}

	if err := w.ledger.AppendAttempt(ctx, entry); err != nil {
		w.log.Error("delivery ledger append failed",
			"notification_id", current.ID, "attempt", attemptNumber, "error", err)
	}
}

func (w *Worker) lookupHandler(lane string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	handler, ok := w.handlers[strings.TrimSpace(lane)]
	return handler, ok
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt <= 0 {
		return initial
	}

	backoff := initial
	for idx := 1; idx < attempt; idx++ {
		if backoff >= max/2 {
			return max
		}
		backoff *= 2
	}
	if backoff > max {
		return max
	}
	return backoff
}
