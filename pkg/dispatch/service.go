package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/pkg/admission"
	"github.com/relayq/relayq/pkg/idempotency"
	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/store"
	"github.com/relayq/relayq/pkg/tenant"
)

// ErrValidation marks submissions rejected before admission.
var ErrValidation = errors.New("invalid submission")

// replayLookupLimit bounds the entry scan when resolving replayed dead-letter
// ids back to notifications.
const replayLookupLimit = 1000

// SubmitRequest is one inbound send request.
type SubmitRequest struct {
	TenantID       string
	Kind           notification.Kind
	Priority       int
	IdempotencyKey string
	Payload        json.RawMessage
}

// SubmitResult reports the accepted notification. Existing is true when the
// idempotency key matched an earlier submission and nothing new was queued.
type SubmitResult struct {
	Notification *notification.Notification
	Existing     bool
	Usage        tenant.Usage
}

// NotificationView is a notification together with its attempt history.
type NotificationView struct {
	Notification *notification.Notification
	Attempts     []*notification.Attempt
}

// Service is the submission and operations front for the dispatch pipeline.
// Submissions run validation, then admission, then idempotency resolution,
// then enqueue; operators reach lanes and the dead-letter queue through it.
type Service struct {
	gate          *admission.Gate
	resolver      *idempotency.Resolver
	backend       queue.Backend
	notifications store.NotificationStore
	ledger        store.DeliveryLedger
	log           logger.Logger
	newID         func() string
	now           func() time.Time
}

// NewService creates the dispatch service.
func NewService(
	gate *admission.Gate,
	resolver *idempotency.Resolver,
	backend queue.Backend,
	notifications store.NotificationStore,
	ledger store.DeliveryLedger,
	log logger.Logger,
) (*Service, error) {
	if gate == nil {
		return nil, errors.New("admission gate is required")
	}
	if resolver == nil {
		return nil, errors.New("idempotency resolver is required")
	}
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
	return &Service{
		gate:          gate,
		resolver:      resolver,
		backend:       backend,
		notifications: notifications,
		ledger:        ledger,
		log:           log,
		newID:         uuid.NewString,
		now:           time.Now,
	}, nil
}

// Submit accepts one notification for delivery. Validation failures never
// consume quota; admission rejections surface as the gate's typed errors.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	draft, err := s.buildNotification(req)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Admit(ctx, draft.TenantID)
	if err != nil {
		return nil, err
	}

	accepted, existing, err := s.resolver.Resolve(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("persist notification failed: %w", err)
	}
	if existing {
		return &SubmitResult{Notification: accepted, Existing: true, Usage: decision.Usage}, nil
	}

	task := &queue.Task{
		ID:          accepted.ID,
		Lane:        accepted.Lane(),
		TenantID:    accepted.TenantID,
		Priority:    int(accepted.Priority),
		Payload:     accepted.Payload,
		MaxAttempts: accepted.MaxAttempts,
		CreatedAt:   accepted.CreatedAt,
	}
	if err := s.backend.Enqueue(ctx, task); err != nil {
		// The record stays queued in the store; an operator can requeue it
		// once the backend recovers.
		s.log.Error("enqueue after persist failed",
			"notification_id", accepted.ID, "lane", task.Lane, "error", err)
		return nil, fmt.Errorf("enqueue notification failed: %w", err)
	}

	s.log.Info("notification accepted",
		"notification_id", accepted.ID,
		"tenant_id", accepted.TenantID,
		"kind", accepted.Kind,
		"priority", int(accepted.Priority))
	return &SubmitResult{Notification: accepted, Usage: decision.Usage}, nil
}

// Status returns the notification's current state.
func (s *Service) Status(ctx context.Context, id string) (*notification.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	return s.notifications.Get(ctx, id)
}

// History returns the notification with its full attempt ledger.
func (s *Service) History(ctx context.Context, id string) (*NotificationView, error) {
	current, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.ledger.ListAttempts(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts failed: %w", err)
	}
	return &NotificationView{Notification: current, Attempts: attempts}, nil
}

// PauseLane stops reservation on a lane; queued tasks stay put.
func (s *Service) PauseLane(ctx context.Context, lane string) error {
	return s.backend.Pause(ctx, lane)
}

// ResumeLane re-enables reservation on a paused lane.
func (s *Service) ResumeLane(ctx context.Context, lane string) error {
	return s.backend.Resume(ctx, lane)
}

// DrainLane discards every waiting and delayed task on a lane.
func (s *Service) DrainLane(ctx context.Context, lane string) error {
	return s.backend.Drain(ctx, lane)
}

// LaneStats reports queue depth counters for a lane.
func (s *Service) LaneStats(ctx context.Context, lane string) (queue.LaneStats, error) {
	return s.backend.Stats(ctx, lane)
}

// ListDeadLetters returns dead-lettered entries for a lane, newest first.
func (s *Service) ListDeadLetters(ctx context.Context, lane string, limit int) ([]*queue.DLQEntry, error) {
	dlq, ok := s.backend.(queue.DLQStore)
	if !ok {
		return nil, errors.New("queue backend does not expose a dead-letter store")
	}
	return dlq.ListDLQ(ctx, lane, limit)
}

// ReplayDeadLetters moves the given dead-letter entries back to their
// original lane with a reset attempt counter and marks the underlying
// notifications queued again.
func (s *Service) ReplayDeadLetters(ctx context.Context, lane string, ids []string) (int, error) {
	dlq, ok := s.backend.(queue.DLQStore)
	if !ok {
		return 0, errors.New("queue backend does not expose a dead-letter store")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Entry ids are queue-generated; resolve them to notification ids before
	// the replay removes the entries.
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[strings.TrimSpace(id)] = struct{}{}
	}
	entries, err := dlq.ListDLQ(ctx, lane, replayLookupLimit)
	if err != nil {
		return 0, fmt.Errorf("list dead letters failed: %w", err)
	}
	notificationIDs := make([]string, 0, len(ids))
	for _, entry := range entries {
		if _, ok := wanted[entry.ID]; ok && entry.Task != nil {
			notificationIDs = append(notificationIDs, entry.Task.ID)
		}
	}

	replayed, err := dlq.ReplayDLQ(ctx, lane, ids)
	if err != nil {
		return replayed, err
	}
	for _, id := range notificationIDs {
		if requeueErr := s.notifications.Requeue(ctx, id, "replayed from dead-letter queue"); requeueErr != nil {
			s.log.Warn("dead-letter replay status update failed", "notification_id", id, "error", requeueErr)
		}
	}
	return replayed, nil
}

func (s *Service) buildNotification(req SubmitRequest) (*notification.Notification, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}

	priorityValue := req.Priority
	if priorityValue == 0 {
		priorityValue = int(notification.PriorityNormal)
	}
	priority, err := notification.ParsePriority(priorityValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	draft := &notification.Notification{
		ID:             s.newID(),
		TenantID:       tenantID,
		Kind:           req.Kind,
		Priority:       priority,
		Status:         notification.StatusQueued,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Payload:        req.Payload,
		MaxAttempts:    notification.DefaultMaxAttempts,
		CreatedAt:      s.now().UTC(),
	}
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Decode the transport payload now so malformed requests are rejected
	// before admission consumes quota.
	switch draft.Kind {
	case notification.KindEmail:
		if _, err := draft.EmailPayload(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	case notification.KindWebhook:
		if _, err := draft.WebhookPayload(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return draft, nil
}
