package server

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/tenant"
)

type submitRequest struct {
	TenantID       string          `json:"tenant_id"`
	Priority       int             `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

type replayRequest struct {
	IDs []string `json:"ids"`
}

type notificationResponse struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Kind           string     `json:"kind"`
	Priority       int        `json:"priority"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type attemptResponse struct {
	Number     int       `json:"number"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type usageResponse struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

type submitResponse struct {
	Notification notificationResponse `json:"notification"`
	Existing     bool                 `json:"existing"`
	Usage        usageResponse        `json:"usage"`
}

type historyResponse struct {
	Notification notificationResponse `json:"notification"`
	Attempts     []attemptResponse    `json:"attempts"`
}

type deadLetterResponse struct {
	ID            string    `json:"id"`
	OriginalLane  string    `json:"original_lane"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
	Notification  string    `json:"notification_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	AttemptsSpent int       `json:"attempts_spent"`
}

func toNotificationResponse(n *notification.Notification) notificationResponse {
	return notificationResponse{
		ID:             n.ID,
		TenantID:       n.TenantID,
		Kind:           string(n.Kind),
		Priority:       int(n.Priority),
		Status:         string(n.Status),
		IdempotencyKey: n.IdempotencyKey,
		Attempts:       n.Attempts,
		MaxAttempts:    n.MaxAttempts,
		LastError:      n.LastError,
		CreatedAt:      n.CreatedAt,
		StartedAt:      timePtr(n.StartedAt),
		CompletedAt:    timePtr(n.CompletedAt),
	}
}

func toAttemptResponse(a *notification.Attempt) attemptResponse {
	return attemptResponse{
		Number:     a.Number,
		Outcome:    string(a.Outcome),
		StatusCode: a.StatusCode,
		Response:   a.Response,
		Error:      a.Error,
		At:         a.At,
	}
}

func toUsageResponse(u tenant.Usage) usageResponse {
	return usageResponse{Used: u.Used, Limit: u.Limit, ResetAt: u.ResetAt}
}

func toDeadLetterResponse(entry *queue.DLQEntry) deadLetterResponse {
	out := deadLetterResponse{
		ID:           entry.ID,
		OriginalLane: entry.OriginalLane,
		Reason:       entry.Reason,
		FailedAt:     entry.FailedAt,
	}
	if entry.Task != nil {
		out.Notification = entry.Task.ID
		out.TenantID = entry.Task.TenantID
		out.AttemptsSpent = entry.Task.Attempt
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatRetryAfter(d time.Duration) string {
	return fmt.Sprintf("%d", retryAfterSeconds(d))
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
