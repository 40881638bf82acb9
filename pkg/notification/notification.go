package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind identifies the delivery transport for a notification.
type Kind string

const (
	KindEmail   Kind = "email"
	KindWebhook Kind = "webhook"
)

// Lane names match transport kinds; the dead-letter lane holds exhausted jobs.
const (
	LaneEmail      = "email"
	LaneWebhook    = "webhook"
	LaneDeadLetter = "dead-letter"
)

// Priority orders dequeue across tiers; higher drains first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityCritical Priority = 10
)

// Status is the notification lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts bounds delivery attempts before dead-lettering.
const DefaultMaxAttempts = 3

// DefaultWebhookTimeout bounds a single webhook delivery attempt.
const DefaultWebhookTimeout = 30 * time.Second

// Notification is one accepted send request. It is owned by the queue while
// queued/processing and by the ledger history once terminal.
type Notification struct {
	ID             string
	TenantID       string
	Kind           Kind
	Priority       Priority
	Status         Status
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	MaxAttempts    int
	LastError      string
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
}

// EmailPayload is the transport payload for email notifications.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

// WebhookPayload is the transport payload for webhook notifications.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"payload"`
}

// Validate checks the fields required before a notification is accepted.
func (n *Notification) Validate() error {
	if n == nil {
		return errors.New("notification is nil")
	}
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("notification id is required")
	}
	if strings.TrimSpace(n.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if n.Kind != KindEmail && n.Kind != KindWebhook {
		return fmt.Errorf("unsupported notification kind %q", n.Kind)
	}
	if len(n.Payload) == 0 {
		return errors.New("notification payload is required")
	}
	switch n.Priority {
	case PriorityLow, PriorityNormal, PriorityCritical:
	default:
		return fmt.Errorf("unsupported priority %d", n.Priority)
	}
	if n.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	return nil
}

// Lane returns the queue lane for the notification's transport.
func (n *Notification) Lane() string {
	return string(n.Kind)
}

// EmailPayload decodes the payload as an email payload.
func (n *Notification) EmailPayload() (EmailPayload, error) {
	var p EmailPayload
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return EmailPayload{}, fmt.Errorf("decode email payload: %w", err)
	}
	return p, p.Validate()
}

// WebhookPayload decodes the payload as a webhook payload.
func (n *Notification) WebhookPayload() (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return WebhookPayload{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return p, p.Validate()
}

// Validate checks required email payload fields.
func (p EmailPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("email recipient is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return errors.New("email subject is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return errors.New("email body is required")
	}
	return nil
}

// Validate checks required webhook payload fields.
func (p WebhookPayload) Validate() error {
	target := strings.TrimSpace(p.URL)
	if target == "" {
		return errors.New("webhook url is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook url %q", p.URL)
	}
	if len(p.Body) == 0 {
		return errors.New("webhook payload is required")
	}
	return nil
}

// ParsePriority maps the wire values 1/5/10 onto priority tiers.
func ParsePriority(value int) (Priority, error) {
	switch Priority(value) {
	case PriorityLow, PriorityNormal, PriorityCritical:
		return Priority(value), nil
	default:
		return 0, fmt.Errorf("priority must be one of 1, 5, 10; got %d", value)
	}
}
