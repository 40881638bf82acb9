package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/relayq/relayq/pkg/delivery"
	"github.com/relayq/relayq/pkg/notification"
)

// Handler performs one delivery attempt for a notification. It returns an
// outcome snapshot for the ledger; the error, when non-nil, is classified by
// the delivery package so the worker can pick retry or dead-letter.
type Handler func(ctx context.Context, n *notification.Notification) (AttemptOutcome, error)

// AttemptOutcome is what one attempt leaves behind for the ledger.
type AttemptOutcome struct {
	StatusCode int
	Response   string
}

// NewEmailHandler delivers email notifications through the provider.
// Provider failures are always retryable: the provider gives no reliable
// signal that a message can never be delivered.
func NewEmailHandler(provider delivery.EmailProvider) (Handler, error) {
	if provider == nil {
		return nil, errors.New("email provider is required")
	}
	return func(ctx context.Context, n *notification.Notification) (AttemptOutcome, error) {
		payload, err := n.EmailPayload()
		if err != nil {
			return AttemptOutcome{}, delivery.NewTerminalError(0, err.Error())
		}

		receipt, err := provider.Send(ctx, delivery.Message{
			From:     payload.From,
			To:       []string{payload.To},
			Subject:  payload.Subject,
			TextBody: payload.Body,
		})
		if err != nil {
			return AttemptOutcome{}, delivery.NewRetryableError(0, "email delivery failed", err)
		}

		response := receipt.Response
		if id := strings.TrimSpace(receipt.ProviderMessageID); id != "" {
			response = response + " (message id " + id + ")"
		}
		return AttemptOutcome{Response: response}, nil
	}, nil
}

// NewWebhookHandler delivers webhook notifications through the sender.
func NewWebhookHandler(sender *delivery.WebhookSender) (Handler, error) {
	if sender == nil {
		return nil, errors.New("webhook sender is required")
	}
	return func(ctx context.Context, n *notification.Notification) (AttemptOutcome, error) {
		payload, err := n.WebhookPayload()
		if err != nil {
			return AttemptOutcome{}, delivery.NewTerminalError(0, err.Error())
		}

		result, err := sender.Deliver(ctx, payload)
		return AttemptOutcome{StatusCode: result.StatusCode, Response: result.Body}, err
	}, nil
}
