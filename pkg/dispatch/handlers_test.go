package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayq/relayq/pkg/delivery"
	"github.com/relayq/relayq/pkg/notification"
)

type fakeEmailProvider struct {
	receipt delivery.Receipt
	err     error
	last    delivery.Message
}

func (p *fakeEmailProvider) Send(ctx context.Context, msg delivery.Message) (delivery.Receipt, error) {
	p.last = msg
	return p.receipt, p.err
}

func (p *fakeEmailProvider) Close() error { return nil }

func TestEmailHandler_Success(t *testing.T) {
	provider := &fakeEmailProvider{
		receipt: delivery.Receipt{ProviderMessageID: "msg-42", Response: "sendgrid accepted with status 202"},
	}
	handler, err := NewEmailHandler(provider)
	if err != nil {
		t.Fatalf("NewEmailHandler: %v", err)
	}

	outcome, err := handler(context.Background(), queuedEmail("n-1"))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	want := "sendgrid accepted with status 202 (message id msg-42)"
	if outcome.Response != want {
		t.Fatalf("expected response %q, got %q", want, outcome.Response)
	}
	if len(provider.last.To) != 1 || provider.last.To[0] != "user@example.com" {
		t.Fatalf("unexpected recipients: %v", provider.last.To)
	}
	if provider.last.Subject != "welcome" {
		t.Fatalf("unexpected subject: %q", provider.last.Subject)
	}
}

func TestEmailHandler_ProviderErrorIsRetryable(t *testing.T) {
	provider := &fakeEmailProvider{err: errors.New("connection reset")}
	handler, _ := NewEmailHandler(provider)

	_, err := handler(context.Background(), queuedEmail("n-1"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if delivery.IsTerminal(err) {
		t.Fatalf("provider errors must stay retryable, got terminal: %v", err)
	}
}

func TestEmailHandler_MalformedPayloadIsTerminal(t *testing.T) {
	handler, _ := NewEmailHandler(&fakeEmailProvider{})

	n := queuedEmail("n-1")
	n.Payload = []byte(`{"subject":"missing recipient"}`)
	_, err := handler(context.Background(), n)
	if err == nil || !delivery.IsTerminal(err) {
		t.Fatalf("expected terminal error for malformed payload, got %v", err)
	}
}

func TestWebhookHandler_PassesClassificationThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("try later"))
	}))
	defer server.Close()

	sender, err := delivery.NewWebhookSender(delivery.WebhookSenderConfig{Timeout: time.Second}, nopLogger{})
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	handler, err := NewWebhookHandler(sender)
	if err != nil {
		t.Fatalf("NewWebhookHandler: %v", err)
	}

	payload, _ := json.Marshal(notification.WebhookPayload{
		URL:  server.URL,
		Body: json.RawMessage(`{"event":"ping"}`),
	})
	n := queuedWebhook("n-1")
	n.Payload = payload

	outcome, err := handler(context.Background(), n)
	if err == nil {
		t.Fatalf("expected error for 503 response")
	}
	if delivery.IsTerminal(err) {
		t.Fatalf("503 must be retryable, got terminal: %v", err)
	}
	if outcome.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 in outcome, got %d", outcome.StatusCode)
	}
	if outcome.Response != "try later" {
		t.Fatalf("expected response body in outcome, got %q", outcome.Response)
	}
}

func TestWebhookHandler_MalformedPayloadIsTerminal(t *testing.T) {
	sender, _ := delivery.NewWebhookSender(delivery.WebhookSenderConfig{}, nopLogger{})
	handler, _ := NewWebhookHandler(sender)

	n := queuedWebhook("n-1")
	n.Payload = []byte(`{"url":""}`)
	_, err := handler(context.Background(), n)
	if err == nil || !delivery.IsTerminal(err) {
		t.Fatalf("expected terminal error for malformed payload, got %v", err)
	}
}
