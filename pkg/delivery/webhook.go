package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/resilience"
)

// maxWebhookResponseBytes bounds how much of the endpoint's response body is
// kept for the delivery ledger.
const maxWebhookResponseBytes = 4 << 10

// Breaker defaults: five straight transport-level failures open the circuit
// for the endpoint's host, and it is probed again after the cooldown.
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerCooldown    = 30 * time.Second
)

// WebhookResult describes a completed HTTP exchange with the endpoint.
type WebhookResult struct {
	StatusCode int
	// Body is a truncated snapshot of the response body.
	Body string
}

// WebhookSenderConfig configures the webhook sender.
type WebhookSenderConfig struct {
	// Timeout bounds one delivery attempt end to end.
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client

	// BreakerMaxFailures is the consecutive retryable failures per host
	// before deliveries to it are short-circuited. Negative disables the
	// breaker, zero uses the default.
	BreakerMaxFailures int
	// BreakerCooldown is how long an open circuit waits before probing.
	BreakerCooldown time.Duration
}

// WebhookSender posts notification payloads to tenant-provided endpoints.
//
// Outcome classification: any 2xx response is success. A status in [400,500)
// is a terminal failure since the endpoint rejected the request itself.
// 5xx responses, timeouts and connection errors are retryable.
//
// A per-host circuit breaker short-circuits deliveries to endpoints that
// keep failing at the transport level. Short-circuited attempts fail as
// retryable so the notification's backoff schedule still applies. Endpoint
// rejections (4xx) do not count against the breaker.
type WebhookSender struct {
	config     WebhookSenderConfig
	httpClient *http.Client
	log        logger.Logger

	breakers sync.Map // map[string]*resilience.Breaker keyed by host
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg WebhookSenderConfig, log logger.Logger) (*WebhookSender, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = notification.DefaultWebhookTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "relayq/1.0"
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	return &WebhookSender{
		config:     cfg,
		httpClient: defaultHTTPClient(cfg.HTTPClient, cfg.Timeout),
		log:        log,
	}, nil
}

// Deliver posts the payload once and classifies the outcome.
func (s *WebhookSender) Deliver(ctx context.Context, payload notification.WebhookPayload) (WebhookResult, error) {
	if err := payload.Validate(); err != nil {
		return WebhookResult{}, NewTerminalError(0, err.Error())
	}

	endpoint, err := url.Parse(payload.URL)
	if err != nil {
		return WebhookResult{}, NewTerminalError(0, fmt.Sprintf("parse webhook url: %v", err))
	}

	breaker := s.breakerFor(endpoint.Host)
	if breaker == nil {
		return s.deliverOnce(ctx, payload)
	}

	var result WebhookResult
	var deliverErr error
	execErr := breaker.Execute(func() error {
		result, deliverErr = s.deliverOnce(ctx, payload)
		// Only transport-level failures trip the breaker. A 4xx means the
		// endpoint is alive and answering.
		if deliverErr != nil && !IsTerminal(deliverErr) {
			return deliverErr
		}
		return nil
	})
	if errors.Is(execErr, resilience.ErrBreakerOpen) {
		s.log.Warn("webhook delivery short-circuited", "host", endpoint.Host)
		return WebhookResult{}, NewRetryableError(0,
			fmt.Sprintf("webhook endpoint %s is failing, delivery short-circuited", endpoint.Host), execErr)
	}
	return result, deliverErr
}

func (s *WebhookSender) deliverOnce(ctx context.Context, payload notification.WebhookPayload) (WebhookResult, error) {
	method := strings.ToUpper(strings.TrimSpace(payload.Method))
	if method == "" {
		method = http.MethodPost
	}

	cctx, cancel := withTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, method, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return WebhookResult{}, NewTerminalError(0, fmt.Sprintf("build webhook request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	for key, value := range payload.Headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return WebhookResult{}, NewRetryableError(0, "webhook request failed", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	if readErr != nil {
		s.log.Warn("webhook response body read failed", "url", payload.URL, "error", readErr)
	}
	result := WebhookResult{StatusCode: resp.StatusCode, Body: string(body)}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return result, NewTerminalError(resp.StatusCode,
			fmt.Sprintf("webhook endpoint rejected delivery with status %d", resp.StatusCode))
	default:
		return result, NewRetryableError(resp.StatusCode,
			fmt.Sprintf("webhook delivery failed with status %d", resp.StatusCode), nil)
	}
}

func (s *WebhookSender) breakerFor(host string) *resilience.Breaker {
	if s.config.BreakerMaxFailures < 0 {
		return nil
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if existing, ok := s.breakers.Load(host); ok {
		return existing.(*resilience.Breaker)
	}
	created, _ := s.breakers.LoadOrStore(host,
		resilience.NewBreaker(s.config.BreakerMaxFailures, s.config.BreakerCooldown))
	return created.(*resilience.Breaker)
}
