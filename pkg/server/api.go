package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayq/relayq/pkg/admission"
	"github.com/relayq/relayq/pkg/dispatch"
	"github.com/relayq/relayq/pkg/health"
	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/store"
	"github.com/relayq/relayq/pkg/tenant"
)

// DefaultDLQListLimit bounds dead-letter listings when the client does not
// pass an explicit limit.
const DefaultDLQListLimit = 50

// API wires the dispatch service and health registry into HTTP routes.
type API struct {
	service *dispatch.Service
	checks  *health.Registry
	log     logger.Logger

	maxRequestSize int64
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	// MaxRequestSize caps request bodies in bytes. Zero means no cap.
	MaxRequestSize int64
}

// NewAPI creates the HTTP API over the dispatch service.
func NewAPI(cfg APIConfig, service *dispatch.Service, checks *health.Registry, log logger.Logger) (*API, error) {
	if service == nil {
		return nil, errors.New("dispatch service is required")
	}
	if checks == nil {
		return nil, errors.New("health registry is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &API{
		service:        service,
		checks:         checks,
		log:            log,
		maxRequestSize: cfg.MaxRequestSize,
	}, nil
}

// Router builds the gin engine with all routes and middleware registered.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(requestIDMiddleware())
	engine.Use(tracingMiddleware())
	engine.Use(recoveryMiddleware(a.log))
	engine.Use(loggingMiddleware(a.log))
	engine.Use(metricsMiddleware())
	if a.maxRequestSize > 0 {
		engine.Use(requestSizeMiddleware(a.maxRequestSize))
	}

	engine.GET("/healthz", a.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.POST("/notifications/email", a.handleSubmit(notification.KindEmail))
		v1.POST("/notifications/webhook", a.handleSubmit(notification.KindWebhook))
		v1.GET("/notifications/:id", a.handleStatus)
		v1.GET("/notifications/:id/attempts", a.handleHistory)

		v1.GET("/queues/:lane/stats", a.handleLaneStats)
		v1.POST("/queues/:lane/pause", a.handleLaneAction(a.service.PauseLane, "paused"))
		v1.POST("/queues/:lane/resume", a.handleLaneAction(a.service.ResumeLane, "resumed"))
		v1.POST("/queues/:lane/drain", a.handleLaneAction(a.service.DrainLane, "drained"))

		v1.GET("/queues/:lane/dead-letters", a.handleListDeadLetters)
		v1.POST("/queues/:lane/dead-letters/replay", a.handleReplayDeadLetters)
	}

	return engine
}

func (a *API) handleSubmit(kind notification.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body submitRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "request body must be valid JSON: "+err.Error())
			return
		}

		result, err := a.service.Submit(c.Request.Context(), dispatch.SubmitRequest{
			TenantID:       body.TenantID,
			Kind:           kind,
			Priority:       body.Priority,
			IdempotencyKey: body.IdempotencyKey,
			Payload:        body.Payload,
		})
		if err != nil {
			a.writeSubmitError(c, err)
			return
		}

		status := http.StatusAccepted
		if result.Existing {
			status = http.StatusOK
		}
		c.JSON(status, submitResponse{
			Notification: toNotificationResponse(result.Notification),
			Existing:     result.Existing,
			Usage:        toUsageResponse(result.Usage),
		})
	}
}

func (a *API) writeSubmitError(c *gin.Context, err error) {
	var quotaErr *admission.QuotaExceededError
	var rateErr *admission.RateLimitedError

	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, tenant.ErrNotFound):
		writeError(c, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.As(err, &quotaErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "quota_exceeded",
			"message": quotaErr.Error(),
			"usage":   toUsageResponse(quotaErr.Usage),
		})
	case errors.As(err, &rateErr):
		c.Header("Retry-After", formatRetryAfter(rateErr.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate_limited",
			"message":             rateErr.Error(),
			"retry_after_seconds": retryAfterSeconds(rateErr.RetryAfter),
		})
	default:
		a.log.WithContext(c.Request.Context()).Error("submission failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "submission failed")
	}
}

func (a *API) handleStatus(c *gin.Context) {
	n, err := a.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotificationResponse(n))
}

func (a *API) handleHistory(c *gin.Context) {
	view, err := a.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeLookupError(c, err)
		return
	}

	attempts := make([]attemptResponse, 0, len(view.Attempts))
	for _, attempt := range view.Attempts {
		attempts = append(attempts, toAttemptResponse(attempt))
	}
	c.JSON(http.StatusOK, historyResponse{
		Notification: toNotificationResponse(view.Notification),
		Attempts:     attempts,
	})
}

func (a *API) writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "notification not found")
	default:
		a.log.WithContext(c.Request.Context()).Error("notification lookup failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
	}
}

// laneParam validates the :lane path segment against the known lanes.
func laneParam(c *gin.Context) (string, bool) {
	lane := c.Param("lane")
	switch lane {
	case notification.LaneEmail, notification.LaneWebhook, notification.LaneDeadLetter:
		return lane, true
	default:
		writeError(c, http.StatusBadRequest, "invalid_request", "unknown lane: "+lane)
		return "", false
	}
}

func (a *API) handleLaneStats(c *gin.Context) {
	lane, ok := laneParam(c)
	if !ok {
		return
	}
	stats, err := a.service.LaneStats(c.Request.Context(), lane)
	if err != nil {
		a.writeLaneError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) handleLaneAction(action func(context.Context, string) error, result string) gin.HandlerFunc {
	return func(c *gin.Context) {
		lane, ok := laneParam(c)
		if !ok {
			return
		}
		if err := action(c.Request.Context(), lane); err != nil {
			a.writeLaneError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lane": lane, "result": result})
	}
}

func (a *API) writeLaneError(c *gin.Context, err error) {
	if errors.Is(err, queue.ErrValidation) {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	a.log.WithContext(c.Request.Context()).Error("lane operation failed", "error", err)
	writeError(c, http.StatusInternalServerError, "internal_error", "lane operation failed")
}

func (a *API) handleListDeadLetters(c *gin.Context) {
	limit := DefaultDLQListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	lane, ok := laneParam(c)
	if !ok {
		return
	}
	entries, err := a.service.ListDeadLetters(c.Request.Context(), lane, limit)
	if err != nil {
		a.writeLaneError(c, err)
		return
	}

	out := make([]deadLetterResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toDeadLetterResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (a *API) handleReplayDeadLetters(c *gin.Context) {
	var body replayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "request body must be valid JSON: "+err.Error())
		return
	}
	if len(body.IDs) == 0 {
		writeError(c, http.StatusBadRequest, "invalid_request", "ids is required")
		return
	}

	lane, ok := laneParam(c)
	if !ok {
		return
	}
	replayed, err := a.service.ReplayDeadLetters(c.Request.Context(), lane, body.IDs)
	if err != nil {
		a.writeLaneError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}

func (a *API) handleHealth(c *gin.Context) {
	report := a.checks.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}
