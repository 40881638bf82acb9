package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/relayq/relayq/pkg/admission"
	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/delivery"
	"github.com/relayq/relayq/pkg/dispatch"
	"github.com/relayq/relayq/pkg/health"
	"github.com/relayq/relayq/pkg/idempotency"
	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/observability/tracing"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/server"
	"github.com/relayq/relayq/pkg/store"
	"github.com/relayq/relayq/pkg/tenant"
	"github.com/relayq/relayq/pkg/version"
)

// queueBackend joins the queue contract with the lifecycle methods both
// implementations carry.
type queueBackend interface {
	queue.Backend
	HealthCheck(ctx context.Context) error
	Close() error
}

// runServe wires the full pipeline and runs the HTTP server and the delivery
// workers until the context is cancelled or one of them fails.
func runServe(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	traces, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.AppVersion,
		Environment:    cfg.Service.Environment,
	})
	if err != nil {
		return fmt.Errorf("create trace provider: %w", err)
	}
	defer func() {
		if err := traces.Shutdown(context.Background()); err != nil {
			log.Error("failed to shut down trace provider", "error", err)
		}
	}()

	adapter, err := store.NewPostgresAdapter(postgresConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.Error("failed to close postgres adapter", "error", err)
		}
	}()

	applied, err := adapter.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply schema migrations: %w", err)
	}
	if applied > 0 {
		log.Info("schema migrations applied", "count", applied)
	}

	notifications, err := store.NewPostgresNotificationStore(adapter)
	if err != nil {
		return err
	}
	ledger, err := store.NewPostgresDeliveryLedger(adapter)
	if err != nil {
		return err
	}
	tenants, err := tenant.NewPostgresStore(adapter)
	if err != nil {
		return err
	}

	backend, err := buildQueueBackend(cfg, log)
	if err != nil {
		return fmt.Errorf("create queue backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close queue backend", "error", err)
		}
	}()

	limiter, redisLimiter, err := buildLimiter(cfg, log)
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}
	if redisLimiter != nil {
		defer func() {
			if err := redisLimiter.Close(); err != nil {
				log.Error("failed to close rate limiter", "error", err)
			}
		}()
	}

	gate, err := admission.NewGate(tenants, limiter, log)
	if err != nil {
		return err
	}
	resolver, err := idempotency.NewResolver(notifications, log)
	if err != nil {
		return err
	}
	service, err := dispatch.NewService(gate, resolver, backend, notifications, ledger, log)
	if err != nil {
		return err
	}

	worker, err := buildWorker(cfg, backend, notifications, ledger, log)
	if err != nil {
		return fmt.Errorf("create delivery worker: %w", err)
	}

	checks := health.NewRegistry()
	checks.Register(health.NewComponentChecker("postgres", adapter, cfg.Database.QueryTimeout))
	checks.Register(health.NewComponentChecker("queue", backend, cfg.Queue.OperationTimeout))
	if redisLimiter != nil {
		checks.Register(health.NewOptionalComponentChecker("rate_limiter", redisLimiter, cfg.RateLimit.OperationTimeout))
	}

	api, err := server.NewAPI(server.APIConfig{MaxRequestSize: cfg.HTTP.MaxRequestSize}, service, checks, log)
	if err != nil {
		return err
	}
	srv := server.NewServer(server.Config{
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, api.Router(), log)

	log.Info("starting relayq",
		"environment", cfg.Service.Environment,
		"queue_backend", cfg.Queue.Backend,
		"email_provider", cfg.Email.Provider,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(runCtx) }()
	go func() { errCh <- worker.Start(runCtx) }()

	// Whichever component stops first takes the other down with it.
	first := <-errCh
	cancel()
	second := <-errCh

	return errors.Join(first, second)
}

// runMigrate applies pending schema migrations and exits.
func runMigrate(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	adapter, err := store.NewPostgresAdapter(postgresConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.Error("failed to close postgres adapter", "error", err)
		}
	}()

	applied, err := adapter.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply schema migrations: %w", err)
	}
	log.Info("migrations complete", "applied", applied)
	return nil
}

func postgresConfig(cfg *config.Config) store.PostgresConfig {
	return store.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}
}

func buildQueueBackend(cfg *config.Config, log logger.Logger) (queueBackend, error) {
	switch strings.ToLower(cfg.Queue.Backend) {
	case "redis":
		return queue.NewRedisBackend(queue.RedisBackendConfig{
			URL:              cfg.Queue.RedisURL,
			Prefix:           cfg.Queue.Prefix,
			OperationTimeout: cfg.Queue.OperationTimeout,
			PollInterval:     cfg.Queue.PollInterval,
			DeadLetterLane:   notification.LaneDeadLetter,
		}, log)
	case "memory":
		return queue.NewMemoryBackend(queue.MemoryBackendConfig{
			PollInterval:   cfg.Queue.PollInterval,
			DeadLetterLane: notification.LaneDeadLetter,
		}, log)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func buildLimiter(cfg *config.Config, log logger.Logger) (admission.Limiter, *admission.RedisLimiter, error) {
	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		limiter, err := admission.NewRedisLimiter(admission.RedisLimiterConfig{
			URL:              cfg.RateLimit.RedisURL,
			Prefix:           cfg.RateLimit.Prefix,
			Window:           cfg.RateLimit.Window,
			OperationTimeout: cfg.RateLimit.OperationTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return limiter, limiter, nil
	case "local":
		return admission.NewLocalLimiter(cfg.RateLimit.Window), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// workerConfig maps configuration onto the dispatch worker. The lease TTL
// comes from the queue section since it governs how long a reserved task
// stays invisible on the backend.
func workerConfig(cfg *config.Config) dispatch.WorkerConfig {
	return dispatch.WorkerConfig{
		Lanes:       []string{notification.LaneEmail, notification.LaneWebhook},
		Concurrency: cfg.Workers.Concurrency,
		LeaseTTL:    cfg.Queue.LeaseTTL,
		StopTimeout: cfg.Workers.StopTimeout,
		Retry: dispatch.RetryPolicy{
			MaxAttempts:    cfg.Workers.MaxAttempts,
			InitialBackoff: cfg.Workers.InitialBackoff,
			MaxBackoff:     cfg.Workers.MaxBackoff,
			AttemptTimeout: cfg.Workers.AttemptTimeout,
		},
	}
}

func buildWorker(
	cfg *config.Config,
	backend queue.Backend,
	notifications store.NotificationStore,
	ledger store.DeliveryLedger,
	log logger.Logger,
) (*dispatch.Worker, error) {
	provider, err := delivery.NewEmailProvider(delivery.EmailConfig{
		Provider: cfg.Email.Provider,
		From:     cfg.Email.From,
		SMTP: delivery.SMTPConfig{
			Host:             cfg.Email.SMTP.Host,
			Port:             cfg.Email.SMTP.Port,
			Username:         cfg.Email.SMTP.Username,
			Password:         cfg.Email.SMTP.Password,
			EnableTLS:        cfg.Email.SMTP.EnableTLS,
			OperationTimeout: cfg.Email.SMTP.OperationTimeout,
		},
		SendGrid: delivery.SendGridConfig{
			APIKey:           cfg.Email.SendGrid.APIKey,
			BaseURL:          cfg.Email.SendGrid.BaseURL,
			OperationTimeout: cfg.Email.SendGrid.OperationTimeout,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create email provider: %w", err)
	}

	sender, err := delivery.NewWebhookSender(delivery.WebhookSenderConfig{
		Timeout:            cfg.Webhook.Timeout,
		UserAgent:          cfg.Webhook.UserAgent,
		BreakerMaxFailures: cfg.Webhook.BreakerMaxFailures,
		BreakerCooldown:    cfg.Webhook.BreakerCooldown,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create webhook sender: %w", err)
	}

	emailHandler, err := dispatch.NewEmailHandler(provider)
	if err != nil {
		return nil, err
	}
	webhookHandler, err := dispatch.NewWebhookHandler(sender)
	if err != nil {
		return nil, err
	}

	worker, err := dispatch.NewWorker(backend, notifications, ledger, log, workerConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := worker.Register(notification.LaneEmail, emailHandler); err != nil {
		return nil, err
	}
	if err := worker.Register(notification.LaneWebhook, webhookHandler); err != nil {
		return nil, err
	}
	return worker, nil
}
