// Package config loads and validates service configuration with precedence
// ENV > file > defaults.
package config

import (
	"time"

	"github.com/relayq/relayq/pkg/delivery"
	"github.com/relayq/relayq/pkg/notification"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Email     EmailConfig     `mapstructure:"email"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServiceConfig identifies the deployment.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// QueueConfig configures the notification queue backend.
type QueueConfig struct {
	// Backend selects "redis" or "memory".
	Backend          string        `mapstructure:"backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	Prefix           string        `mapstructure:"prefix"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// WorkersConfig configures the dispatch workers.
type WorkersConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

// EmailConfig configures the outbound email provider.
type EmailConfig struct {
	Provider string         `mapstructure:"provider"`
	From     string         `mapstructure:"from"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
}

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	EnableTLS        bool          `mapstructure:"enable_tls"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SendGridConfig configures SendGrid API delivery.
type SendGridConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// BreakerMaxFailures trips the per-host circuit breaker; negative disables it.
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

// RateLimitConfig configures the per-tenant submission rate limiter.
type RateLimitConfig struct {
	// Backend selects "redis" or "local".
	Backend          string        `mapstructure:"backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	Prefix           string        `mapstructure:"prefix"`
	Window           time.Duration `mapstructure:"window"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "relayq",
			Environment: "development",
		},
		HTTP: HTTPConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:          "redis",
			Prefix:           "relayq:queue",
			LeaseTTL:         time.Minute,
			PollInterval:     250 * time.Millisecond,
			OperationTimeout: 5 * time.Second,
		},
		Workers: WorkersConfig{
			Concurrency:    5,
			MaxAttempts:    notification.DefaultMaxAttempts,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			AttemptTimeout: notification.DefaultWebhookTimeout,
			StopTimeout:    10 * time.Second,
		},
		Email: EmailConfig{
			Provider: "log",
			SMTP: SMTPConfig{
				Port:             587,
				EnableTLS:        true,
				OperationTimeout: 10 * time.Second,
			},
			SendGrid: SendGridConfig{
				BaseURL:          "https://api.sendgrid.com",
				OperationTimeout: 10 * time.Second,
			},
		},
		Webhook: WebhookConfig{
			Timeout:            notification.DefaultWebhookTimeout,
			UserAgent:          "relayq/1.0",
			BreakerMaxFailures: delivery.DefaultBreakerMaxFailures,
			BreakerCooldown:    delivery.DefaultBreakerCooldown,
		},
		RateLimit: RateLimitConfig{
			Backend:          "redis",
			Prefix:           "relayq:ratelimit",
			Window:           time.Minute,
			OperationTimeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
	}
}
