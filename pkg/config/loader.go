package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads and validates configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader with viper. Precedence: ENV > file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to RELAYQ.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{configFile: configFile, envPrefix: envPrefix}
}

// Load reads defaults, the optional config file and environment overrides.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds nested keys explicitly; viper's automatic env handling
// does not see keys that only exist in struct tags.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.env("SERVICE_NAME"))
	v.BindEnv("service.environment", l.env("SERVICE_ENVIRONMENT"), l.env("ENVIRONMENT"))

	v.BindEnv("http.port", l.env("HTTP_PORT"))
	v.BindEnv("http.read_timeout", l.env("HTTP_READ_TIMEOUT"))
	v.BindEnv("http.write_timeout", l.env("HTTP_WRITE_TIMEOUT"))
	v.BindEnv("http.idle_timeout", l.env("HTTP_IDLE_TIMEOUT"))
	v.BindEnv("http.max_request_size", l.env("HTTP_MAX_REQUEST_SIZE"))

	v.BindEnv("log.level", l.env("LOG_LEVEL"))
	v.BindEnv("log.format", l.env("LOG_FORMAT"))

	v.BindEnv("database.url", l.env("DB_URL"), l.env("DATABASE_URL"))
	v.BindEnv("database.max_open_conns", l.env("DB_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.env("DB_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.env("DB_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.env("DB_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.env("DB_QUERY_TIMEOUT"))

	v.BindEnv("queue.backend", l.env("QUEUE_BACKEND"))
	v.BindEnv("queue.redis_url", l.env("QUEUE_REDIS_URL"))
	v.BindEnv("queue.prefix", l.env("QUEUE_PREFIX"))
	v.BindEnv("queue.lease_ttl", l.env("QUEUE_LEASE_TTL"))
	v.BindEnv("queue.poll_interval", l.env("QUEUE_POLL_INTERVAL"))
	v.BindEnv("queue.operation_timeout", l.env("QUEUE_OPERATION_TIMEOUT"))

	v.BindEnv("workers.concurrency", l.env("WORKERS_CONCURRENCY"))
	v.BindEnv("workers.max_attempts", l.env("WORKERS_MAX_ATTEMPTS"))
	v.BindEnv("workers.initial_backoff", l.env("WORKERS_INITIAL_BACKOFF"))
	v.BindEnv("workers.max_backoff", l.env("WORKERS_MAX_BACKOFF"))
	v.BindEnv("workers.attempt_timeout", l.env("WORKERS_ATTEMPT_TIMEOUT"))
	v.BindEnv("workers.stop_timeout", l.env("WORKERS_STOP_TIMEOUT"))

	v.BindEnv("email.provider", l.env("EMAIL_PROVIDER"))
	v.BindEnv("email.from", l.env("EMAIL_FROM"))
	v.BindEnv("email.smtp.host", l.env("EMAIL_SMTP_HOST"))
	v.BindEnv("email.smtp.port", l.env("EMAIL_SMTP_PORT"))
	v.BindEnv("email.smtp.username", l.env("EMAIL_SMTP_USERNAME"))
	v.BindEnv("email.smtp.password", l.env("EMAIL_SMTP_PASSWORD"))
	v.BindEnv("email.smtp.enable_tls", l.env("EMAIL_SMTP_ENABLE_TLS"))
	v.BindEnv("email.smtp.operation_timeout", l.env("EMAIL_SMTP_OPERATION_TIMEOUT"))
	v.BindEnv("email.sendgrid.api_key", l.env("EMAIL_SENDGRID_API_KEY"))
	v.BindEnv("email.sendgrid.base_url", l.env("EMAIL_SENDGRID_BASE_URL"))
	v.BindEnv("email.sendgrid.operation_timeout", l.env("EMAIL_SENDGRID_OPERATION_TIMEOUT"))

	v.BindEnv("webhook.timeout", l.env("WEBHOOK_TIMEOUT"))
	v.BindEnv("webhook.user_agent", l.env("WEBHOOK_USER_AGENT"))
	v.BindEnv("webhook.breaker_max_failures", l.env("WEBHOOK_BREAKER_MAX_FAILURES"))
	v.BindEnv("webhook.breaker_cooldown", l.env("WEBHOOK_BREAKER_COOLDOWN"))

	v.BindEnv("rate_limit.backend", l.env("RATE_LIMIT_BACKEND"))
	v.BindEnv("rate_limit.redis_url", l.env("RATE_LIMIT_REDIS_URL"))
	v.BindEnv("rate_limit.prefix", l.env("RATE_LIMIT_PREFIX"))
	v.BindEnv("rate_limit.window", l.env("RATE_LIMIT_WINDOW"))
	v.BindEnv("rate_limit.operation_timeout", l.env("RATE_LIMIT_OPERATION_TIMEOUT"))

	v.BindEnv("tracing.enabled", l.env("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.env("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_rate", l.env("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)

	v.SetDefault("queue.backend", cfg.Queue.Backend)
	v.SetDefault("queue.prefix", cfg.Queue.Prefix)
	v.SetDefault("queue.lease_ttl", cfg.Queue.LeaseTTL)
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue.operation_timeout", cfg.Queue.OperationTimeout)

	v.SetDefault("workers.concurrency", cfg.Workers.Concurrency)
	v.SetDefault("workers.max_attempts", cfg.Workers.MaxAttempts)
	v.SetDefault("workers.initial_backoff", cfg.Workers.InitialBackoff)
	v.SetDefault("workers.max_backoff", cfg.Workers.MaxBackoff)
	v.SetDefault("workers.attempt_timeout", cfg.Workers.AttemptTimeout)
	v.SetDefault("workers.stop_timeout", cfg.Workers.StopTimeout)

	v.SetDefault("email.provider", cfg.Email.Provider)
	v.SetDefault("email.smtp.port", cfg.Email.SMTP.Port)
	v.SetDefault("email.smtp.enable_tls", cfg.Email.SMTP.EnableTLS)
	v.SetDefault("email.smtp.operation_timeout", cfg.Email.SMTP.OperationTimeout)
	v.SetDefault("email.sendgrid.base_url", cfg.Email.SendGrid.BaseURL)
	v.SetDefault("email.sendgrid.operation_timeout", cfg.Email.SendGrid.OperationTimeout)

	v.SetDefault("webhook.timeout", cfg.Webhook.Timeout)
	v.SetDefault("webhook.user_agent", cfg.Webhook.UserAgent)
	v.SetDefault("webhook.breaker_max_failures", cfg.Webhook.BreakerMaxFailures)
	v.SetDefault("webhook.breaker_cooldown", cfg.Webhook.BreakerCooldown)

	v.SetDefault("rate_limit.backend", cfg.RateLimit.Backend)
	v.SetDefault("rate_limit.prefix", cfg.RateLimit.Prefix)
	v.SetDefault("rate_limit.window", cfg.RateLimit.Window)
	v.SetDefault("rate_limit.operation_timeout", cfg.RateLimit.OperationTimeout)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)
}

// Validate checks cross-field constraints and collects every error.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be in (0, 65535], got %d", cfg.HTTP.Port))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}

	switch strings.ToLower(cfg.Queue.Backend) {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Queue.RedisURL) == "" {
			errs = append(errs, errors.New("queue.redis_url is required for the redis queue backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be redis or memory, got %q", cfg.Queue.Backend))
	}

	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "local":
	case "redis":
		if strings.TrimSpace(cfg.RateLimit.RedisURL) == "" {
			errs = append(errs, errors.New("rate_limit.redis_url is required for the redis rate limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be redis or local, got %q", cfg.RateLimit.Backend))
	}

	if cfg.Workers.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("workers.concurrency must be positive, got %d", cfg.Workers.Concurrency))
	}
	if cfg.Workers.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("workers.max_attempts must be positive, got %d", cfg.Workers.MaxAttempts))
	}
	if cfg.Workers.InitialBackoff <= 0 {
		errs = append(errs, errors.New("workers.initial_backoff must be positive"))
	}
	if cfg.Workers.MaxBackoff < cfg.Workers.InitialBackoff {
		errs = append(errs, errors.New("workers.max_backoff must be at least workers.initial_backoff"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Email.Provider)) {
	case "", "log":
	case "smtp":
		if strings.TrimSpace(cfg.Email.SMTP.Host) == "" {
			errs = append(errs, errors.New("email.smtp.host is required for the smtp provider"))
		}
	case "sendgrid":
		if strings.TrimSpace(cfg.Email.SendGrid.APIKey) == "" {
			errs = append(errs, errors.New("email.sendgrid.api_key is required for the sendgrid provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("email.provider must be smtp, sendgrid or log, got %q", cfg.Email.Provider))
	}

	if cfg.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate))
	}

	return errors.Join(errs...)
}

func (l *ViperLoader) env(suffix string) string {
	return l.prefix() + "_" + suffix
}

func (l *ViperLoader) prefix() string {
	prefix := strings.ToUpper(strings.TrimSpace(l.envPrefix))
	if prefix == "" {
		prefix = "RELAYQ"
	}
	return prefix
}
