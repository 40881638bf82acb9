package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViperLoader_Defaults(t *testing.T) {
	// Redis backends are the defaults but need URLs to validate.
	t.Setenv("RELAYQ_QUEUE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RELAYQ_RATE_LIMIT_REDIS_URL", "redis://localhost:6379/1")

	cfg, err := NewViperLoader("", "").Load()
	require.NoError(t, err)

	assert.Equal(t, "relayq", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, 2*time.Second, cfg.Workers.InitialBackoff)
	assert.Equal(t, "log", cfg.Email.Provider)
}

func TestViperLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RELAYQ_HTTP_PORT", "9090")
	t.Setenv("RELAYQ_LOG_LEVEL", "debug")
	t.Setenv("RELAYQ_QUEUE_BACKEND", "memory")
	t.Setenv("RELAYQ_WORKERS_CONCURRENCY", "12")
	t.Setenv("RELAYQ_WORKERS_INITIAL_BACKOFF", "5s")
	t.Setenv("RELAYQ_EMAIL_PROVIDER", "sendgrid")
	t.Setenv("RELAYQ_EMAIL_SENDGRID_API_KEY", "sg-test-key")
	t.Setenv("RELAYQ_RATE_LIMIT_BACKEND", "local")

	cfg, err := NewViperLoader("", "").Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 12, cfg.Workers.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Workers.InitialBackoff)
	assert.Equal(t, "sg-test-key", cfg.Email.SendGrid.APIKey)
}

func TestViperLoader_DatabaseURLAlias(t *testing.T) {
	t.Setenv("RELAYQ_DATABASE_URL", "postgres://readonly@db/relayq")
	t.Setenv("RELAYQ_QUEUE_BACKEND", "memory")
	t.Setenv("RELAYQ_RATE_LIMIT_BACKEND", "local")

	cfg, err := NewViperLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://readonly@db/relayq", cfg.Database.URL)
}

func TestViperLoader_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayq.yaml")
	body := `
service:
  name: relayq-staging
http:
  port: 8181
queue:
  backend: memory
rate_limit:
  backend: local
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := NewViperLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "relayq-staging", cfg.Service.Name)
	assert.Equal(t, 8181, cfg.HTTP.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, "relayq/1.0", cfg.Webhook.UserAgent)
}

func TestViperLoader_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayq.yaml")
	body := `
http:
  port: 8181
queue:
  backend: memory
rate_limit:
  backend: local
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("RELAYQ_HTTP_PORT", "9191")

	cfg, err := NewViperLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTP.Port)
}

func TestViperLoader_MissingConfigFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "nope.yaml"), "").Load()
	require.Error(t, err)
}

func TestViperLoader_Validate(t *testing.T) {
	loader := NewViperLoader("", "")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.HTTP.Port = -1 },
			wantErr: "http.port",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "unknown queue backend",
			mutate:  func(c *Config) { c.Queue.Backend = "kafka" },
			wantErr: "queue.backend",
		},
		{
			name: "redis queue without url",
			mutate: func(c *Config) {
				c.Queue.Backend = "redis"
				c.Queue.RedisURL = ""
			},
			wantErr: "queue.redis_url",
		},
		{
			name: "redis rate limiter without url",
			mutate: func(c *Config) {
				c.RateLimit.Backend = "redis"
				c.RateLimit.RedisURL = ""
			},
			wantErr: "rate_limit.redis_url",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Workers.Concurrency = 0 },
			wantErr: "workers.concurrency",
		},
		{
			name: "max backoff below initial",
			mutate: func(c *Config) {
				c.Workers.InitialBackoff = 10 * time.Second
				c.Workers.MaxBackoff = time.Second
			},
			wantErr: "workers.max_backoff",
		},
		{
			name: "smtp provider without host",
			mutate: func(c *Config) {
				c.Email.Provider = "smtp"
				c.Email.SMTP.Host = ""
			},
			wantErr: "email.smtp.host",
		},
		{
			name: "sendgrid provider without key",
			mutate: func(c *Config) {
				c.Email.Provider = "sendgrid"
			},
			wantErr: "email.sendgrid.api_key",
		},
		{
			name:    "unknown email provider",
			mutate:  func(c *Config) { c.Email.Provider = "carrier-pigeon" },
			wantErr: "email.provider",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Queue.Backend = "memory"
			cfg.RateLimit.Backend = "local"
			tc.mutate(cfg)

			err := loader.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestViperLoader_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Port = 0
	cfg.Log.Level = "loud"
	cfg.Queue.Backend = "kafka"
	cfg.RateLimit.Backend = "local"

	err := NewViperLoader("", "").Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"http.port", "log.level", "queue.backend"} {
		assert.Contains(t, err.Error(), want)
	}
}
