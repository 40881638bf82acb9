package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/relayq/relayq/pkg/observability/logger"
)

// DefaultRateWindow is the fixed counting window for per-tenant rate limits.
const DefaultRateWindow = time.Minute

// Limiter enforces a per-tenant request rate. The limit comes from the
// tenant's plan on every call so plan changes apply without restarts.
// A non-positive limit means unlimited.
type Limiter interface {
	// Allow reports whether one more submission fits the tenant's window.
	Allow(ctx context.Context, tenantID string, limit int) bool
	// RetryAfter estimates how long until the tenant's next submission
	// would be admitted.
	RetryAfter(ctx context.Context, tenantID string, limit int) time.Duration
}

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisLimiterConfig configures the distributed rate limiter.
type RedisLimiterConfig struct {
	URL              string
	Prefix           string
	Window           time.Duration
	OperationTimeout time.Duration
}

func (c *RedisLimiterConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "relayq:ratelimit"
	}
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
}

// RedisLimiter is a fixed-window counter shared across service instances.
// When Redis is unreachable it fails open: dropping notifications because
// the limiter store is down is worse than briefly over-admitting.
type RedisLimiter struct {
	client redisClient
	config RedisLimiterConfig
	log    logger.Logger
}

// NewRedisLimiter connects to Redis and returns a distributed limiter.
func NewRedisLimiter(cfg RedisLimiterConfig, log logger.Logger) (*RedisLimiter, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis URL is required for distributed rate limiting")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis rate limiter ping failed: %w", err)
	}

	log.Info("redis rate limiter connected", "window", cfg.Window, "prefix", cfg.Prefix)
	return &RedisLimiter{client: client, config: cfg, log: log}, nil
}

// NewRedisLimiterFromClient wraps an existing client; used by tests.
func NewRedisLimiterFromClient(client redisClient, cfg RedisLimiterConfig, log logger.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &RedisLimiter{client: client, config: cfg, log: log}, nil
}

// Allow counts one submission against the tenant's current window.
func (l *RedisLimiter) Allow(ctx context.Context, tenantID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, l.config.OperationTimeout)
	defer cancel()

	key := l.windowKey(tenantID, time.Now().UTC())

	count, err := l.client.Incr(opCtx, key).Result()
	if err != nil {
		l.log.Error("redis rate limiter increment failed", "tenant_id", tenantID, "error", err)
		// Fail-open to avoid blocking traffic when Redis is unavailable.
		return true
	}

	if count == 1 {
		if err := l.client.Expire(opCtx, key, l.config.Window).Err(); err != nil {
			l.log.Warn("redis rate limiter failed to set TTL", "tenant_id", tenantID, "error", err)
		}
	}

	return count <= int64(limit)
}

// RetryAfter reports the time left in the current fixed window. The counter
// resets when the window rolls over, so that is when capacity frees up.
func (l *RedisLimiter) RetryAfter(_ context.Context, _ string, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	return windowRemainder(time.Now().UTC(), l.config.Window)
}

// HealthCheck pings the limiter's Redis. Failures here only degrade the
// service since the limiter fails open.
func (l *RedisLimiter) HealthCheck(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, l.config.OperationTimeout)
	defer cancel()
	if err := l.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis rate limiter ping failed: %w", err)
	}
	return nil
}

// Close shuts down the Redis client.
func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (l *RedisLimiter) windowKey(tenantID string, now time.Time) string {
	windowIndex := now.Unix() / int64(l.config.Window.Seconds())
	return fmt.Sprintf("%s:%s:%d", l.config.Prefix, strings.TrimSpace(tenantID), windowIndex)
}

func windowRemainder(now time.Time, window time.Duration) time.Duration {
	elapsed := time.Duration(now.UnixNano()) % window
	return window - elapsed
}

// LocalLimiter is an in-process token bucket limiter for single-node
// deployments. Each tenant gets an independent bucket sized to its per-minute
// limit.
type LocalLimiter struct {
	window   time.Duration
	limiters sync.Map // map[string]*localBucket
}

type localBucket struct {
	limiter *rate.Limiter
	limit   int
}

// NewLocalLimiter creates an in-process limiter over the given window.
func NewLocalLimiter(window time.Duration) *LocalLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &LocalLimiter{window: window}
}

// Allow counts one submission against the tenant's bucket.
func (l *LocalLimiter) Allow(ctx context.Context, tenantID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	return l.bucket(tenantID, limit).Allow()
}

// RetryAfter reports the wait until the tenant's bucket refills its next
// token. The reservation is cancelled immediately so it never consumes one.
func (l *LocalLimiter) RetryAfter(_ context.Context, tenantID string, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	reservation := l.bucket(tenantID, limit).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

func (l *LocalLimiter) bucket(tenantID string, limit int) *rate.Limiter {
	if entry, ok := l.limiters.Load(tenantID); ok {
		bucket := entry.(*localBucket)
		if bucket.limit == limit {
			return bucket.limiter
		}
	}
	perSecond := rate.Limit(float64(limit) / l.window.Seconds())
	bucket := &localBucket{limiter: rate.NewLimiter(perSecond, limit), limit: limit}
	l.limiters.Store(tenantID, bucket)
	return bucket.limiter
}
