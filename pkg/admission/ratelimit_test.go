package admission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	limiter, err := NewRedisLimiterFromClient(client, RedisLimiterConfig{}, &nopLogger{})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter, server
}

func TestRedisLimiter_EnforcesLimit(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "acme", 3) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "acme", 3) {
		t.Fatal("fourth request should be rejected")
	}
}

func TestRedisLimiter_TenantsAreIsolated(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	if !limiter.Allow(ctx, "acme", 1) {
		t.Fatal("acme first request should be allowed")
	}
	if limiter.Allow(ctx, "acme", 1) {
		t.Fatal("acme second request should be rejected")
	}
	if !limiter.Allow(ctx, "globex", 1) {
		t.Fatal("globex should have its own window")
	}
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	limiter, server := newTestRedisLimiter(t)
	ctx := context.Background()

	if !limiter.Allow(ctx, "acme", 1) {
		t.Fatal("first request should be allowed")
	}

	// Window keys get a TTL on first increment; after the window passes the
	// counter is gone.
	server.FastForward(2 * time.Minute)

	if !limiter.Allow(ctx, "acme", 1) {
		t.Fatal("request in a fresh window should be allowed")
	}
}

func TestRedisLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	limiter, server := newTestRedisLimiter(t)
	server.Close()

	if !limiter.Allow(context.Background(), "acme", 1) {
		t.Fatal("limiter must fail open when redis is unavailable")
	}
}

func TestRedisLimiter_UnlimitedPlans(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !limiter.Allow(ctx, "acme", 0) {
			t.Fatal("non-positive limit means unlimited")
		}
	}
}

func TestRedisLimiter_RetryAfterCoversWindowRemainder(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	retryAfter := limiter.RetryAfter(ctx, "acme", 3)
	if retryAfter <= 0 || retryAfter > DefaultRateWindow {
		t.Fatalf("expected retry-after within the window, got %s", retryAfter)
	}
	if limiter.RetryAfter(ctx, "acme", 0) != 0 {
		t.Fatal("unlimited plans should not wait")
	}
}

func TestLocalLimiter_RetryAfterTracksBucketRefill(t *testing.T) {
	limiter := NewLocalLimiter(time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !limiter.Allow(ctx, "acme", 2) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "acme", 2) {
		t.Fatal("bucket should be empty")
	}

	// Two tokens per minute means the next token is about 30 seconds out.
	retryAfter := limiter.RetryAfter(ctx, "acme", 2)
	if retryAfter <= 0 || retryAfter > 30*time.Second {
		t.Fatalf("expected retry-after up to 30s, got %s", retryAfter)
	}

	// Estimating must not consume tokens.
	if limiter.Allow(ctx, "acme", 2) {
		t.Fatal("bucket should still be empty after the estimate")
	}

	if limiter.RetryAfter(ctx, "globex", 2) != 0 {
		t.Fatal("a full bucket has no wait")
	}
	if limiter.RetryAfter(ctx, "acme", 0) != 0 {
		t.Fatal("unlimited plans should not wait")
	}
}

func TestLocalLimiter_EnforcesBurst(t *testing.T) {
	limiter := NewLocalLimiter(time.Minute)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(ctx, "acme", 5) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected 5 allowed, got %d", allowed)
	}

	if !limiter.Allow(ctx, "globex", 5) {
		t.Fatal("other tenants keep their own bucket")
	}
}

func TestLocalLimiter_PicksUpNewLimit(t *testing.T) {
	limiter := NewLocalLimiter(time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !limiter.Allow(ctx, "acme", 2) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "acme", 2) {
		t.Fatal("bucket should be empty")
	}

	// A plan upgrade replaces the bucket.
	if !limiter.Allow(ctx, "acme", 10) {
		t.Fatal("upgraded limit should allow again")
	}
}
