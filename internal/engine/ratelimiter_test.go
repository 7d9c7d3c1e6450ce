package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	return NewRateLimiter(redisClient, testLogger()), mr
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "ep-1", 3) {
			t.Fatalf("request %d should be allowed under limit 3", i+1)
		}
	}

	if rl.Allow(ctx, "ep-1", 3) {
		t.Error("fourth request inside the window should be denied")
	}
}

func TestRateLimiter_ZeroLimitIsUnlimited(t *testing.T) {
	rl, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !rl.Allow(ctx, "ep-1", 0) {
			t.Fatal("limit 0 should never deny")
		}
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the rate-limit window")
	}

	rl, _ := testLimiter(t)
	ctx := context.Background()

	if !rl.Allow(ctx, "ep-1", 1) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow(ctx, "ep-1", 1) {
		t.Fatal("second request inside the window should be denied")
	}

	// Let the recorded request age out of the one-second window.
	time.Sleep(1100 * time.Millisecond)

	if !rl.Allow(ctx, "ep-1", 1) {
		t.Error("request after the window elapsed should be allowed")
	}
}

func TestRateLimiter_EndpointsIsolated(t *testing.T) {
	rl, _ := testLimiter(t)
	ctx := context.Background()

	if !rl.Allow(ctx, "ep-1", 1) {
		t.Fatal("ep-1 first request should be allowed")
	}
	if !rl.Allow(ctx, "ep-2", 1) {
		t.Error("ep-2 should have its own budget")
	}
}
