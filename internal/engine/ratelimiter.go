package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles deliveries per endpoint with a sliding window
// on a Redis sorted set. A Lua script atomically evicts expired
// entries, checks the count, and admits or denies the request.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

// 1. Drop entries older than the window
// 2. Count what remains
// 3. Under the limit: record this request, return 1 (allowed)
// 4. At the limit: return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(endpointID string) string {
	return fmt.Sprintf("rl:%s", endpointID)
}

// Allow checks whether a delivery to this endpoint fits inside its
// per-second budget. A limit of zero means unlimited. Fails open when
// Redis is unavailable so deliveries are never dropped by the limiter.
func (rl *RateLimiter) Allow(ctx context.Context, endpointID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(endpointID)
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "endpoint_id", endpointID)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited",
			"endpoint_id", endpointID,
			"limit", limit,
		)
		return false
	}

	return true
}
