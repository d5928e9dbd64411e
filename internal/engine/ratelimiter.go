package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-subscription sliding window limiter backed by a
// Redis sorted set. A Lua script atomically evicts expired entries, checks
// the count and records the new attempt.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

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

func rlKey(subscriptionID string) string {
	return fmt.Sprintf("webhook:rl:%s", subscriptionID)
}

// Allow reports whether a delivery to this subscription fits within the
// limit (attempts per second). A limit of zero disables rate limiting, and
// Redis failures fail open so a cache outage never blocks deliveries.
func (rl *RateLimiter) Allow(ctx context.Context, subscriptionID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(subscriptionID)
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "subscription_id", subscriptionID)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited",
			"subscription_id", subscriptionID,
			"limit", limit,
		)
		return false
	}

	return true
}
