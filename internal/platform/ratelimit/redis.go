package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter shares fixed window counters across instances. When Redis is unreachable it answers
// from the local fallback so a Redis outage degrades to per-instance limits.
type RedisLimiter struct {
	rdb      redis.UniversalClient
	limit    int
	window   time.Duration
	clock    func() time.Time
	fallback *MemoryLimiter
}

// NewRedisLimiter returns nil when limit or window is not positive.
func NewRedisLimiter(rdb redis.UniversalClient, limit int, window time.Duration, clock func() time.Time) *RedisLimiter {
	if rdb == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisLimiter{
		rdb:      rdb,
		limit:    limit,
		window:   window,
		clock:    clock,
		fallback: NewMemoryLimiter(limit, window, clock),
	}
}

// Allow increments the counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.clock()
	bucket := now.UnixNano() / int64(l.window)
	redisKey := redisKeyPrefix + normaliseKey(key) + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		requestctx.Logger(ctx).Warn("redis rate limiter failed, using local window", zap.Error(err))
		decision, fallbackErr := l.fallback.Allow(ctx, key)
		if fallbackErr != nil {
			return Decision{}, fmt.Errorf("rate limit fallback: %w", fallbackErr)
		}
		return decision, nil
	}

	count := int(incr.Val())
	if count > l.limit {
		reset := time.Unix(0, (bucket+1)*int64(l.window))
		return Decision{RetryAfter: reset.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}
