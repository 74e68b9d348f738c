package rateLimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the slice of the redis client the limiter uses.
type Counter interface {
	Pipeline() redis.Pipeliner
}

// RateLimiter is a fixed window counter per key.
type RateLimiter struct {
	redis Counter
}

func NewRateLimiter(redis Counter) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	fullKey := "rl:" + key

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	return incr.Val() <= int64(rate), nil
}
