package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const limiterPrefix = "support:ratelimit:"

// Limiter is a fixed-window counter shared by every API instance.
type Limiter struct {
	cli    *redis.Client
	max    int64
	window time.Duration
}

func (c *Client) NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{cli: c.cli, max: int64(max), window: window}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := limiterPrefix + key
	n, err := l.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter %s: %w", key, err)
	}
	// First hit opens the window.
	if n == 1 {
		if err := l.cli.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis limiter expire %s: %w", key, err)
		}
	}
	return n <= l.max, nil
}
