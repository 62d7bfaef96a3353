package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pushSubsPrefix = "push:subs:"

// PushSubscriptions keeps the Web Push subscriptions of each user as a capped list of
// JSON documents. The push service owns the format.
type PushSubscriptions struct {
	cli     *redis.Client
	maxSubs int64
	ttl     time.Duration
}

func (c *Client) NewPushSubscriptions(maxPerUser int, ttl time.Duration) *PushSubscriptions {
	return &PushSubscriptions{cli: c.cli, maxSubs: int64(maxPerUser), ttl: ttl}
}

// Add appends raw and keeps only the newest maxPerUser entries.
func (s *PushSubscriptions) Add(ctx context.Context, userID, raw string) error {
	key := pushSubsPrefix + userID
	pipe := s.cli.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -s.maxSubs, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push subscribe user=%s: %w", userID, err)
	}
	return nil
}

func (s *PushSubscriptions) List(ctx context.Context, userID string) ([]string, error) {
	list, err := s.cli.LRange(ctx, pushSubsPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis push list user=%s: %w", userID, err)
	}
	return list, nil
}

// Remove drops every entry for which drop returns true.
func (s *PushSubscriptions) Remove(ctx context.Context, userID string, drop func(raw string) bool) error {
	key := pushSubsPrefix + userID
	list, err := s.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis push remove user=%s: %w", userID, err)
	}
	kept := make([]any, 0, len(list))
	for _, item := range list {
		if !drop(item) {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	_, err = s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(kept) > 0 {
			pipe.RPush(ctx, key, kept...)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push remove user=%s: %w", userID, err)
	}
	return nil
}
