package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared across processes. Counts live
// in redis under ratelimit:<user>:<window-start> keys that expire with the
// window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter connects to redis at url (redis:// form) and allows limit
// attempts per user per window.
func NewRedisLimiter(ctx context.Context, url string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisLimiter{client: client, limit: limit, window: window}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	windowStart := time.Now().UTC().Truncate(l.window).Unix()
	key := fmt.Sprintf("ratelimit:%s:%d", userID, windowStart)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("counting attempts: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
