package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Limiter counts attempts per key in fixed windows. It guards the token and
// login endpoints against guessing.
type Limiter struct {
	client *goredis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewLimiter allows limit attempts per key in each window.
func NewLimiter(client *goredis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: "vendoriq:attempts:",
		limit:  limit,
		window: window,
	}
}

// Allow records an attempt for key and reports whether it is within the limit.
// The window opens with the first attempt: INCR, then EXPIRE on a new counter.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("counting attempt: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("setting attempt window: %w", err)
		}
	}

	return count <= l.limit, nil
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
