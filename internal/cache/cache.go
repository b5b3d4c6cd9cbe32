// Package cache provides an optional Redis-backed read-through cache for
// the Control Plane's list/status endpoints. It is entirely optional: with
// no REDIS_URL configured, every method becomes a no-op and the Control
// Plane falls back to reading the registry snapshot directly. This is
// scoped deliberately narrow — a cache, not a distributed event bus or
// durable queue, which stay out of scope for this platform.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a go-redis client. A nil client means caching is disabled.
type Cache struct {
	client *redis.Client
}

// New creates a Cache. If redisURL is empty, the returned Cache is
// permanently disabled and every method is a no-op.
func New(redisURL string) (*Cache, error) {
	if redisURL == "" {
		return &Cache{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Enabled reports whether a REDIS_URL was configured.
func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Close releases the underlying connection pool, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get unmarshals the cached value for key into target. It returns false
// (with a nil error) on a cache miss or when caching is disabled, so
// callers always have a uniform "fall through to source of truth" path.
func (c *Cache) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cache key %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("unmarshalling cached value for %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with ttl. It is silently a no-op when caching
// is disabled.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value for cache key %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate removes key, so a write-side event (a deploy, an unload) can
// force the next read to recompute. No-op when caching is disabled.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

const (
	FunctionsListKey = "funcdock:functions:list"
	StatusKey        = "funcdock:status"
)
