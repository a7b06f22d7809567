package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"f1standings/notionsync/internal/metrics"
)

// Config holds Redis connection settings
type Config struct {
	Addr     string // host:port
	Password string
	DB       int
	Prefix   string
}

// RedisCache is a string cache with per-key TTL
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "f1sync:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns the cached value and whether it was present
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	metrics.RecordCacheOperation("get", time.Since(start).Seconds())

	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss("refs")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.RecordCacheHit("refs")
	return val, true, nil
}

// Set stores value for ttl; a zero ttl keeps it forever
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	metrics.RecordCacheOperation("set", time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
