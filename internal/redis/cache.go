package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
	"github.com/redis/go-redis/v9"
)

// scanCount is the SCAN page size used when deleting by prefix.
const scanCount = 500

// Cache provides a Redis-backed key-value cache for ranked pages
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

var _ store.Cache = (*Cache)(nil)

// NewCache creates a new Redis cache and verifies connectivity
func NewCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewCacheFromClient(client, logger), nil
}

// NewCacheFromClient wraps an existing client
func NewCacheFromClient(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached value or domain.ErrCacheMiss
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("getting %s: %w: %w", key, domain.ErrCacheUnavailable, err)
	}
	return val, nil
}

// Set stores value under key with a TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w: %w", key, domain.ErrCacheUnavailable, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix. Keys are found with
// SCAN so the server is never blocked by a full keyspace walk.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	pattern := escapeGlob(prefix) + "*"
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("scanning %s: %w: %w", pattern, domain.ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("unlinking keys: %w: %w", domain.ErrCacheUnavailable, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("cache keys deleted", "prefix", prefix, "deleted", deleted)
	return deleted, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
