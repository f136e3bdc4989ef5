package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	tierShared = "shared"

	scanBatchSize = 100
)

// RedisOptions configures the shared tier
type RedisOptions struct {
	URL              string
	KeyPrefix        string
	OperationTimeout time.Duration
	PoolSize         int
	MaxRetries       int
}

// RedisCache is the shared tier. All keys are namespaced under a prefix so
// Clear never touches data owned by other services.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.MaxRetries != 0 {
		redisOpts.MaxRetries = opts.MaxRetries
	}

	redisOpts.DialTimeout = 2 * time.Second
	redisOpts.ReadTimeout = time.Second
	redisOpts.WriteTimeout = time.Second
	redisOpts.PoolTimeout = 2 * time.Second

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, opts.KeyPrefix, opts.OperationTimeout), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string, opTimeout time.Duration) *RedisCache {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

// Client returns the underlying Redis client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Get returns (nil, false, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return data, true, nil
}

// Set stores value with ttl. A zero ttl stores without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes one key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching pattern using SCAN MATCH and
// batched DEL.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	prefix, wildcard, err := ParsePattern(pattern)
	if err != nil {
		return err
	}
	if !wildcard {
		return c.Delete(ctx, prefix)
	}
	return c.scanDelete(ctx, escapeGlob(c.prefix+prefix)+"*")
}

// Clear removes every key under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	return c.scanDelete(ctx, escapeGlob(c.prefix)+"*")
}

func (c *RedisCache) scanDelete(ctx context.Context, match string) error {
	// Scans can touch many keys; give them a larger budget than point operations.
	ctx, cancel := context.WithTimeout(ctx, 20*c.opTimeout)
	defer cancel()

	batch := make([]string, 0, scanBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys for %s: %w", match, err)
		}
		batch = batch[:0]
		return nil
	}

	iter := c.client.Scan(ctx, 0, match, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", match, err)
	}
	return flush()
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes Redis glob metacharacters so a literal prefix matches only itself.
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
