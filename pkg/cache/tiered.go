package cache

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// TieredCache combines the local tier with an optional shared backend.
// It is safe for concurrent use.
type TieredCache struct {
	local     *LocalCache
	shared    SharedBackend
	sharedTTL time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// TieredOptions configures a TieredCache
type TieredOptions struct {
	// SharedTTL is used for shared writes when the caller passes ttl <= 0.
	SharedTTL time.Duration
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewTieredCache builds the cache. shared may be nil for a local-only deployment.
func NewTieredCache(local *LocalCache, shared SharedBackend, opts TieredOptions) *TieredCache {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TieredCache{
		local:     local,
		shared:    shared,
		sharedTTL: opts.SharedTTL,
		logger:    logger.WithField("component", "cache"),
		metrics:   opts.Metrics,
	}
}

func (c *TieredCache) sharedFailed(op, key string, err error) {
	c.metrics.RecordCacheError(tierShared, op)
	c.logger.WithError(err).WithField("operation", op).WithField("key", key).
		Warn("shared cache unavailable, continuing with local tier")
}

// Get checks local then shared. A shared hit back-fills the local tier.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.local.Get(ctx, key); ok {
		return value, true
	}
	if c.shared == nil {
		return nil, false
	}

	value, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.sharedFailed("get", key, err)
		return nil, false
	}
	c.metrics.RecordCacheLookup(tierShared, ok)
	if !ok {
		return nil, false
	}

	c.local.Set(ctx, key, value, 0)
	return value, true
}

// Set writes both tiers. The local tier caps ttl at its own maximum.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.local.Set(ctx, key, value, ttl)
	if c.shared == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.sharedTTL
	}
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		c.sharedFailed("set", key, err)
	}
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.local.Delete(ctx, key)
	if c.shared == nil {
		return
	}
	if err := c.shared.Delete(ctx, key); err != nil {
		c.sharedFailed("delete", key, err)
	}
}

// DeletePattern removes matching keys from both tiers. Other processes keep
// their local entries until the local TTL expires.
func (c *TieredCache) DeletePattern(ctx context.Context, pattern string) {
	if _, _, err := ParsePattern(pattern); err != nil {
		c.logger.WithError(err).WithField("pattern", pattern).Error("refusing invalid cache pattern")
		return
	}
	c.local.DeletePattern(ctx, pattern)
	if c.shared == nil {
		return
	}
	if err := c.shared.DeletePattern(ctx, pattern); err != nil {
		c.sharedFailed("delete_pattern", pattern, err)
	}
}

// Clear empties both tiers.
func (c *TieredCache) Clear(ctx context.Context) {
	c.local.Clear(ctx)
	if c.shared == nil {
		return
	}
	if err := c.shared.Clear(ctx); err != nil {
		c.sharedFailed("clear", "*", err)
	}
}

// Close releases both tiers.
func (c *TieredCache) Close() error {
	_ = c.local.Close()
	if c.shared == nil {
		return nil
	}
	return c.shared.Close()
}
