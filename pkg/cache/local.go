package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/warden/pkg/observability"
)

const tierLocal = "local"

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalCache is the bounded in-process tier. Every entry lives at most
// maxTTL regardless of the TTL requested by the caller.
type LocalCache struct {
	cache   *lru.LRU[string, localEntry]
	maxTTL  time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLocalCache creates a local tier holding at most maxItems entries.
func NewLocalCache(maxItems int, maxTTL time.Duration, metrics *observability.Metrics) *LocalCache {
	if maxItems < 1 {
		maxItems = 1
	}
	return &LocalCache{
		cache:   lru.NewLRU[string, localEntry](maxItems, nil, maxTTL),
		maxTTL:  maxTTL,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns a live entry.
func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := c.cache.Get(key)
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.cache.Remove(key)
		ok = false
	}
	c.metrics.RecordCacheLookup(tierLocal, ok)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Set stores a copy of value for min(ttl, maxTTL).
func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 || (c.maxTTL > 0 && ttl > c.maxTTL) {
		ttl = c.maxTTL
	}
	entry := localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.cache.Add(key, entry)
}

// Delete removes one key.
func (c *LocalCache) Delete(ctx context.Context, key string) {
	c.cache.Remove(key)
}

// DeletePattern removes every key matching pattern. Invalid patterns are ignored.
func (c *LocalCache) DeletePattern(ctx context.Context, pattern string) {
	prefix, wildcard, err := ParsePattern(pattern)
	if err != nil {
		return
	}
	if !wildcard {
		c.cache.Remove(prefix)
		return
	}
	for _, key := range c.cache.Keys() {
		if MatchPattern(pattern, key) {
			c.cache.Remove(key)
		}
	}
}

// Clear drops every entry.
func (c *LocalCache) Clear(ctx context.Context) {
	c.cache.Purge()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *LocalCache) Len() int {
	return c.cache.Len()
}

// Close releases resources
func (c *LocalCache) Close() error {
	c.cache.Purge()
	return nil
}
