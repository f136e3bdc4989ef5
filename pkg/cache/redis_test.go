package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisCacheTest creates a miniredis instance and returns the cache and cleanup function
func setupRedisCacheTest(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	c, err := NewRedisCache(context.Background(), RedisOptions{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: "warden:",
	})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis cache: %v", err)
	}

	cleanup := func() {
		c.Close()
		mr.Close()
	}

	return c, mr, cleanup
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisOptions{URL: "not-a-url"})
	assert.Error(t, err)
}

func TestRedisCache_RoundTripWithPrefix(t *testing.T) {
	c, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "authz:u1:o1:-:chatflow:-:read", []byte(`{"allowed":true}`), time.Minute))

	assert.True(t, mr.Exists("warden:authz:u1:o1:-:chatflow:-:read"))
	assert.Equal(t, time.Minute, mr.TTL("warden:authz:u1:o1:-:chatflow:-:read"))

	got, ok, err := c.Get(ctx, "authz:u1:o1:-:chatflow:-:read")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"allowed":true}`), got)

	_, ok, err = c.Get(ctx, "authz:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_DeletePattern(t *testing.T) {
	c, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	for _, key := range []string{"role:o1:a", "role:o1:b", "role:o2:a"} {
		require.NoError(t, c.Set(ctx, key, []byte("x"), time.Minute))
	}
	require.NoError(t, mr.Set("unrelated:role:o1:a", "keep"))

	require.NoError(t, c.DeletePattern(ctx, "role:o1:*"))

	assert.False(t, mr.Exists("warden:role:o1:a"))
	assert.False(t, mr.Exists("warden:role:o1:b"))
	assert.True(t, mr.Exists("warden:role:o2:a"))
	assert.True(t, mr.Exists("unrelated:role:o1:a"))

	require.NoError(t, c.DeletePattern(ctx, "role:o2:a"))
	assert.False(t, mr.Exists("warden:role:o2:a"))

	assert.ErrorIs(t, c.DeletePattern(ctx, "role:*:a"), ErrInvalidPattern)
}

func TestRedisCache_DeletePatternManyKeys(t *testing.T) {
	c, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("authz:u1:o1:-:chatflow:cf%d:read", i), []byte("x"), time.Minute))
	}

	require.NoError(t, c.DeletePattern(ctx, "authz:u1:*"))
	assert.Empty(t, mr.Keys())
}

func TestRedisCache_ClearOnlyPrefix(t *testing.T) {
	c, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, mr.Set("other-service:a", "1"))

	require.NoError(t, c.Clear(ctx))

	assert.False(t, mr.Exists("warden:a"))
	assert.True(t, mr.Exists("other-service:a"))
}

func TestRedisCache_ErrorsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	c := NewRedisCacheFromClient(client, "warden:", 100*time.Millisecond)
	defer c.Close()
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
}
