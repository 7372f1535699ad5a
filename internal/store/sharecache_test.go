package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
)

func newTestShareCache(t *testing.T) *RedisShareCache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisShareCache(client)
}

func TestRedisShareCacheSetGetInvalidate(t *testing.T) {
	cache := newTestShareCache(t)
	ctx := context.Background()

	shared := &model.SharedConversation{ID: "c1", Title: "Flats in Gràcia"}
	require.NoError(t, cache.Set(ctx, "tok-1", shared, time.Now().Add(time.Hour)))

	got, err := cache.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "Flats in Gràcia", got.Title)

	ttl, err := cache.client.TTL(ctx, shareKeyPrefix+"tok-1").Result()
	require.NoError(t, err)
	require.LessOrEqual(t, ttl, maxShareTTL)

	require.NoError(t, cache.Invalidate(ctx, "tok-1", ""))
	_, err = cache.Get(ctx, "tok-1")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisShareCacheSkipsExpired(t *testing.T) {
	cache := newTestShareCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tok-2", &model.SharedConversation{ID: "c2"}, time.Now().Add(-time.Second)))
	_, err := cache.Get(ctx, "tok-2")
	require.ErrorIs(t, err, ErrCacheMiss)
}
