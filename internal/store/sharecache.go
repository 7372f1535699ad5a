package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sindi-homes/assistant/internal/model"
)

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

const (
	shareKeyPrefix = "share:"
	maxShareTTL    = time.Minute
)

// ShareCache caches sanitized shared conversations by token.
type ShareCache interface {
	Get(ctx context.Context, token string) (*model.SharedConversation, error)
	Set(ctx context.Context, token string, conv *model.SharedConversation, expiresAt time.Time) error
	Invalidate(ctx context.Context, tokens ...string) error
}

// RedisShareCache is a ShareCache backed by Redis.
type RedisShareCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisClient creates and pings a Redis client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisShareCache wraps client.
func NewRedisShareCache(client *redis.Client) *RedisShareCache {
	return &RedisShareCache{client: client, now: time.Now}
}

// Get returns the cached conversation or ErrCacheMiss.
func (c *RedisShareCache) Get(ctx context.Context, token string) (*model.SharedConversation, error) {
	data, err := c.client.Get(ctx, shareKeyPrefix+token).Bytes()
	if err != nil {
		return nil, err
	}

	var conv model.SharedConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decoding cached share: %w", err)
	}
	return &conv, nil
}

// Set caches conv until the sooner of one minute or the token expiry.
func (c *RedisShareCache) Set(ctx context.Context, token string, conv *model.SharedConversation, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if ttl > maxShareTTL {
		ttl = maxShareTTL
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding share: %w", err)
	}
	return c.client.Set(ctx, shareKeyPrefix+token, data, ttl).Err()
}

// Invalidate removes cached entries for tokens. Empty tokens are skipped.
func (c *RedisShareCache) Invalidate(ctx context.Context, tokens ...string) error {
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			keys = append(keys, shareKeyPrefix+t)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping checks Redis connectivity.
func (c *RedisShareCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
