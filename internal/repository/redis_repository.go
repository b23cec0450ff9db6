package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"soulchart-share-service/internal/database/redis"
	"time"

	redis_v9 "github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis_v9.Client
}

func NewRedisRepo() *RedisRepo {
	return &RedisRepo{
		client: redis.Client,
	}
}

// SaveStructCached stores a JSON-encoded struct under the key with a TTL.
func (r *RedisRepo) SaveStructCached(ctx context.Context, key string, model any, expiry time.Duration) error {
	val, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("error saving struct to cache: %w", err)
	}
	if err := r.client.Set(ctx, key, val, expiry).Err(); err != nil {
		return fmt.Errorf("error saving struct to cache: %w", err)
	}
	return nil
}

// GetStructCached loads a JSON-encoded struct. A cache miss surfaces as
// redis.Nil wrapped in the returned error.
func (r *RedisRepo) GetStructCached(ctx context.Context, key string, model any) error {
	encoded, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("error get struct in cache: %w", err)
	}
	return json.Unmarshal(encoded, model)
}

// IncrementWindow bumps a fixed-window counter and returns the new count.
// The window TTL is attached only when the key is first created, so the
// counter resets on a fixed cadence shared by every server instance.
func (r *RedisRepo) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("error incrementing rate counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

// DeleteKey removes a cached entry.
func (r *RedisRepo) DeleteKey(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("error deleting key %s: %w", key, err)
	}
	return nil
}
