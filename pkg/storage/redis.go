package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keys used for quota bookkeeping, relative to the namespace.
const (
	redisSizesSuffix = "__sizes"
	redisUsageSuffix = "__usage"
)

// Redis is a Backend on top of a Redis server. Every value key is recorded
// in a size hash so that the backend can enumerate its own keys and account
// for quota usage without scanning the keyspace.
//
// Quota checks are not atomic across processes sharing the namespace; two
// writers racing near the limit may briefly overshoot it.
type Redis struct {
	client    *redis.Client
	namespace string
	quota     int64
}

// NewRedis creates a Redis backend. namespace prefixes every key written;
// a quota <= 0 selects DefaultQuota.
func NewRedis(client *redis.Client, namespace string, quota int64) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Redis{
		client:    client,
		namespace: namespace,
		quota:     quota,
	}
}

func (r *Redis) sizesKey() string { return r.namespace + redisSizesSuffix }
func (r *Redis) usageKey() string { return r.namespace + redisUsageSuffix }
func (r *Redis) dataKey(key string) string {
	return r.namespace + key
}

// Get implements Backend.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.dataKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Set implements Backend.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	old, err := r.client.HGet(ctx, r.sizesKey(), key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis hget size: %w", err)
	}

	used, err := r.client.Get(ctx, r.usageKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis get usage: %w", err)
	}

	size := entrySize(key, value)
	if used-old+size > r.quota {
		return ErrQuotaExceeded
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.dataKey(key), value, 0)
		pipe.HSet(ctx, r.sizesKey(), key, size)
		pipe.IncrBy(ctx, r.usageKey(), size-old)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *Redis) Delete(ctx context.Context, key string) error {
	size, err := r.client.HGet(ctx, r.sizesKey(), key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Not tracked; still drop any stray value.
			if err := r.client.Del(ctx, r.dataKey(key)).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			return nil
		}
		return fmt.Errorf("redis hget size: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.dataKey(key))
		pipe.HDel(ctx, r.sizesKey(), key)
		pipe.DecrBy(ctx, r.usageKey(), size)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys implements Backend.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.sizesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return keys, nil
}

// Usage implements Sizer.
func (r *Redis) Usage(ctx context.Context) (int64, int64, error) {
	used, err := r.client.Get(ctx, r.usageKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("redis get usage: %w", err)
	}
	return used, r.quota, nil
}
