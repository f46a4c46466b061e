package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// RedisKV is the venue-local shared medium, for deployments where a
// fleet of terminals keeps state on a back-of-house Redis instead of
// per-device disk. Keys are already tenant-namespaced by callers.
type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(addr, password string, db int) *RedisKV {
	return &RedisKV{c: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisKVFromClient wraps an existing client, for tests.
func NewRedisKVFromClient(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.c.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		k, next, err := r.c.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisKV) Close() error { return r.c.Close() }
