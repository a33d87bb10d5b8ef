package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/iamanmiglani/Image-to-text/v1/storage"
)

const defaultRedisPrefix = "imagetext:artifact:"

// RedisCache implements Cache on Redis strings, so an artifact generated by
// one process can be downloaded through another. Values are gob encoded.
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a new RedisCache using the provided Redis client. An empty
// prefix selects the default key namespace.
func NewRedis[T any](client *redis.Client, prefix string) *RedisCache[T] {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache[T]{client: client, prefix: prefix}
}

// Get implements Cache.Get.
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	cctx, cancel, err := storage.RedisContext(ctx, storage.DefaultRedisOpTimeout)
	if err != nil {
		return zero, false, err
	}
	defer cancel()
	data, err := c.client.Get(cctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, storage.RedisErr(err)
	}
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	cctx, cancel, err := storage.RedisContext(ctx, storage.DefaultRedisOpTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return storage.RedisErr(c.client.Set(cctx, c.prefix+key, buf.Bytes(), ttl).Err())
}

// Invalidate implements Cache.Invalidate.
func (c *RedisCache[T]) Invalidate(ctx context.Context, key string) error {
	cctx, cancel, err := storage.RedisContext(ctx, storage.DefaultRedisOpTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return storage.RedisErr(c.client.Del(cctx, c.prefix+key).Err())
}
