package storage

import (
	"context"
	"errors"
	"io"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "drivuber:kv:"

// RedisStore implements KV on plain Redis strings.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// NewRedisStoreWithClient wraps an existing client (or a mock).
func NewRedisStoreWithClient(c redis.Cmdable) *RedisStore {
	return &RedisStore{client: c}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool when the store owns a real client.
func (r *RedisStore) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
