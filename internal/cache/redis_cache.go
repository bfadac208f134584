package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisListCache struct {
	client *redis.Client
}

func NewRedisListCache(addr string, password string, db int) *RedisListCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisListCache{client: client}
}

func (c *RedisListCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisListCache) Close() error {
	return c.client.Close()
}

func (c *RedisListCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisListCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
