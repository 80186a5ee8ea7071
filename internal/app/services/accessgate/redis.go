package accessgate

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the subset of redis.Cmdable used by RedisCache.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares session grants across replicas.
type RedisCache struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisCache wraps a redis client. Grants expire after ttl; zero keeps them.
func NewRedisCache(client RedisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Has(ctx context.Context, sessionKey, reportID string) (bool, error) {
	err := c.client.Get(ctx, grantKey(sessionKey, reportID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Claim(ctx context.Context, sessionKey, reportID string) (bool, error) {
	return c.client.SetNX(ctx, grantKey(sessionKey, reportID), time.Now().UTC().Unix(), c.ttl).Result()
}

func (c *RedisCache) Release(ctx context.Context, sessionKey, reportID string) error {
	return c.client.Del(ctx, grantKey(sessionKey, reportID)).Err()
}
