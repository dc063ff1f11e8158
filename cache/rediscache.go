package cache

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache adapts a redis keyspace (keys matching a pattern) to the Cache
// interface so the reaper can trim remote caches too. JSON values are
// decoded to maps so the timestamp heuristic applies; anything else is
// handed to the reaper as a raw string.
type RedisCache struct {
	client  *redis.Client
	pattern string
	logger  *zap.Logger
}

func NewRedisCache(client *redis.Client, pattern string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pattern == "" {
		pattern = "*"
	}
	return &RedisCache{
		client:  client,
		pattern: pattern,
		logger:  logger.With(zap.String("component", "cache_redis")),
	}
}

func (c *RedisCache) Len(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *RedisCache) Entries(ctx context.Context) ([]Entry, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := c.client.Get(ctx, key).Result()
		if err == redis.Nil {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, err
		}

		var decoded map[string]any
		if json.Unmarshal([]byte(raw), &decoded) == nil {
			out = append(out, Entry{Key: key, Value: decoded})
		} else {
			out = append(out, Entry{Key: key, Value: raw})
		}
	}
	return out, nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("cache delete failed", zap.Int("keys", len(keys)), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
