package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const answerKeyPrefix = "certexam:answer_key:"

// RedisKeyCache stores answer keys as JSON under a per-exam key with a TTL.
type RedisKeyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisKeyCache(client *redis.Client, ttl time.Duration) *RedisKeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisKeyCache{client: client, ttl: ttl}
}

func (c *RedisKeyCache) GetKey(ctx context.Context, examID string) ([]KeyEntry, bool, error) {
	data, err := c.client.Get(ctx, answerKeyPrefix+examID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get answer key: %w", err)
	}
	var key []KeyEntry
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, false, fmt.Errorf("decode cached answer key: %w", err)
	}
	return key, true, nil
}

func (c *RedisKeyCache) SetKey(ctx context.Context, examID string, key []KeyEntry) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode answer key: %w", err)
	}
	if err := c.client.Set(ctx, answerKeyPrefix+examID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer key: %w", err)
	}
	return nil
}

func (c *RedisKeyCache) Invalidate(ctx context.Context, examID string) error {
	if err := c.client.Del(ctx, answerKeyPrefix+examID).Err(); err != nil {
		return fmt.Errorf("redis del answer key: %w", err)
	}
	return nil
}
