package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kabox/internal/domain"
)

// Cache is the read-through layer in front of the metadata backends.
type Cache interface {
	Get(ctx context.Context, id string) (*domain.FileRecord, bool)
	Set(ctx context.Context, rec *domain.FileRecord)
	Invalidate(ctx context.Context, id string)
}

// RedisCache keeps records as JSON under "file:<id>" keys with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(id string) string {
	return "file:" + id
}

func (c *RedisCache) Get(ctx context.Context, id string) (*domain.FileRecord, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var rec domain.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, rec *domain.FileRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(rec.ID), data, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) {
	c.client.Del(ctx, c.key(id))
}
