package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type receiptValue struct {
	DeliveryID string    `json:"deliveryId"`
	ExecutedAt time.Time `json:"executedAt"`
}

func (c *RedisCache) StoreReceipt(ctx context.Context, eventID int64, deliveryID string, executedAt time.Time) error {
	key := fmt.Sprintf("event:%d", eventID)
	val := receiptValue{
		DeliveryID: deliveryID,
		ExecutedAt: executedAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
