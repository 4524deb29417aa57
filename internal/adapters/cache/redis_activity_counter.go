package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisActivityCounter keeps one sorted set per key, scored by event time, so
// the count always covers exactly the trailing window.
type RedisActivityCounter struct {
	client *redis.Client
	prefix string
	nowFn  func() time.Time
}

func NewRedisActivityCounter(client *redis.Client) *RedisActivityCounter {
	return &RedisActivityCounter{
		client: client,
		prefix: "escrow:activity:",
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (c *RedisActivityCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := c.prefix + key
	now := c.nowFn()
	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		card = p.ZCard(ctx, redisKey)
		p.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}
