package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/papersim/trading-engine/internal/quote"
)

const redisKeyPrefix = "quote:"

// Redis is the mid tier: shared across restarts of the engine process,
// expiry handled by redis itself.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Get(ctx context.Context, symbol string) (*quote.Quote, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+symbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", symbol, err)
	}
	var q quote.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("unmarshaling cached quote %s: %w", symbol, err)
	}
	return &q, nil
}

func (r *Redis) Put(ctx context.Context, symbol string, q quote.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshaling quote %s: %w", symbol, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+symbol, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", symbol, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, symbol string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+symbol).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", symbol, err)
	}
	return nil
}
