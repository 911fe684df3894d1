// Package redis provides a Redis-backed read-through cache for balances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "balance:"

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type BalanceCache struct {
	client Client
	ttl    time.Duration
}

func NewBalanceCache(client Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Connect creates a client for addr and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Get returns the cached balance, or nil on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID string) (*models.Balance, error) {
	val, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var b models.Balance
	if err := json.Unmarshal(val, &b); err != nil {
		return nil, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	return &b, nil
}

func (c *BalanceCache) Set(ctx context.Context, b *models.Balance) error {
	val, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	return c.client.Set(ctx, key(b.UserID), val, c.ttl).Err()
}

func (c *BalanceCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func key(userID string) string {
	return keyPrefix + userID
}
