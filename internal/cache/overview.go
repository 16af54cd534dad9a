// Package cache keeps short-lived copies of balance overviews in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "refledger:overview:"

type OverviewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOverviewCache(client *redis.Client, ttl time.Duration) *OverviewCache {
	return &OverviewCache{client: client, ttl: ttl}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Get returns the cached overview, or ok=false on a miss.
func (c *OverviewCache) Get(ctx context.Context, userID string) (*domain.Overview, bool, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var o domain.Overview
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &o, true, nil
}

func (c *OverviewCache) Set(ctx context.Context, o *domain.Overview) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key(o.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *OverviewCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, key(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
