package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = keyspace + "profile:"

// GetProfile returns a rendered profile document, or ErrCacheMiss.
func (c *Cache) GetProfile(ctx context.Context, userID string) ([]byte, error) {
	data, err := c.client.Get(ctx, profileKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get profile: %w", err)
	}
	return data, nil
}

// SetProfile stores a rendered profile document for ttl.
func (c *Cache) SetProfile(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, profileKeyPrefix+userID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// DeleteProfile evicts a user's cached profile.
func (c *Cache) DeleteProfile(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, profileKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete cached profile: %w", err)
	}
	return nil
}
