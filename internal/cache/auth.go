package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parlor/parlor/internal/model"
)

const (
	authCachePrefix = keyspace + "auth:ctx:"
	// authIndexPrefix holds, per API key ID, the cache keys derived from it.
	authIndexPrefix = keyspace + "auth:key:"
	authCacheTTL    = 5 * time.Minute
)

// cachedAuthContext is the stored form of a model.AuthContext.
type cachedAuthContext struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

// GetAuthContext returns the cached auth context for cacheKey, or
// ErrCacheMiss. Corrupt entries count as misses.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		return nil, ErrCacheMiss
	}

	var cached cachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, ErrCacheMiss
	}

	return &model.AuthContext{
		KeyID:         cached.KeyID,
		KeyPrefix:     cached.KeyPrefix,
		UserID:        cached.UserID,
		Scopes:        cached.Scopes,
		RateLimitTier: cached.RateLimitTier,
	}, nil
}

// SetAuthContext caches an auth context and records it under the key ID so
// InvalidateKey can find it.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	data, err := json.Marshal(cachedAuthContext{
		KeyID:         auth.KeyID,
		KeyPrefix:     auth.KeyPrefix,
		UserID:        auth.UserID,
		Scopes:        auth.Scopes,
		RateLimitTier: auth.RateLimitTier,
	})
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	index := authIndexPrefix + auth.KeyID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, authCachePrefix+cacheKey, data, authCacheTTL)
	pipe.SAdd(ctx, index, cacheKey)
	pipe.Expire(ctx, index, authCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache auth context: %w", err)
	}
	return nil
}

// InvalidateKey drops every cached auth context for an API key. Called on
// revoke and rotate so a dead key stops working immediately.
func (c *Cache) InvalidateKey(ctx context.Context, keyID string) error {
	index := authIndexPrefix + keyID

	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("read auth index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, index)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate auth cache: %w", err)
	}
	return nil
}
