//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parlor/parlor/internal/model"
	"github.com/parlor/parlor/internal/testutil"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(context.Background(), redisURL)
	if err != nil {
		t.Fatalf("failed to connect to Redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegrationAuthContextInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	keyID := testutil.UniqueID("key")
	authCtx := &model.AuthContext{KeyID: keyID, UserID: "u1", Scopes: []string{model.ScopeRead}, RateLimitTier: model.TierFree}

	if _, err := c.GetAuthContext(ctx, keyID+"-a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	for _, ck := range []string{keyID + "-a", keyID + "-b"} {
		if err := c.SetAuthContext(ctx, ck, authCtx); err != nil {
			t.Fatalf("SetAuthContext failed: %v", err)
		}
	}

	got, err := c.GetAuthContext(ctx, keyID+"-a")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if got.UserID != "u1" || got.KeyID != keyID || !got.HasScope(model.ScopeRead) {
		t.Errorf("unexpected auth context %+v", got)
	}

	if err := c.InvalidateKey(ctx, keyID); err != nil {
		t.Fatalf("InvalidateKey failed: %v", err)
	}
	for _, ck := range []string{keyID + "-a", keyID + "-b"} {
		if _, err := c.GetAuthContext(ctx, ck); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("%s survived invalidation", ck)
		}
	}
}

func TestIntegrationProfileCache(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	userID := testutil.UniqueID("user")

	if _, err := c.GetProfile(ctx, userID); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	doc := []byte(`{"user":{"email":"a@example.com"}}`)
	if err := c.SetProfile(ctx, userID, doc, time.Minute); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}
	got, err := c.GetProfile(ctx, userID)
	if err != nil || string(got) != string(doc) {
		t.Fatalf("GetProfile = %s, %v", got, err)
	}

	if err := c.DeleteProfile(ctx, userID); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if _, err := c.GetProfile(ctx, userID); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected miss after delete, got %v", err)
	}

	if err := c.SetProfile(ctx, userID, doc, 0); err != nil {
		t.Fatalf("SetProfile with zero ttl failed: %v", err)
	}
	if _, err := c.GetProfile(ctx, userID); !errors.Is(err, ErrCacheMiss) {
		t.Error("zero ttl should not store")
	}
}

func TestIntegrationAPIRateLimit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	keyID := testutil.UniqueID("rl")

	const burst = 3
	for i := 0; i < burst; i++ {
		res, err := c.CheckAPIRateLimit(ctx, keyID, 60, burst)
		if err != nil {
			t.Fatalf("CheckAPIRateLimit failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining != int64(burst-i-1) {
			t.Errorf("request %d: remaining = %d, want %d", i+1, res.Remaining, burst-i-1)
		}
	}

	res, err := c.CheckAPIRateLimit(ctx, keyID, 60, burst)
	if err != nil {
		t.Fatalf("CheckAPIRateLimit failed: %v", err)
	}
	if res.Allowed {
		t.Error("request beyond burst should be rejected")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Errorf("retry after = %s, want (0, 1s]", res.RetryAfter)
	}

	unlimited, err := c.CheckAPIRateLimit(ctx, keyID, 0, 0)
	if err != nil || !unlimited.Allowed {
		t.Errorf("unlimited tier should always pass: %+v, %v", unlimited, err)
	}
}
