package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/model"
)

const (
	// DefaultMinAuthDuration pads every auth decision to the same latency.
	DefaultMinAuthDuration = 200 * time.Millisecond

	touchTimeout = 5 * time.Second
)

// KeyLookup finds API key candidates and records their use.
type KeyLookup interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// ActivityToucher records that a user was seen.
type ActivityToucher interface {
	TouchUserActivity(ctx context.Context, userID string) error
}

// AuthCache caches verified auth contexts by auth.CacheKey.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Keys     KeyLookup
	Activity ActivityToucher // optional
	Cache    AuthCache       // optional
	// MinDuration defaults to DefaultMinAuthDuration; negative disables padding.
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests with an API key
// from "Authorization: Bearer" or "X-API-Key" and injects the auth context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	minDuration := cfg.MinDuration
	if minDuration == 0 {
		minDuration = DefaultMinAuthDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			pad := func() {
				if elapsed := time.Since(start); elapsed < minDuration {
					time.Sleep(minDuration - elapsed)
				}
			}

			authCtx, cacheHit, reason := authenticate(r, cfg)
			if authCtx == nil {
				logAuthFailure(cfg.Logger, r, reason)
				pad()
				writeAuthError(w)
				return
			}

			cfg.Logger.Info("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.String("user_id", authCtx.UserID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", cacheHit),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			touch(cfg, authCtx, cacheHit)
			pad()

			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
		})
	}
}

// authenticate resolves the request's key. On failure it returns a nil
// context and a reason for the log.
func authenticate(r *http.Request, cfg AuthConfig) (*model.AuthContext, bool, string) {
	key := extractAPIKey(r)
	if key == "" {
		return nil, false, "missing_key"
	}

	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, false, "invalid_format"
	}

	cacheKey := auth.CacheKey(key)
	if cfg.Cache != nil {
		if cached, err := cfg.Cache.GetAuthContext(r.Context(), cacheKey); err == nil && cached != nil {
			return cached, true, ""
		}
	}

	candidates, err := cfg.Keys.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false, "lookup_failed"
	}

	// Prefixes can collide, so every live candidate is checked.
	for _, k := range candidates {
		if k.IsRevoked() {
			continue
		}
		if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
			authCtx := &model.AuthContext{
				KeyID:         k.ID,
				KeyPrefix:     k.KeyPrefix,
				UserID:        k.UserID,
				Scopes:        k.Scopes,
				RateLimitTier: k.RateLimitTier,
			}
			if cfg.Cache != nil {
				_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)
			}
			return authCtx, false, ""
		}
	}
	return nil, false, "invalid_key"
}

// touch records key use and user activity off the request path.
func touch(cfg AuthConfig, authCtx *model.AuthContext, cacheHit bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		if !cacheHit {
			if err := cfg.Keys.UpdateAPIKeyLastUsed(ctx, authCtx.KeyID); err != nil {
				cfg.Logger.Warn("failed to update key last use", slog.String("key_id", authCtx.KeyID), slog.String("error", err.Error()))
			}
		}
		if cfg.Activity != nil {
			if err := cfg.Activity.TouchUserActivity(ctx, authCtx.UserID); err != nil {
				cfg.Logger.Warn("failed to update user activity", slog.String("user_id", authCtx.UserID), slog.String("error", err.Error()))
			}
		}
	}()
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractAPIKey prefers "Authorization: Bearer <key>" over "X-API-Key".
func extractAPIKey(r *http.Request) string {
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeAuthError writes a 401 with one message for every failure, so callers
// cannot tell a missing key from a wrong one.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}
