package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/cache"
	"github.com/parlor/parlor/internal/model"
)

type fakeLimiter struct {
	result *cache.RateLimitResult
	err    error
	calls  int
	rate   int
}

func (f *fakeLimiter) CheckAPIRateLimit(_ context.Context, _ string, ratePerMinute, _ int) (*cache.RateLimitResult, error) {
	f.calls++
	f.rate = ratePerMinute
	return f.result, f.err
}

func limitedRequest(tier string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	return req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{
		KeyID:         "key-1",
		UserID:        "user-1",
		RateLimitTier: tier,
	}))
}

func TestRateLimitAPI(t *testing.T) {
	reset := time.Now().Add(time.Minute)

	tests := []struct {
		name        string
		tier        string
		result      *cache.RateLimitResult
		err         error
		wantStatus  int
		wantRetry   string
		wantLimiter bool
	}{
		{
			name:        "allowed",
			tier:        model.TierFree,
			result:      &cache.RateLimitResult{Allowed: true, Remaining: 9, ResetAt: reset},
			wantStatus:  http.StatusOK,
			wantLimiter: true,
		},
		{
			name:        "rejected",
			tier:        model.TierFree,
			result:      &cache.RateLimitResult{Allowed: false, ResetAt: reset, RetryAfter: 1500 * time.Millisecond},
			wantStatus:  http.StatusTooManyRequests,
			wantRetry:   "2",
			wantLimiter: true,
		},
		{
			name:        "limiter error fails open",
			tier:        model.TierPro,
			err:         errors.New("redis down"),
			wantStatus:  http.StatusOK,
			wantLimiter: true,
		},
		{
			name:        "unlimited tier skips limiter",
			tier:        model.TierUnlimited,
			wantStatus:  http.StatusOK,
			wantLimiter: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &fakeLimiter{result: tt.result, err: tt.err}
			handler := RateLimitAPI(RateLimitConfig{
				Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
				Limiter: limiter,
				Enabled: true,
			})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, limitedRequest(tt.tier))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			if (limiter.calls > 0) != tt.wantLimiter {
				t.Errorf("limiter calls = %d, want called=%v", limiter.calls, tt.wantLimiter)
			}
		})
	}
}

func TestRateLimitAPI_UnknownTierUsesFree(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: true}}
	handler := RateLimitAPI(RateLimitConfig{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Limiter: limiter,
		Enabled: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("platinum"))

	if want := model.TierConfigs[model.TierFree].RequestsPerMinute; limiter.rate != want {
		t.Errorf("rate = %d, want %d", limiter.rate, want)
	}
}

func TestRateLimitAPI_Disabled(t *testing.T) {
	limiter := &fakeLimiter{}
	handler := RateLimitAPI(RateLimitConfig{Limiter: limiter, Enabled: false})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest(model.TierFree))

	if limiter.calls != 0 {
		t.Errorf("disabled limiter was called %d times", limiter.calls)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{100 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
