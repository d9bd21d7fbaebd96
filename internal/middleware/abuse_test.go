package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeBlocks struct {
	blocked map[string]bool
}

func (f *fakeBlocks) IsBlocked(ctx context.Context, ip string) bool {
	return f.blocked[ip]
}

type fakeLimiter struct {
	allow bool
	key   string
	path  string
}

func (f *fakeLimiter) Allow(ctx context.Context, key, endpoint string, maxRequests int, window time.Duration) bool {
	f.key = key
	f.path = endpoint
	return f.allow
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAbuseGuardBlockedIP(t *testing.T) {
	guard := AbuseGuard(AbuseGuardConfig{
		Blocks:      &fakeBlocks{blocked: map[string]bool{"203.0.113.7": true}},
		Limiter:     &fakeLimiter{allow: true},
		MaxRequests: 5,
		Window:      time.Minute,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/license/validate", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()

	guard(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "IP_BLOCKED")
}

func TestAbuseGuardRateLimited(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	guard := AbuseGuard(AbuseGuardConfig{
		Blocks:      &fakeBlocks{},
		Limiter:     limiter,
		MaxRequests: 5,
		Window:      time.Minute,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
	req.RemoteAddr = "198.51.100.4:40000"
	rec := httptest.NewRecorder()

	guard(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "198.51.100.4", limiter.key)
	assert.Equal(t, "/api/license/activate", limiter.path)
}

func TestAbuseGuardPassesThrough(t *testing.T) {
	guard := AbuseGuard(AbuseGuardConfig{
		Blocks:      &fakeBlocks{},
		Limiter:     &fakeLimiter{allow: true},
		MaxRequests: 5,
		Window:      time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/license/revoked/LIC-2026-000123", nil)
	req.RemoteAddr = "198.51.100.4:40000"
	rec := httptest.NewRecorder()

	guard(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewarePreservesHeader(t *testing.T) {
	handler := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestGlobalRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewGlobalRateLimiter(1, 1, logger)
	handler := rl.Handler(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
