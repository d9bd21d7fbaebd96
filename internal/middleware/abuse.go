package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/belalkandil0/FathomOS-sub015/internal/errors"
)

// BlockChecker answers whether requests from an IP are blocked.
// *security.IPBlockService satisfies it.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) bool
}

// EndpointLimiter enforces the per-endpoint fixed window.
// *security.RateLimiter satisfies it.
type EndpointLimiter interface {
	Allow(ctx context.Context, key, endpoint string, maxRequests int, window time.Duration) bool
}

// AbuseGuardConfig wires the abuse guard for one route group.
type AbuseGuardConfig struct {
	Blocks      BlockChecker
	Limiter     EndpointLimiter
	MaxRequests int
	Window      time.Duration
}

// AbuseGuard rejects requests from blocked IPs, then applies the
// per-endpoint fixed-window limit keyed by caller IP. The block check runs
// first so blocked callers cannot consume window slots.
func AbuseGuard(cfg AbuseGuardConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := ClientIP(r)

			if cfg.Blocks != nil && cfg.Blocks.IsBlocked(ctx, ip) {
				renderError(w, r, apierrors.ErrIPBlocked)
				return
			}

			if cfg.Limiter != nil {
				if !cfg.Limiter.Allow(ctx, ip, r.URL.Path, cfg.MaxRequests, cfg.Window) {
					secs := int(cfg.Window.Seconds())
					if secs < 1 {
						secs = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(secs))
					renderError(w, r, apierrors.ErrRateLimitExceeded)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
