package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

// rateWindow tracks one (key, endpoint) pair inside its current fixed window.
type rateWindow struct {
	count       int
	windowStart time.Time
}

// RateLimiter enforces a fixed-window request limit per (key, endpoint)
// pair. The window does not slide: once it elapses the count resets and the
// triggering request is admitted into the fresh window.
type RateLimiter struct {
	db     *gorm.DB
	audit  *AuditLog
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow

	rejections metric.Int64Counter
}

// NewRateLimiter creates a rate limiter. db and audit may be nil, in which
// case rejections are only logged.
func NewRateLimiter(db *gorm.DB, audit *AuditLog, logger *slog.Logger) *RateLimiter {
	l := &RateLimiter{
		db:      db,
		audit:   audit,
		logger:  logger.With(slog.String("component", "rate_limiter")),
		clock:   time.Now,
		windows: make(map[string]*rateWindow),
	}
	l.rejections, _ = otel.GetMeterProvider().Meter("fathomos/security").Int64Counter(
		"rate_limit_rejections_total",
		metric.WithDescription("Requests rejected by the per-endpoint rate limiter"),
	)
	return l
}

// Allow reports whether the request identified by key (typically the caller
// IP) may proceed against endpoint under a limit of maxRequests per window.
// Every rejection is audited and logged.
func (l *RateLimiter) Allow(ctx context.Context, key, endpoint string, maxRequests int, window time.Duration) bool {
	now := l.clock()
	id := key + "|" + endpoint

	l.mu.Lock()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.windowStart) >= window {
		l.windows[id] = &rateWindow{count: 1, windowStart: now}
		l.mu.Unlock()
		return true
	}
	w.count++
	count := w.count
	l.mu.Unlock()

	if count <= maxRequests {
		return true
	}

	l.recordRejection(ctx, key, endpoint, count)
	return false
}

func (l *RateLimiter) recordRejection(ctx context.Context, key, endpoint string, count int) {
	l.logger.WarnContext(ctx, "rate limit exceeded",
		slog.String("key", key),
		slog.String("endpoint", endpoint),
		slog.Int("count", count),
	)
	if l.rejections != nil {
		l.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
	}
	if l.audit != nil {
		l.audit.Log(ctx, "rate_limit_exceeded", "endpoint", endpoint, false, WithTarget(key))
	}
	if l.db != nil {
		event := RateLimitEvent{Key: key, Endpoint: endpoint, Count: count, CreatedAt: l.clock().UTC()}
		if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
			l.logger.ErrorContext(ctx, "failed to persist rate limit event",
				slog.String("error", err.Error()),
			)
		}
	}
}

// PurgeStale drops in-memory windows whose window started more than
// olderThan ago and returns how many were removed.
func (l *RateLimiter) PurgeStale(olderThan time.Duration) int {
	cutoff := l.clock().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, w := range l.windows {
		if w.windowStart.Before(cutoff) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}
