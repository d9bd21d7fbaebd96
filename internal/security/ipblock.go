package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/belalkandil0/FathomOS-sub015/internal/shared/stalecache"
)

const (
	// rateLimitHistoryRetention bounds how long persisted rejection events
	// are kept before the maintenance pass purges them.
	rateLimitHistoryRetention = 24 * time.Hour

	// limiterWindowRetention bounds how long idle in-memory rate windows
	// survive between maintenance passes.
	limiterWindowRetention = time.Hour
)

// IPBlockService answers per-request block checks from an in-memory view of
// the persisted block list. The view is refreshed from the store when older
// than the configured staleness, so an admin block takes effect everywhere
// within that bound even without an explicit cache update.
type IPBlockService struct {
	db      *gorm.DB
	audit   *AuditLog
	limiter *RateLimiter
	logger  *slog.Logger
	clock   func() time.Time

	cache *stalecache.Cache[map[string]BlockedIP]

	blockedHits metric.Int64Counter
}

// NewIPBlockService creates the block service. limiter may be nil when the
// maintenance pass should not purge limiter state.
func NewIPBlockService(db *gorm.DB, audit *AuditLog, limiter *RateLimiter, staleness time.Duration, logger *slog.Logger) *IPBlockService {
	s := &IPBlockService{
		db:      db,
		audit:   audit,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "ip_block_service")),
		clock:   time.Now,
	}
	s.cache = stalecache.New(staleness, s.loadActiveBlocks)
	s.blockedHits, _ = otel.GetMeterProvider().Meter("fathomos/security").Int64Counter(
		"blocked_ip_hits_total",
		metric.WithDescription("Requests rejected because the source IP is blocked"),
	)
	return s
}

// loadActiveBlocks reads every active block from the store. It runs outside
// the cache lock.
func (s *IPBlockService) loadActiveBlocks(ctx context.Context) (map[string]BlockedIP, error) {
	var records []BlockedIP
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load block list: %w", err)
	}
	blocks := make(map[string]BlockedIP, len(records))
	for _, rec := range records {
		blocks[rec.IPAddress] = rec
	}
	return blocks, nil
}

// IsBlocked reports whether ip is currently blocked. An entry whose expiry
// has passed is deactivated in the store and evicted from the cache on the
// spot rather than waiting for the maintenance pass.
func (s *IPBlockService) IsBlocked(ctx context.Context, ip string) bool {
	blocks, err := s.cache.Get(ctx)
	if err != nil {
		// Degrade to the last loaded view; an unreadable store must not
		// take the whole API surface down.
		s.logger.ErrorContext(ctx, "block list refresh failed", slog.String("error", err.Error()))
	}

	rec, ok := blocks[ip]
	if !ok {
		return false
	}

	if rec.ExpiresAt != nil && s.clock().After(*rec.ExpiresAt) {
		s.deactivate(ctx, ip)
		return false
	}

	if s.blockedHits != nil {
		s.blockedHits.Add(ctx, 1)
	}
	s.logger.WarnContext(ctx, "request from blocked ip",
		slog.String("ip", ip),
		slog.String("reason", rec.Reason),
	)
	return true
}

// Block adds or reactivates a block for ip. A zero duration makes the block
// permanent. The cache is updated in place so the block applies immediately.
func (s *IPBlockService) Block(ctx context.Context, ip, reason string, duration time.Duration, actor string) error {
	if ip == "" {
		return errors.New("ip address is required")
	}

	now := s.clock().UTC()
	rec := BlockedIP{
		IPAddress: ip,
		Reason:    reason,
		BlockedAt: now,
		IsActive:  true,
		BlockedBy: actor,
	}
	if duration > 0 {
		expires := now.Add(duration)
		rec.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing BlockedIP
		result := tx.Where("ip_address = ?", ip).First(&existing)
		switch {
		case result.Error == nil:
			rec.ID = existing.ID
			return tx.Save(&rec).Error
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			return tx.Create(&rec).Error
		default:
			return result.Error
		}
	})
	if err != nil {
		s.audit.Log(ctx, "ip_block", "ip", ip, false, WithActor(actor), WithDetails(err.Error()))
		return fmt.Errorf("block ip %s: %w", ip, err)
	}

	s.cache.Mutate(func(blocks map[string]BlockedIP) map[string]BlockedIP {
		updated := cloneBlocks(blocks)
		updated[ip] = rec
		return updated
	})

	s.audit.Log(ctx, "ip_block", "ip", ip, true, WithActor(actor), WithDetails(reason))
	s.logger.InfoContext(ctx, "ip blocked",
		slog.String("ip", ip),
		slog.String("reason", reason),
		slog.Bool("permanent", rec.ExpiresAt == nil),
	)
	return nil
}

// Unblock deactivates the block for ip and evicts it from the cache.
func (s *IPBlockService) Unblock(ctx context.Context, ip, actor string) error {
	result := s.db.WithContext(ctx).
		Model(&BlockedIP{}).
		Where("ip_address = ? AND is_active = ?", ip, true).
		Update("is_active", false)
	if result.Error != nil {
		s.audit.Log(ctx, "ip_unblock", "ip", ip, false, WithActor(actor), WithDetails(result.Error.Error()))
		return fmt.Errorf("unblock ip %s: %w", ip, result.Error)
	}

	s.cache.Mutate(func(blocks map[string]BlockedIP) map[string]BlockedIP {
		updated := cloneBlocks(blocks)
		delete(updated, ip)
		return updated
	})

	s.audit.Log(ctx, "ip_unblock", "ip", ip, result.RowsAffected > 0, WithActor(actor))
	s.logger.InfoContext(ctx, "ip unblocked",
		slog.String("ip", ip),
		slog.Int64("rows_affected", result.RowsAffected),
	)
	return nil
}

// deactivate flips an expired block to inactive in the store and drops it
// from the cached view.
func (s *IPBlockService) deactivate(ctx context.Context, ip string) {
	if err := s.db.WithContext(ctx).
		Model(&BlockedIP{}).
		Where("ip_address = ?", ip).
		Update("is_active", false).Error; err != nil {
		s.logger.ErrorContext(ctx, "failed to deactivate expired block",
			slog.String("ip", ip),
			slog.String("error", err.Error()),
		)
	}
	s.cache.Mutate(func(blocks map[string]BlockedIP) map[string]BlockedIP {
		updated := cloneBlocks(blocks)
		delete(updated, ip)
		return updated
	})
	s.logger.InfoContext(ctx, "expired ip block deactivated", slog.String("ip", ip))
}

// CleanupExpired is the periodic maintenance pass: it deactivates expired
// blocks, purges old rate-limit history, drops idle limiter windows, and
// forces a cache refresh so the in-memory view matches the store.
func (s *IPBlockService) CleanupExpired(ctx context.Context) error {
	now := s.clock().UTC()

	expired := s.db.WithContext(ctx).
		Model(&BlockedIP{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Update("is_active", false)
	if expired.Error != nil {
		return fmt.Errorf("deactivate expired blocks: %w", expired.Error)
	}

	history := s.db.WithContext(ctx).
		Where("created_at < ?", now.Add(-rateLimitHistoryRetention)).
		Delete(&RateLimitEvent{})
	if history.Error != nil {
		return fmt.Errorf("purge rate limit history: %w", history.Error)
	}

	purgedWindows := 0
	if s.limiter != nil {
		purgedWindows = s.limiter.PurgeStale(limiterWindowRetention)
	}

	if err := s.cache.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh block cache: %w", err)
	}

	s.logger.InfoContext(ctx, "security maintenance completed",
		slog.Int64("expired_blocks", expired.RowsAffected),
		slog.Int64("purged_events", history.RowsAffected),
		slog.Int("purged_windows", purgedWindows),
	)
	return nil
}

func cloneBlocks(blocks map[string]BlockedIP) map[string]BlockedIP {
	updated := make(map[string]BlockedIP, len(blocks))
	for k, v := range blocks {
		updated[k] = v
	}
	return updated
}
