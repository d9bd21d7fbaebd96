package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// RevocationRegistry is the server-side source of truth for revoked
// licenses. Clients poll it through the revoked-lookup endpoint and cache
// confirmed answers locally.
type RevocationRegistry struct {
	db     *gorm.DB
	audit  *AuditLog
	logger *slog.Logger
	clock  func() time.Time
}

// NewRevocationRegistry creates a registry over the security store.
func NewRevocationRegistry(db *gorm.DB, audit *AuditLog, logger *slog.Logger) *RevocationRegistry {
	return &RevocationRegistry{
		db:     db,
		audit:  audit,
		logger: logger.With(slog.String("component", "revocation_registry")),
		clock:  time.Now,
	}
}

// Revoke records a license as revoked. Revoking an already revoked license
// is a no-op that keeps the original record.
func (r *RevocationRegistry) Revoke(ctx context.Context, licenseID, reason, actor string) error {
	if licenseID == "" {
		return errors.New("license id is required")
	}

	rec := RevokedLicense{
		LicenseID: licenseID,
		Reason:    reason,
		RevokedAt: r.clock().UTC(),
		RevokedBy: actor,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RevokedLicense
		result := tx.Where("license_id = ?", licenseID).First(&existing)
		if result.Error == nil {
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		r.audit.Log(ctx, "license_revoke", "license", licenseID, false, WithActor(actor), WithDetails(err.Error()))
		return fmt.Errorf("revoke license %s: %w", licenseID, err)
	}

	r.audit.Log(ctx, "license_revoke", "license", licenseID, true, WithActor(actor), WithDetails(reason))
	r.logger.InfoContext(ctx, "license revoked",
		slog.String("license_id", licenseID),
		slog.String("reason", reason),
	)
	return nil
}

// IsRevoked reports whether the license appears in the revocation list.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, licenseID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevokedLicense{}).
		Where("license_id = ?", licenseID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return count > 0, nil
}

// RecordActivation persists a server-observed activation attempt.
func (r *RevocationRegistry) RecordActivation(ctx context.Context, licenseID, clientIP, method string, success bool) {
	rec := ActivationRecord{
		LicenseID: licenseID,
		ClientIP:  clientIP,
		Method:    method,
		Success:   success,
		CreatedAt: r.clock().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.logger.ErrorContext(ctx, "failed to persist activation record",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
	}
}
