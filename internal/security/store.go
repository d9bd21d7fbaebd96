// Package security implements the server-side abuse-resistance layer:
// per-endpoint rate limiting, persistent IP blocking with a bounded-staleness
// cache, and the append-only audit log shared by every state-changing
// operation.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BlockedIP is a persisted block-list entry. A nil ExpiresAt means the
// block is permanent.
type BlockedIP struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	IPAddress string     `gorm:"uniqueIndex;not null" json:"ip_address"`
	Reason    string     `gorm:"not null" json:"reason"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `gorm:"index" json:"is_active"`
	BlockedBy string     `json:"blocked_by,omitempty"`
}

// RateLimitEvent records a rate-limit rejection for abuse correlation.
// History is purged after 24 hours by the maintenance pass.
type RateLimitEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"index" json:"key"`
	Endpoint  string    `gorm:"index" json:"endpoint"`
	Count     int       `json:"count"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// AuditEntry is an append-only record of a security-relevant action.
// Entries are never mutated or deleted in normal operation.
type AuditEntry struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Action     string    `gorm:"index;not null" json:"action"`
	EntityType string    `gorm:"index" json:"entity_type"`
	EntityID   string    `gorm:"index" json:"entity_id"`
	Actor      string    `json:"actor,omitempty"`
	Target     string    `json:"target,omitempty"`
	Details    string    `json:"details,omitempty"`
	Success    bool      `json:"success"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// RevokedLicense is the server-side revocation list consulted by the
// revoked-lookup endpoint.
type RevokedLicense struct {
	LicenseID string    `gorm:"primaryKey" json:"license_id"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
	RevokedBy string    `json:"revoked_by,omitempty"`
}

// ActivationRecord tracks server-observed activations for abuse correlation.
type ActivationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LicenseID string    `gorm:"index" json:"license_id"`
	ClientIP  string    `gorm:"index" json:"client_ip"`
	Method    string    `json:"method"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenStore opens (creating if necessary) the sqlite security store and
// migrates the schema.
func OpenStore(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open security store: %w", err)
	}

	if err := db.AutoMigrate(
		&BlockedIP{},
		&RateLimitEvent{},
		&AuditEntry{},
		&RevokedLicense{},
		&ActivationRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate security store: %w", err)
	}

	return db, nil
}

// OpenStoreInMemory opens an isolated in-memory store, used by tests.
func OpenStoreInMemory() (*gorm.DB, error) {
	return OpenStore(":memory:")
}
