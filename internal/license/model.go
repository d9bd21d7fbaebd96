package license

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentVersion is the license schema version written by the signer.
const CurrentVersion = 1

var licenseIDPattern = regexp.MustCompile(`^LIC-\d{4}-\d{6}$`)

// Client identifies the licensee.
type Client struct {
	Name  string `json:"name" validate:"required"`
	Code  string `json:"code" validate:"required,len=3,alpha"`
	Email string `json:"email" validate:"required,email"`
}

// Product identifies the licensed product and edition.
type Product struct {
	Name    string `json:"name" validate:"required"`
	Edition string `json:"edition" validate:"required"`
}

// Terms holds the validity window. GracePeriodDays extends functional
// validity past ExpiresAt with a warning.
type Terms struct {
	IssuedAt        time.Time `json:"issued_at" validate:"required"`
	ExpiresAt       time.Time `json:"expires_at" validate:"required"`
	GracePeriodDays int       `json:"grace_period_days" validate:"gte=0"`
}

// HardwareBinding restricts a license to machines where at least
// MinMatching of the listed fingerprints are observed locally.
type HardwareBinding struct {
	Fingerprints []string `json:"fingerprints"`
	MinMatching  int      `json:"min_matching"`
}

// License is the canonical license document. The signature covers the
// canonical encoding of every other field; mutating anything else
// invalidates it.
type License struct {
	ID          string           `json:"id" validate:"required"`
	Version     int              `json:"version" validate:"gte=1"`
	Client      Client           `json:"client"`
	Product     Product          `json:"product"`
	Terms       Terms            `json:"terms"`
	Modules     []string         `json:"modules"`
	Features    []string         `json:"features"`
	Binding     *HardwareBinding `json:"binding,omitempty"`
	Signature   string           `json:"signature,omitempty"`
	PublicKeyID string           `json:"public_key_id,omitempty"`
}

var validate = validator.New()

// Validate checks structural and cross-field invariants. It does not check
// the signature; use Verifier for that.
func (l *License) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("license validation failed: %w", err)
	}

	if !licenseIDPattern.MatchString(l.ID) {
		return fmt.Errorf("license id %q does not match LIC-YYYY-NNNNNN", l.ID)
	}

	if !l.Terms.ExpiresAt.After(l.Terms.IssuedAt) {
		return fmt.Errorf("expiry %s is not after issue date %s",
			l.Terms.ExpiresAt.Format(time.RFC3339), l.Terms.IssuedAt.Format(time.RFC3339))
	}

	if l.Binding != nil {
		if l.Binding.MinMatching <= 0 || l.Binding.MinMatching > len(l.Binding.Fingerprints) {
			return fmt.Errorf("binding requires 0 < min_matching (%d) <= fingerprints (%d)",
				l.Binding.MinMatching, len(l.Binding.Fingerprints))
		}
	}

	return nil
}

// NewLicenseID formats a license identifier for the given year and sequence.
func NewLicenseID(year, sequence int) string {
	return fmt.Sprintf("LIC-%04d-%06d", year, sequence)
}

// HasModule reports whether the license grants the named module.
func (l *License) HasModule(id string) bool {
	for _, m := range l.Modules {
		if m == id {
			return true
		}
	}
	return false
}

// HasFeature reports whether the license grants the named feature.
func (l *License) HasFeature(id string) bool {
	for _, f := range l.Features {
		if f == id {
			return true
		}
	}
	return false
}

// GraceDeadline returns the last instant the license remains functionally
// valid (expiry plus the grace period).
func (l *License) GraceDeadline() time.Time {
	return l.Terms.ExpiresAt.AddDate(0, 0, l.Terms.GracePeriodDays)
}

// Status is the outcome of one validation cycle. All states are terminal
// for the cycle; the validator recomputes from scratch on each pass.
type Status int

const (
	StatusNotActivated Status = iota
	StatusValid
	StatusInGracePeriod
	StatusExpired
	StatusHardwareMismatch
	StatusInvalid
	StatusRevoked
)

// String returns the status name used in logs and API responses.
func (s Status) String() string {
	switch s {
	case StatusNotActivated:
		return "not_activated"
	case StatusValid:
		return "valid"
	case StatusInGracePeriod:
		return "in_grace_period"
	case StatusExpired:
		return "expired"
	case StatusHardwareMismatch:
		return "hardware_mismatch"
	case StatusInvalid:
		return "invalid"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Grants reports whether feature access is allowed in this status.
// InGracePeriod still grants access; everything past it does not.
func (s Status) Grants() bool {
	return s == StatusValid || s == StatusInGracePeriod
}
