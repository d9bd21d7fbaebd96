package license

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/belalkandil0/FathomOS-sub015/internal/fingerprint"
)

// Snapshot is the result of one validation cycle. The validator recomputes
// it from scratch on every pass; all states are terminal for the cycle.
type Snapshot struct {
	Status          Status    `json:"status"`
	License         *License  `json:"license,omitempty"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Warning         string    `json:"warning,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ValidatorConfig wires the validator's collaborators. Storage, PublicKey,
// and Fingerprints are required; Revocations and Server are optional and
// their absence means fully offline operation.
type ValidatorConfig struct {
	Storage      *Storage
	PublicKey    *ecdsa.PublicKey
	Fingerprints fingerprint.Provider
	Revocations  *RevocationList
	Server       *ServerClient

	// ClockTolerance bounds the accepted local/server clock divergence
	// before a tampering warning is surfaced.
	ClockTolerance  time.Duration
	RecheckInterval time.Duration
	Logger          *slog.Logger

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Validator combines signature verification, hardware binding, clock
// checks, and revocation lookups into a single status. It is the only
// license authority the rest of the application consults.
type Validator struct {
	cfg     ValidatorConfig
	metrics *Metrics

	mu       sync.RWMutex
	snapshot Snapshot

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewValidator creates a validator. Call Refresh (or Start) to compute the
// initial status; until then the status is NotActivated.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("validator requires storage")
	}
	if cfg.PublicKey == nil {
		return nil, fmt.Errorf("validator requires a public key")
	}
	if cfg.Fingerprints == nil {
		return nil, fmt.Errorf("validator requires a fingerprint provider")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = 5 * time.Minute
	}
	cfg.Logger = cfg.Logger.With(slog.String("component", "license_validator"))

	return &Validator{
		cfg:      cfg,
		metrics:  newMetrics(),
		snapshot: Snapshot{Status: StatusNotActivated},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Refresh recomputes the license status from scratch and swaps it in.
// It is safe to call concurrently with the periodic timer; evaluation runs
// without holding the snapshot lock and the later completion wins.
func (v *Validator) Refresh(ctx context.Context) Snapshot {
	snap := v.evaluate(ctx)

	v.mu.Lock()
	v.snapshot = snap
	v.mu.Unlock()

	v.metrics.recordValidation(ctx, snap.Status)
	v.cfg.Logger.InfoContext(ctx, "license validation cycle completed",
		slog.String("status", snap.Status.String()),
		slog.Int("days_until_expiry", snap.DaysUntilExpiry),
		slog.String("warning", snap.Warning),
	)
	return snap
}

// evaluate runs the transition algorithm in its fixed order: load, verify,
// revocation, hardware binding, then expiry against the clock.
func (v *Validator) evaluate(ctx context.Context) Snapshot {
	now := v.cfg.Clock()
	snap := Snapshot{CheckedAt: now}

	l, err := v.cfg.Storage.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotActivated) {
			snap.Status = StatusNotActivated
			return snap
		}
		// Corrupted storage (both slots) is recoverable only by
		// reactivation; surface it as Invalid with a warning.
		snap.Status = StatusInvalid
		snap.Warning = "stored license is corrupted; reactivation required"
		return snap
	}
	snap.License = l

	if !Verify(l, v.cfg.PublicKey) {
		v.metrics.recordSignatureFailure(ctx)
		v.cfg.Logger.WarnContext(ctx, "license signature verification failed",
			slog.String("license_id", l.ID),
		)
		snap.Status = StatusInvalid
		return snap
	}

	if v.cfg.Revocations != nil {
		revoked, err := v.cfg.Revocations.IsRevoked(ctx, l.ID)
		switch {
		case err != nil:
			// Unreachable server: fail open while offline. Only a
			// confirmed answer may transition to Revoked.
			v.cfg.Logger.DebugContext(ctx, "revocation check skipped",
				slog.String("license_id", l.ID),
				slog.String("error", err.Error()),
			)
		case revoked:
			if err := v.cfg.Storage.Delete(ctx); err != nil {
				v.cfg.Logger.ErrorContext(ctx, "failed to delete revoked license",
					slog.String("license_id", l.ID),
					slog.String("error", err.Error()),
				)
			}
			snap.Status = StatusRevoked
			return snap
		}
	}

	// Hardware check precedes the expiry check; a mismatched machine is
	// reported as such even when the license is also expired.
	if l.Binding != nil {
		collected := v.cfg.Fingerprints.Collect()
		if !fingerprint.Match(collected, l.Binding.Fingerprints, l.Binding.MinMatching) {
			v.cfg.Logger.WarnContext(ctx, "hardware binding mismatch",
				slog.String("license_id", l.ID),
				slog.Int("collected", len(collected)),
				slog.Int("required", l.Binding.MinMatching),
			)
			snap.Status = StatusHardwareMismatch
			return snap
		}
	}

	if warning := v.clockTamperWarning(ctx, now); warning != "" {
		snap.Warning = warning
	}

	expiresAt := l.Terms.ExpiresAt
	snap.DaysUntilExpiry = daysBetween(now, expiresAt)

	switch {
	case !now.After(expiresAt):
		snap.Status = StatusValid
	case !now.After(l.GraceDeadline()):
		snap.Status = StatusInGracePeriod
		snap.Warning = fmt.Sprintf("license expired %s; grace period ends %s",
			expiresAt.Format("2006-01-02"), l.GraceDeadline().Format("2006-01-02"))
	default:
		snap.Status = StatusExpired
	}
	return snap
}

// clockTamperWarning compares the local clock against the server's when
// reachable. Divergence only ever produces a warning; offline-first
// validity never depends on the server answering.
func (v *Validator) clockTamperWarning(ctx context.Context, now time.Time) string {
	if v.cfg.Server == nil || v.cfg.ClockTolerance <= 0 {
		return ""
	}
	serverTime, err := v.cfg.Server.ServerTime(ctx)
	if err != nil {
		return ""
	}
	drift := now.Sub(serverTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.cfg.ClockTolerance {
		v.cfg.Logger.WarnContext(ctx, "local clock diverges from server",
			slog.Duration("drift", drift),
		)
		return fmt.Sprintf("local clock differs from server by %s", drift.Round(time.Minute))
	}
	return ""
}

// daysBetween returns whole days from now until t, rounding toward the
// past so any license beyond its expiry reports a negative count.
func daysBetween(now, t time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}

// Start runs the initial validation and begins periodic revalidation.
func (v *Validator) Start(ctx context.Context) Snapshot {
	snap := v.Refresh(ctx)

	v.mu.Lock()
	v.started = true
	v.mu.Unlock()

	go func() {
		defer close(v.done)
		ticker := time.NewTicker(v.cfg.RecheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				v.Refresh(context.Background())
			case <-v.stop:
				return
			}
		}
	}()

	return snap
}

// Stop halts the periodic timer. It must be called before owned resources
// (storage paths, encryption scope) are torn down, and returns only after
// the timer goroutine has exited.
func (v *Validator) Stop() {
	v.stopOnce.Do(func() { close(v.stop) })

	v.mu.RLock()
	started := v.started
	v.mu.RUnlock()
	if started {
		<-v.done
	}
}

// Current returns the last computed snapshot without revalidating.
func (v *Validator) Current() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshot
}

// IsLicenseValid reports whether feature access is currently granted.
// Grace-period licenses remain valid.
func (v *Validator) IsLicenseValid() bool {
	return v.Current().Status.Grants()
}

// HasModule reports whether the active license grants the named module.
func (v *Validator) HasModule(id string) bool {
	snap := v.Current()
	return snap.Status.Grants() && snap.License != nil && snap.License.HasModule(id)
}

// HasFeature reports whether the active license grants the named feature.
func (v *Validator) HasFeature(id string) bool {
	snap := v.Current()
	return snap.Status.Grants() && snap.License != nil && snap.License.HasFeature(id)
}

// GetStatus returns the current status.
func (v *Validator) GetStatus() Status {
	return v.Current().Status
}

// GetDaysUntilExpiry returns whole days until expiry; negative once expired.
func (v *Validator) GetDaysUntilExpiry() int {
	return v.Current().DaysUntilExpiry
}

// IsInGracePeriod reports whether the license is past expiry but within grace.
func (v *Validator) IsInGracePeriod() bool {
	return v.Current().Status == StatusInGracePeriod
}

// GetHardwareFingerprints returns the locally collected fingerprints, for
// support flows and for requesting a bound license.
func (v *Validator) GetHardwareFingerprints() []string {
	return v.cfg.Fingerprints.Collect()
}

// ActivateFromFile activates a license from a .lic JSON file.
func (v *Validator) ActivateFromFile(ctx context.Context, path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		v.metrics.recordActivation(ctx, "file", false)
		return v.Current(), fmt.Errorf("read license file: %w", err)
	}

	var l License
	if err := json.Unmarshal(data, &l); err != nil {
		v.metrics.recordActivation(ctx, "file", false)
		return v.Current(), fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	return v.activate(ctx, &l, "file")
}

// ActivateFromKey activates a license from a transcribed key string.
func (v *Validator) ActivateFromKey(ctx context.Context, key string) (Snapshot, error) {
	l, err := FromKeyString(key)
	if err != nil {
		v.metrics.recordActivation(ctx, "key", false)
		return v.Current(), err
	}
	return v.activate(ctx, l, "key")
}

// activate verifies, persists, and revalidates a candidate license.
// The previous stored copy is replaced only after the signature checks out.
func (v *Validator) activate(ctx context.Context, l *License, method string) (Snapshot, error) {
	if err := l.Validate(); err != nil {
		v.metrics.recordActivation(ctx, method, false)
		return v.Current(), fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	if !Verify(l, v.cfg.PublicKey) {
		v.metrics.recordSignatureFailure(ctx)
		v.metrics.recordActivation(ctx, method, false)
		v.cfg.Logger.WarnContext(ctx, "activation rejected: signature invalid",
			slog.String("license_id", l.ID),
			slog.String("method", method),
		)
		return v.Current(), ErrSignatureInvalid
	}

	if err := v.cfg.Storage.Store(ctx, l); err != nil {
		v.metrics.recordActivation(ctx, method, false)
		return v.Current(), fmt.Errorf("persist license: %w", err)
	}

	snap := v.Refresh(ctx)
	v.metrics.recordActivation(ctx, method, snap.Status.Grants())
	v.cfg.Logger.InfoContext(ctx, "license activated",
		slog.String("license_id", l.ID),
		slog.String("method", method),
		slog.String("status", snap.Status.String()),
	)
	return snap, nil
}
