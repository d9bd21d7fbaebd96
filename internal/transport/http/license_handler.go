// Package http provides the chi HTTP handlers for the license server's
// public validation surface and the API-key-guarded admin surface.
package http

import (
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "github.com/belalkandil0/FathomOS-sub015/internal/errors"
	"github.com/belalkandil0/FathomOS-sub015/internal/infrastructure"
	"github.com/belalkandil0/FathomOS-sub015/internal/license"
	"github.com/belalkandil0/FathomOS-sub015/internal/middleware"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
)

// LicenseHandler serves the public license endpoints. The server holds only
// the vendor public key; it can verify and revoke licenses but never issue
// them.
type LicenseHandler struct {
	publicKey *ecdsa.PublicKey
	registry  *security.RevocationRegistry
	audit     *security.AuditLog
	logger    *slog.Logger
	clock     func() time.Time
}

// NewLicenseHandler creates the public license handler.
func NewLicenseHandler(publicKey *ecdsa.PublicKey, registry *security.RevocationRegistry, audit *security.AuditLog, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		publicKey: publicKey,
		registry:  registry,
		audit:     audit,
		logger:    logger.With(slog.String("handler", "license")),
		clock:     time.Now,
	}
}

// Routes returns the router for the /api/license subtree.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/heartbeat", h.Heartbeat)
	r.Get("/revoked/{id}", h.Revoked)
	return r
}

// KeyRequest carries a transcribed license key string.
type KeyRequest struct {
	LicenseKey string `json:"license_key"`
}

// Bind implements render.Binder.
func (k *KeyRequest) Bind(r *http.Request) error {
	if k.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// ValidateResponse reports the server's view of a submitted key.
type ValidateResponse struct {
	Valid           bool   `json:"valid"`
	LicenseID       string `json:"license_id,omitempty"`
	Status          string `json:"status"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
}

// Render implements render.Renderer.
func (v *ValidateResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// ActivateResponse echoes the parsed license so a client activating by key
// can persist the full document.
type ActivateResponse struct {
	Success         bool             `json:"success"`
	License         *license.License `json:"license"`
	DaysUntilExpiry int              `json:"days_until_expiry"`
}

// Render implements render.Renderer.
func (a *ActivateResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// Activate handles POST /api/license/activate. The server verifies the key,
// checks revocation, records the attempt, and returns the full license.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := middleware.ClientIP(r)

	req := &KeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	l, apiErr := h.checkKey(r, req.LicenseKey)
	if apiErr != nil {
		licenseID := ""
		if l != nil {
			licenseID = l.ID
		}
		h.registry.RecordActivation(ctx, licenseID, ip, "key", false)
		h.renderError(w, r, apiErr)
		return
	}

	h.registry.RecordActivation(ctx, l.ID, ip, "key", true)
	h.logger.InfoContext(ctx, "license activation recorded",
		slog.String("license_id", l.ID),
		slog.String("client_ip", ip),
	)

	h.render(w, r, &ActivateResponse{
		Success:         true,
		License:         l,
		DaysUntilExpiry: h.daysUntilExpiry(l.Terms.ExpiresAt),
	})
}

// Validate handles POST /api/license/validate without recording an
// activation.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req := &KeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	l, apiErr := h.checkKey(r, req.LicenseKey)
	if apiErr != nil {
		h.renderError(w, r, apiErr)
		return
	}

	status := "valid"
	valid := true
	if h.clock().After(l.Terms.ExpiresAt) {
		status = "expired"
		valid = false
	}

	h.render(w, r, &ValidateResponse{
		Valid:           valid,
		LicenseID:       l.ID,
		Status:          status,
		DaysUntilExpiry: h.daysUntilExpiry(l.Terms.ExpiresAt),
	})
}

// checkKey parses and verifies a key string against the vendor public key
// and the revocation list. It returns the parsed license (possibly non-nil
// alongside an error, for audit attribution).
func (h *LicenseHandler) checkKey(r *http.Request, key string) (*license.License, *apierrors.APIError) {
	ctx := r.Context()

	l, err := license.FromKeyString(key)
	if err != nil {
		h.logger.WarnContext(ctx, "malformed license key submitted",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return nil, apierrors.KeyFormatError(err)
	}

	if !license.Verify(l, h.publicKey) {
		h.logger.WarnContext(ctx, "license key failed signature verification",
			slog.String("license_id", l.ID),
			slog.String("remote_addr", r.RemoteAddr),
		)
		h.audit.Log(ctx, "license_verify_failed", "license", l.ID, false,
			security.WithTarget(middleware.ClientIP(r)),
			security.WithDetails("signature verification failed"),
		)
		return l, apierrors.ErrSignatureInvalid
	}

	revoked, err := h.registry.IsRevoked(ctx, l.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "revocation lookup failed",
			slog.String("license_id", l.ID),
			slog.String("error", err.Error()),
		)
		return l, apierrors.ErrInternalServer
	}
	if revoked {
		h.audit.Log(ctx, "license_verify_failed", "license", l.ID, false,
			security.WithTarget(middleware.ClientIP(r)),
			security.WithDetails("license is revoked"),
		)
		return l, apierrors.ErrLicenseRevoked
	}

	return l, nil
}

// Heartbeat handles POST /api/license/heartbeat.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req license.HeartbeatRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if req.LicenseID == "" {
		h.renderError(w, r, apierrors.ErrMissingParameter)
		return
	}

	revoked, err := h.registry.IsRevoked(ctx, req.LicenseID)
	if err != nil {
		h.logger.ErrorContext(ctx, "revocation lookup failed",
			slog.String("license_id", req.LicenseID),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apierrors.ErrInternalServer)
		return
	}

	resp := license.HeartbeatResponse{
		LicenseID: req.LicenseID,
		Status:    "active",
		Revoked:   revoked,
	}
	if revoked {
		resp.Status = "revoked"
	}
	if req.ExpiresAt != nil {
		resp.DaysUntilExpiry = h.daysUntilExpiry(*req.ExpiresAt)
	}

	render.JSON(w, r, resp)
}

// Revoked handles GET /api/license/revoked/{id}.
func (h *LicenseHandler) Revoked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	licenseID := chi.URLParam(r, "id")
	if licenseID == "" {
		h.renderError(w, r, apierrors.ErrMissingParameter)
		return
	}

	revoked, err := h.registry.IsRevoked(ctx, licenseID)
	if err != nil {
		h.logger.ErrorContext(ctx, "revocation lookup failed",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apierrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, license.RevokedResponse{LicenseID: licenseID, Revoked: revoked})
}

func (h *LicenseHandler) daysUntilExpiry(expiresAt time.Time) int {
	return int(expiresAt.Sub(h.clock()).Hours() / 24)
}

func (h *LicenseHandler) render(w http.ResponseWriter, r *http.Request, v render.Renderer) {
	if err := render.Render(w, r, v); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render response",
			slog.String("error", err.Error()),
		)
	}
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	traceID := infrastructure.GetTraceID(r.Context())
	_ = render.Render(w, r, apierrors.NewErrorResponse(apiErr.WithTrace(traceID)))
}
