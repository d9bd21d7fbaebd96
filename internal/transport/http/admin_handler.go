package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "github.com/belalkandil0/FathomOS-sub015/internal/errors"
	"github.com/belalkandil0/FathomOS-sub015/internal/infrastructure"
	"github.com/belalkandil0/FathomOS-sub015/internal/middleware"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
)

// AdminHandler serves the API-key-guarded admin surface: license revocation
// and IP block management. Every operation lands in the audit log with the
// authenticated client as actor.
type AdminHandler struct {
	registry *security.RevocationRegistry
	blocks   *security.IPBlockService
	logger   *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(registry *security.RevocationRegistry, blocks *security.IPBlockService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		blocks:   blocks,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the router for the /api/admin subtree. APIKeyAuth is
// applied by the caller so the whole subtree shares one guard.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/revoke", h.Revoke)
	r.Post("/block", h.Block)
	r.Post("/unblock", h.Unblock)
	return r
}

// RevokeRequest is the body of POST /api/admin/revoke.
type RevokeRequest struct {
	LicenseID string `json:"license_id"`
	Reason    string `json:"reason"`
}

// Bind implements render.Binder.
func (req *RevokeRequest) Bind(r *http.Request) error {
	if req.LicenseID == "" {
		return errors.New("license_id is required")
	}
	if req.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// BlockRequest is the body of POST /api/admin/block. A zero or missing
// duration makes the block permanent.
type BlockRequest struct {
	IP       string        `json:"ip"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Bind implements render.Binder.
func (req *BlockRequest) Bind(r *http.Request) error {
	if req.IP == "" {
		return errors.New("ip is required")
	}
	if req.Reason == "" {
		return errors.New("reason is required")
	}
	if req.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

// UnblockRequest is the body of POST /api/admin/unblock.
type UnblockRequest struct {
	IP string `json:"ip"`
}

// Bind implements render.Binder.
func (req *UnblockRequest) Bind(r *http.Request) error {
	if req.IP == "" {
		return errors.New("ip is required")
	}
	return nil
}

// AdminResponse acknowledges a completed admin operation.
type AdminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Revoke handles POST /api/admin/revoke.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.APIClient(ctx)

	req := &RevokeRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.registry.Revoke(ctx, req.LicenseID, req.Reason, actor); err != nil {
		h.logger.ErrorContext(ctx, "license revocation failed",
			slog.String("license_id", req.LicenseID),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apierrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, AdminResponse{Success: true, Message: "license revoked"})
}

// Block handles POST /api/admin/block.
func (h *AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.APIClient(ctx)

	req := &BlockRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.blocks.Block(ctx, req.IP, req.Reason, req.Duration, actor); err != nil {
		h.logger.ErrorContext(ctx, "ip block failed",
			slog.String("ip", req.IP),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apierrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, AdminResponse{Success: true, Message: "ip blocked"})
}

// Unblock handles POST /api/admin/unblock.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.APIClient(ctx)

	req := &UnblockRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.blocks.Unblock(ctx, req.IP, actor); err != nil {
		h.logger.ErrorContext(ctx, "ip unblock failed",
			slog.String("ip", req.IP),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apierrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, AdminResponse{Success: true, Message: "ip unblocked"})
}

func (h *AdminHandler) renderError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	traceID := infrastructure.GetTraceID(r.Context())
	_ = render.Render(w, r, apierrors.NewErrorResponse(apiErr.WithTrace(traceID)))
}
