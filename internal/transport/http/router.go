package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/belalkandil0/FathomOS-sub015/internal/config"
	"github.com/belalkandil0/FathomOS-sub015/internal/license"
	"github.com/belalkandil0/FathomOS-sub015/internal/middleware"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
)

// RouterDeps carries the wired services the router mounts. Metrics is the
// Prometheus scrape handler; nil disables the endpoint.
type RouterDeps struct {
	License *LicenseHandler
	Admin   *AdminHandler
	Blocks  *security.IPBlockService
	Limiter *security.RateLimiter
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter assembles the full middleware chain and route tree.
func NewRouter(cfg *config.Config, deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)

	if cfg.Security.RateLimit.Enabled {
		global := middleware.NewGlobalRateLimiter(
			cfg.Security.RateLimit.GlobalRPS,
			cfg.Security.RateLimit.GlobalBurst,
			deps.Logger,
		)
		r.Use(global.Handler)
	}

	r.Get("/healthz", healthHandler)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	r.Get("/api/time", timeHandler)

	guard := middleware.AbuseGuard(middleware.AbuseGuardConfig{
		Blocks:      deps.Blocks,
		Limiter:     deps.Limiter,
		MaxRequests: cfg.Security.RateLimit.MaxRequests,
		Window:      cfg.Security.RateLimit.Window,
	})

	r.Route("/api/license", func(r chi.Router) {
		r.Use(guard)
		r.Mount("/", deps.License.Routes())
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(deps.Logger, cfg.Security.AdminAPIKeys))
		r.Mount("/", deps.Admin.Routes())
	})

	return r
}

// timeHandler serves the trusted clock reference clients use to detect
// local tampering.
func timeHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, license.TimeResponse{ServerTime: time.Now().UTC()})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
