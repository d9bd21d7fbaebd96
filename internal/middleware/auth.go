package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/belalkandil0/FathomOS-sub015/internal/errors"
)

// APIKeyAuth guards the admin routes. validKeys maps API key to client name;
// the client name is placed in the context for audit attribution.
func APIKeyAuth(logger *slog.Logger, validKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				renderError(w, r, apierrors.ErrUnauthorized)
				return
			}

			clientName, valid := validKeys[apiKey]
			if !valid {
				logger.WarnContext(ctx, "invalid API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				renderError(w, r, apierrors.ErrUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, APIClientKey, clientName)

			logger.DebugContext(ctx, "API key authentication successful",
				"client", clientName,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIClient returns the authenticated admin client name, or "unknown" when
// the request did not pass APIKeyAuth.
func APIClient(ctx context.Context) string {
	if client, ok := ctx.Value(APIClientKey).(string); ok {
		return client
	}
	return "unknown"
}
