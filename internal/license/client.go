package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Wire types shared between the client validator and the server handlers.

// RevokedResponse is the body of GET /api/license/revoked/{id}.
type RevokedResponse struct {
	LicenseID string `json:"license_id"`
	Revoked   bool   `json:"revoked"`
}

// TimeResponse is the body of GET /api/time.
type TimeResponse struct {
	ServerTime time.Time `json:"server_time"`
}

// HeartbeatRequest is the body of POST /api/license/heartbeat. ExpiresAt
// lets the server report days-until-expiry against its own clock, which a
// tampered local clock cannot influence.
type HeartbeatRequest struct {
	LicenseID string     `json:"license_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HeartbeatResponse reports the server-known entitlement for a license.
type HeartbeatResponse struct {
	LicenseID       string `json:"license_id"`
	Status          string `json:"status"`
	Revoked         bool   `json:"revoked"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
}

// ServerClient calls the license server's validation surface. Every
// transport failure is reported as ErrNetworkUnavailable so the validator
// can treat timeouts, DNS errors, and TLS faults identically to being
// offline.
type ServerClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewServerClient creates a license server client.
func NewServerClient(baseURL string, timeout time.Duration, logger *slog.Logger) *ServerClient {
	return &ServerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "license_client")),
	}
}

// IsRevoked asks the server whether the license has been revoked.
func (c *ServerClient) IsRevoked(ctx context.Context, licenseID string) (bool, error) {
	var resp RevokedResponse
	path := "/api/license/revoked/" + url.PathEscape(licenseID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Revoked, nil
}

// ServerTime fetches the server clock, used to detect local clock tampering.
func (c *ServerClient) ServerTime(ctx context.Context) (time.Time, error) {
	var resp TimeResponse
	if err := c.get(ctx, "/api/time", &resp); err != nil {
		return time.Time{}, err
	}
	return resp.ServerTime, nil
}

// Heartbeat reports liveness and fetches the server-known entitlement.
func (c *ServerClient) Heartbeat(ctx context.Context, l *License) (*HeartbeatResponse, error) {
	expires := l.Terms.ExpiresAt
	req := HeartbeatRequest{LicenseID: l.ID, ExpiresAt: &expires}

	var resp HeartbeatResponse
	if err := c.post(ctx, "/api/license/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ServerClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return c.do(req, out)
}

func (c *ServerClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *ServerClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(req.Context(), "license server unreachable",
			slog.String("url", req.URL.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: server returned %d", ErrNetworkUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrNetworkUnavailable, err)
	}
	return nil
}
