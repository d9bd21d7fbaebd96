package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belalkandil0/FathomOS-sub015/internal/middleware"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
)

type adminFixture struct {
	registry *security.RevocationRegistry
	blocks   *security.IPBlockService
	server   *httptest.Server
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()

	db, err := security.OpenStoreInMemory()
	require.NoError(t, err)

	audit := security.NewAuditLog(db, testLogger())
	t.Cleanup(audit.Close)

	registry := security.NewRevocationRegistry(db, audit, testLogger())
	blocks := security.NewIPBlockService(db, audit, nil, 5*time.Minute, testLogger())

	handler := NewAdminHandler(registry, blocks, testLogger())

	guarded := middleware.APIKeyAuth(testLogger(), map[string]string{"test-admin-key": "ops-team"})(handler.Routes())
	server := httptest.NewServer(guarded)
	t.Cleanup(server.Close)

	return &adminFixture{registry: registry, blocks: blocks, server: server}
}

func (f *adminFixture) post(t *testing.T, path, apiKey, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAdminRequiresAPIKey(t *testing.T) {
	f := newAdminFixture(t)

	resp := f.post(t, "/revoke", "", `{"license_id":"LIC-2026-000123","reason":"fraud"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, "/revoke", "wrong-key", `{"license_id":"LIC-2026-000123","reason":"fraud"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRevoke(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	resp := f.post(t, "/revoke", "test-admin-key", `{"license_id":"LIC-2026-000123","reason":"chargeback"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	revoked, err := f.registry.IsRevoked(ctx, "LIC-2026-000123")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestAdminRevokeValidation(t *testing.T) {
	f := newAdminFixture(t)

	resp := f.post(t, "/revoke", "test-admin-key", `{"reason":"missing id"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminBlockAndUnblock(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	resp := f.post(t, "/block", "test-admin-key", `{"ip":"203.0.113.5","reason":"key stuffing"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.blocks.IsBlocked(ctx, "203.0.113.5"))

	resp = f.post(t, "/unblock", "test-admin-key", `{"ip":"203.0.113.5"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.blocks.IsBlocked(ctx, "203.0.113.5"))
}

func TestAdminBlockNegativeDuration(t *testing.T) {
	f := newAdminFixture(t)

	resp := f.post(t, "/block", "test-admin-key", `{"ip":"203.0.113.5","reason":"x","duration":-60}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
