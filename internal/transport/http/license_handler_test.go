package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belalkandil0/FathomOS-sub015/internal/license"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type licenseFixture struct {
	handler  *LicenseHandler
	registry *security.RevocationRegistry
	audit    *security.AuditLog
	priv     *ecdsa.PrivateKey
	server   *httptest.Server
}

func newLicenseFixture(t *testing.T) *licenseFixture {
	t.Helper()

	db, err := security.OpenStoreInMemory()
	require.NoError(t, err)

	audit := security.NewAuditLog(db, testLogger())
	t.Cleanup(audit.Close)

	registry := security.NewRevocationRegistry(db, audit, testLogger())

	priv, err := license.GenerateSigningKey()
	require.NoError(t, err)

	handler := NewLicenseHandler(&priv.PublicKey, registry, audit, testLogger())
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &licenseFixture{
		handler:  handler,
		registry: registry,
		audit:    audit,
		priv:     priv,
		server:   server,
	}
}

func (f *licenseFixture) signedKeyString(t *testing.T) (string, *license.License) {
	t.Helper()

	l := &license.License{
		ID:      "LIC-2026-000123",
		Version: license.CurrentVersion,
		Client: license.Client{
			Name:  "Oceanic Survey Ltd",
			Code:  "OSL",
			Email: "ops@oceanicsurvey.example",
		},
		Product: license.Product{Name: "FathomOS", Edition: "PRO"},
		Terms: license.Terms{
			IssuedAt:        time.Now().UTC().AddDate(0, -1, 0),
			ExpiresAt:       time.Now().UTC().AddDate(1, 0, 0),
			GracePeriodDays: 7,
		},
		Modules: []string{"SurveyListing"},
	}
	require.NoError(t, license.Sign(l, f.priv))

	key, err := license.ToKeyString(l)
	require.NoError(t, err)
	return key, l
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestValidateEndpoint(t *testing.T) {
	f := newLicenseFixture(t)
	key, l := f.signedKeyString(t)

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{"license_key": key})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ValidateResponse
	decodeJSON(t, resp, &body)
	assert.True(t, body.Valid)
	assert.Equal(t, l.ID, body.LicenseID)
	assert.Equal(t, "valid", body.Status)
	assert.Positive(t, body.DaysUntilExpiry)
}

func TestValidateEndpointMalformedKey(t *testing.T) {
	f := newLicenseFixture(t)

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{"license_key": "FATHOM-PRO-OOPS"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			ErrorCode string `json:"error_code"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "KEY_FORMAT_INVALID", body.Error.ErrorCode)
}

func TestValidateEndpointMissingKey(t *testing.T) {
	f := newLicenseFixture(t)

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateEndpointRevoked(t *testing.T) {
	f := newLicenseFixture(t)
	key, l := f.signedKeyString(t)

	require.NoError(t, f.registry.Revoke(context.Background(), l.ID, "chargeback", "ops-team"))

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{"license_key": key})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestValidateEndpointBadSignatureAudited(t *testing.T) {
	f := newLicenseFixture(t)

	// Key signed by a key the server does not trust.
	rogue, err := license.GenerateSigningKey()
	require.NoError(t, err)
	l := &license.License{
		ID:      "LIC-2026-000999",
		Version: license.CurrentVersion,
		Client:  license.Client{Name: "Oceanic Survey Ltd", Code: "OSL", Email: "ops@oceanicsurvey.example"},
		Product: license.Product{Name: "FathomOS", Edition: "PRO"},
		Terms: license.Terms{
			IssuedAt:  time.Now().UTC().AddDate(0, -1, 0),
			ExpiresAt: time.Now().UTC().AddDate(1, 0, 0),
		},
		Modules: []string{"SurveyListing"},
	}
	require.NoError(t, license.Sign(l, rogue))
	key, err := license.ToKeyString(l)
	require.NoError(t, err)

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{"license_key": key})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.audit.Close()
	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)

	var failures []security.AuditEntry
	for _, e := range entries {
		if e.Action == "license_verify_failed" {
			failures = append(failures, e)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, "LIC-2026-000999", failures[0].EntityID)
	assert.False(t, failures[0].Success)
}

func TestValidateEndpointRevokedAudited(t *testing.T) {
	f := newLicenseFixture(t)
	key, l := f.signedKeyString(t)

	require.NoError(t, f.registry.Revoke(context.Background(), l.ID, "chargeback", "ops-team"))

	resp := postJSON(t, f.server.URL+"/validate", map[string]string{"license_key": key})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.audit.Close()
	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)

	var failures []security.AuditEntry
	for _, e := range entries {
		if e.Action == "license_verify_failed" {
			failures = append(failures, e)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, l.ID, failures[0].EntityID)
	assert.Equal(t, "license is revoked", failures[0].Details)
}

func TestActivateEndpoint(t *testing.T) {
	f := newLicenseFixture(t)
	key, l := f.signedKeyString(t)

	resp := postJSON(t, f.server.URL+"/activate", map[string]string{"license_key": key})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ActivateResponse
	decodeJSON(t, resp, &body)
	assert.True(t, body.Success)
	require.NotNil(t, body.License)
	assert.Equal(t, l.ID, body.License.ID)
	assert.NotEmpty(t, body.License.Signature)
}

func TestRevokedLookup(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	resp, err := http.Get(f.server.URL + "/revoked/LIC-2026-000777")
	require.NoError(t, err)
	var body license.RevokedResponse
	decodeJSON(t, resp, &body)
	assert.False(t, body.Revoked)

	require.NoError(t, f.registry.Revoke(ctx, "LIC-2026-000777", "fraud", "ops-team"))

	resp, err = http.Get(f.server.URL + "/revoked/LIC-2026-000777")
	require.NoError(t, err)
	decodeJSON(t, resp, &body)
	assert.True(t, body.Revoked)
	assert.Equal(t, "LIC-2026-000777", body.LicenseID)
}

func TestHeartbeat(t *testing.T) {
	f := newLicenseFixture(t)

	expires := time.Now().UTC().AddDate(0, 0, 45)
	resp := postJSON(t, f.server.URL+"/heartbeat", license.HeartbeatRequest{
		LicenseID: "LIC-2026-000123",
		ExpiresAt: &expires,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body license.HeartbeatResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, "active", body.Status)
	assert.False(t, body.Revoked)
	assert.InDelta(t, 44, body.DaysUntilExpiry, 1)
}

func TestHeartbeatRevoked(t *testing.T) {
	f := newLicenseFixture(t)
	require.NoError(t, f.registry.Revoke(context.Background(), "LIC-2026-000123", "fraud", "ops-team"))

	resp := postJSON(t, f.server.URL+"/heartbeat", license.HeartbeatRequest{LicenseID: "LIC-2026-000123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body license.HeartbeatResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, "revoked", body.Status)
	assert.True(t, body.Revoked)
}
