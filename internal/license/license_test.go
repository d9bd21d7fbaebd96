package license

import (
	"crypto/ecdsa"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigningKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	return key
}

// testLicense returns a structurally valid unsigned license.
func testLicense() *License {
	return &License{
		ID:      "LIC-2026-000123",
		Version: CurrentVersion,
		Client: Client{
			Name:  "Oceanic Survey Ltd",
			Code:  "OSL",
			Email: "ops@oceanicsurvey.example",
		},
		Product: Product{
			Name:    "FathomOS",
			Edition: "PRO",
		},
		Terms: Terms{
			IssuedAt:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			ExpiresAt:       time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC),
			GracePeriodDays: 7,
		},
		Modules:  []string{"SurveyListing", "TidePrediction"},
		Features: []string{"ExportPDF"},
	}
}

func signedTestLicense(t *testing.T, priv *ecdsa.PrivateKey) *License {
	t.Helper()
	l := testLicense()
	require.NoError(t, Sign(l, priv))
	return l
}

// testStorage returns storage in a temp dir with scrypt cost lowered so the
// suite stays fast.
func testStorage(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(filepath.Join(t.TempDir(), "license.dat"), testLogger())
	s.scryptN = 1024
	return s
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func checksumOf(encoded string) string {
	return fmt.Sprintf("%08X", crc32.ChecksumIEEE([]byte(encoded)))
}
