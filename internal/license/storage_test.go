package license

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	priv := testSigningKey(t)
	s := testStorage(t)

	l := signedTestLicense(t, priv)
	require.NoError(t, s.Store(ctx, l))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, l.ID, loaded.ID)
	assert.Equal(t, l.Signature, loaded.Signature)

	// The persisted copy must still verify; encryption is not allowed to
	// alter any signed field.
	assert.True(t, Verify(loaded, &priv.PublicKey))
}

func TestStorageNotActivated(t *testing.T) {
	s := testStorage(t)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotActivated)
}

func TestStorageFileIsEncrypted(t *testing.T) {
	ctx := context.Background()
	s := testStorage(t)
	require.NoError(t, s.Store(ctx, signedTestLicense(t, testSigningKey(t))))

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Oceanic Survey")
	assert.NotContains(t, string(raw), "LIC-2026")
}

func TestStorageBackupFallback(t *testing.T) {
	ctx := context.Background()
	priv := testSigningKey(t)
	s := testStorage(t)

	first := signedTestLicense(t, priv)
	require.NoError(t, s.Store(ctx, first))

	second := signedTestLicense(t, priv)
	second.ID = "LIC-2026-000124"
	second.Signature = ""
	require.NoError(t, Sign(second, priv))
	require.NoError(t, s.Store(ctx, second))

	// Corrupt the primary slot; Load must recover the rotated backup.
	require.NoError(t, os.WriteFile(s.path, []byte("not an envelope"), 0o600))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, loaded.ID)
}

func TestStorageBothSlotsCorrupted(t *testing.T) {
	ctx := context.Background()
	s := testStorage(t)

	require.NoError(t, os.WriteFile(s.path, []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(s.backupPath, []byte("garbage"), 0o600))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestStorageTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	s := testStorage(t)
	require.NoError(t, s.Store(ctx, signedTestLicense(t, testSigningKey(t))))

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0xff
	require.NoError(t, os.WriteFile(s.path, raw, 0o600))

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestStorageDelete(t *testing.T) {
	ctx := context.Background()
	priv := testSigningKey(t)
	s := testStorage(t)

	require.NoError(t, s.Store(ctx, signedTestLicense(t, priv)))
	require.NoError(t, s.Store(ctx, signedTestLicense(t, priv)))

	require.NoError(t, s.Delete(ctx))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotActivated)
	assert.NoFileExists(t, s.path)
	assert.NoFileExists(t, s.backupPath)
}

func TestStorageDeleteWhenEmpty(t *testing.T) {
	s := testStorage(t)
	assert.NoError(t, s.Delete(context.Background()))
}
