package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeDeterministic(t *testing.T) {
	a := testLicense()
	b := testLicense()

	// Set order and timezone must not affect the canonical bytes.
	b.Modules = []string{"TidePrediction", "SurveyListing"}
	b.Features = []string{"ExportPDF"}
	b.Terms.IssuedAt = b.Terms.IssuedAt.In(mustLoadLocation(t, "America/New_York"))

	first, err := Canonicalize(a)
	require.NoError(t, err)
	second, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCanonicalizeExcludesSignature(t *testing.T) {
	l := testLicense()
	unsigned, err := Canonicalize(l)
	require.NoError(t, err)

	l.Signature = "bm90LWEtcmVhbC1zaWduYXR1cmU="
	signed, err := Canonicalize(l)
	require.NoError(t, err)

	assert.Equal(t, unsigned, signed)
}

func TestCanonicalizeDoesNotMutateInput(t *testing.T) {
	l := testLicense()
	l.Modules = []string{"TidePrediction", "SurveyListing"}

	_, err := Canonicalize(l)
	require.NoError(t, err)

	assert.Equal(t, []string{"TidePrediction", "SurveyListing"}, l.Modules)
}

func TestKeyStringRoundTrip(t *testing.T) {
	priv := testSigningKey(t)

	l := testLicense()
	l.Binding = &HardwareBinding{
		Fingerprints: []string{"machine:aaa", "mac:bbb", "cpu:ccc"},
		MinMatching:  2,
	}
	require.NoError(t, Sign(l, priv))

	key, err := ToKeyString(l)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "FATHOM-PRO-"))

	decoded, err := FromKeyString(key)
	require.NoError(t, err)

	assert.Equal(t, l.ID, decoded.ID)
	assert.Equal(t, l.Client, decoded.Client)
	assert.Equal(t, l.Product, decoded.Product)
	assert.True(t, l.Terms.ExpiresAt.Equal(decoded.Terms.ExpiresAt))
	assert.Equal(t, l.Terms.GracePeriodDays, decoded.Terms.GracePeriodDays)
	assert.ElementsMatch(t, l.Modules, decoded.Modules)
	assert.ElementsMatch(t, l.Features, decoded.Features)
	require.NotNil(t, decoded.Binding)
	assert.Equal(t, l.Binding.MinMatching, decoded.Binding.MinMatching)
	assert.ElementsMatch(t, l.Binding.Fingerprints, decoded.Binding.Fingerprints)

	// The signature survives the trip and still verifies.
	assert.True(t, Verify(decoded, &priv.PublicKey))
}

func TestFromKeyStringNormalizesInput(t *testing.T) {
	priv := testSigningKey(t)
	l := signedTestLicense(t, priv)

	key, err := ToKeyString(l)
	require.NoError(t, err)

	// Lowercase with stray spaces, as a user might transcribe it.
	sloppy := "  " + strings.ToLower(strings.ReplaceAll(key, "-", "- ")) + " "

	decoded, err := FromKeyString(sloppy)
	require.NoError(t, err)
	assert.Equal(t, l.ID, decoded.ID)
}

func TestFromKeyStringChecksumTypoFailsFast(t *testing.T) {
	priv := testSigningKey(t)
	l := signedTestLicense(t, priv)

	key, err := ToKeyString(l)
	require.NoError(t, err)

	// Flip one character of the final checksum group.
	last := key[len(key)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	typo := key[:len(key)-1] + string(replacement)

	_, err = FromKeyString(typo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyFormat)
	assert.Contains(t, err.Error(), "checksum")
}

func TestFromKeyStringRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"wrong prefix", "ACME-PRO-ABCDE-12345678"},
		{"too few segments", "FATHOM-PRO-12345678"},
		{"short checksum", "FATHOM-PRO-ABCDE-1234"},
		{"garbage payload", "FATHOM-PRO-!!!!!-" + checksumOf("!!!!!")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromKeyString(tt.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrKeyFormat)
		})
	}
}

func TestToKeyStringRequiresSignature(t *testing.T) {
	_, err := ToKeyString(testLicense())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsigned")
}

func TestNormalizeEdition(t *testing.T) {
	assert.Equal(t, "PRO", normalizeEdition("pro"))
	assert.Equal(t, "STD2", normalizeEdition("Std-2"))
	assert.Equal(t, "ENTERPRISE", normalizeEdition("Enterprise "))
}
