package license

import (
	"bytes"
	"compress/flate"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"time"
)

// KeyPrefix is the fixed product prefix of every distributable key string.
const KeyPrefix = "FATHOM"

// keySegmentWidth is the group width of the encoded payload in a key string.
const keySegmentWidth = 5

// keyEncoding is the transcription-safe alphabet (A-Z, 2-7; no 0/1/8/9
// look-alikes) with padding stripped.
var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Canonicalize produces the deterministic byte encoding of a license used
// for signing and verification. Field order is fixed, module/feature sets
// are sorted, timestamps are normalized to UTC seconds, and the signature
// field is cleared so signer and verifier hash identical input.
func Canonicalize(l *License) ([]byte, error) {
	c := canonicalCopy(l)
	c.Signature = ""
	return json.Marshal(c)
}

// canonicalCopy returns a normalized deep copy: sorted sets, UTC times.
func canonicalCopy(l *License) *License {
	c := *l

	c.Modules = append([]string(nil), l.Modules...)
	sort.Strings(c.Modules)
	c.Features = append([]string(nil), l.Features...)
	sort.Strings(c.Features)

	c.Terms.IssuedAt = l.Terms.IssuedAt.UTC().Truncate(time.Second)
	c.Terms.ExpiresAt = l.Terms.ExpiresAt.UTC().Truncate(time.Second)

	if l.Binding != nil {
		b := *l.Binding
		b.Fingerprints = append([]string(nil), l.Binding.Fingerprints...)
		c.Binding = &b
	}

	return &c
}

// ToKeyString encodes a signed license as a compact, manually transcribable
// key string: FATHOM-{EDITION}-{SEG}...-{CHECKSUM}. The signature is part
// of the payload here, since the string is the distribution artifact.
func ToKeyString(l *License) (string, error) {
	if l.Signature == "" {
		return "", fmt.Errorf("license %s is unsigned", l.ID)
	}

	payload, err := json.Marshal(canonicalCopy(l))
	if err != nil {
		return "", fmt.Errorf("encode license: %w", err)
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("init compressor: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return "", fmt.Errorf("compress license: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("compress license: %w", err)
	}

	encoded := keyEncoding.EncodeToString(compressed.Bytes())

	var segments []string
	for i := 0; i < len(encoded); i += keySegmentWidth {
		end := i + keySegmentWidth
		if end > len(encoded) {
			end = len(encoded)
		}
		segments = append(segments, encoded[i:end])
	}

	edition := normalizeEdition(l.Product.Edition)
	checksum := fmt.Sprintf("%08X", crc32.ChecksumIEEE([]byte(encoded)))

	return KeyPrefix + "-" + edition + "-" + strings.Join(segments, "-") + "-" + checksum, nil
}

// FromKeyString reverses ToKeyString. The checksum is verified before any
// decompression is attempted, so a transcription typo fails fast with
// ErrKeyFormat instead of a cryptic inflate error.
func FromKeyString(key string) (*License, error) {
	normalized := strings.ToUpper(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, " ", "")

	parts := strings.Split(normalized, "-")
	// Prefix, edition, at least one payload segment, checksum.
	if len(parts) < 4 || parts[0] != KeyPrefix {
		return nil, fmt.Errorf("%w: expected %s-EDITION-...-CHECKSUM", ErrKeyFormat, KeyPrefix)
	}

	edition := parts[1]
	checksum := parts[len(parts)-1]
	encoded := strings.Join(parts[2:len(parts)-1], "")

	if len(checksum) != 8 {
		return nil, fmt.Errorf("%w: checksum segment must be 8 characters", ErrKeyFormat)
	}
	expected := fmt.Sprintf("%08X", crc32.ChecksumIEEE([]byte(encoded)))
	if checksum != expected {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrKeyFormat)
	}

	compressed, err := keyEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	fr := flate.NewReader(bytes.NewReader(compressed))
	payload, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrKeyFormat, err)
	}
	if err := fr.Close(); err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrKeyFormat, err)
	}

	var l License
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrKeyFormat, err)
	}

	if normalizeEdition(l.Product.Edition) != edition {
		return nil, fmt.Errorf("%w: edition segment %q does not match license", ErrKeyFormat, edition)
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	return &l, nil
}

// normalizeEdition reduces an edition name to a single uppercase
// alphanumeric key segment.
func normalizeEdition(edition string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(edition) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
