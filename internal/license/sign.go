package license

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Sign computes the vendor signature over the canonical license bytes and
// stores it on the license. The public key identifier is assigned first so
// it is covered by the signature like every other field.
//
// Signing is a vendor-boundary operation: it runs only in the offline
// signing tool, never in client code paths.
func Sign(l *License, priv *ecdsa.PrivateKey) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("refusing to sign invalid license: %w", err)
	}

	l.PublicKeyID = PublicKeyID(&priv.PublicKey)

	canonical, err := Canonicalize(l)
	if err != nil {
		return fmt.Errorf("canonicalize license %s: %w", l.ID, err)
	}

	digest := sha256.Sum256(canonical)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return fmt.Errorf("sign license %s: %w", l.ID, err)
	}

	l.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}
