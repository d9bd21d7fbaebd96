package license

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
)

// Verify recomputes the canonical bytes with the signature cleared and
// checks the stored signature against them. Any mutation to any signed
// field, or to the signature itself, makes this return false.
//
// Verification is a client-boundary operation; the public key is compiled
// into the client and cannot be altered at runtime.
func Verify(l *License, pub *ecdsa.PublicKey) bool {
	if l == nil || pub == nil || l.Signature == "" {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(l.Signature)
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(l)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonical)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
