package license

import "errors"

// Typed failure modes surfaced by the licensing core. Cryptographic and
// parse failures are returned to callers directly; network failures are
// absorbed by the validator and degrade to last-known state.
var (
	// ErrNotActivated indicates no license has been stored locally.
	ErrNotActivated = errors.New("license not activated")

	// ErrKeyFormat indicates a transcribed key failed its checksum or has a
	// malformed structure. Checked before decompression so a typo fails fast.
	ErrKeyFormat = errors.New("license key format invalid")

	// ErrSignatureInvalid indicates tampering or a mismatched public key.
	ErrSignatureInvalid = errors.New("license signature invalid")

	// ErrCorrupted indicates the stored license could not be decrypted or
	// parsed, and the backup slot did not recover it.
	ErrCorrupted = errors.New("stored license corrupted")

	// ErrHardwareMismatch indicates too few bound fingerprints matched.
	ErrHardwareMismatch = errors.New("hardware binding mismatch")

	// ErrExpired indicates the license is past its expiry plus grace period.
	ErrExpired = errors.New("license expired")

	// ErrRevoked indicates the server confirmed revocation.
	ErrRevoked = errors.New("license revoked")

	// ErrNetworkUnavailable indicates the license server could not be
	// reached. Never fatal; the validator retains its last computed state.
	ErrNetworkUnavailable = errors.New("license server unreachable")
)
