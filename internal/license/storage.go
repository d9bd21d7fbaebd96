package license

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// appSalt is the fixed application component of the key derivation input.
// The effective key is additionally bound to the local user and host, so a
// copied license file does not decrypt elsewhere.
const appSalt = "FathomOS-License-Envelope-V1"

// storedEnvelope is the encrypted on-disk format of the persisted license.
type storedEnvelope struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Storage encrypts, persists, backs up, and reloads the local license.
// The license file on disk is owned exclusively by this component.
type Storage struct {
	path       string
	backupPath string
	scope      []byte
	logger     *slog.Logger

	// scrypt cost parameters; lowered only in tests.
	scryptN, scryptR, scryptP int
}

// NewStorage creates a storage instance writing to path, with the backup
// slot at path + ".bak".
func NewStorage(path string, logger *slog.Logger) *Storage {
	return &Storage{
		path:       path,
		backupPath: path + ".bak",
		scope:      storageScope(),
		logger:     logger.With(slog.String("component", "license_storage")),
		scryptN:    32768,
		scryptR:    8,
		scryptP:    1,
	}
}

// storageScope derives the user/host binding mixed into key derivation.
func storageScope() []byte {
	home, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	return []byte(appSalt + "|" + home + "|" + hostname)
}

// Store encrypts the license and writes it atomically, rotating any
// previous copy into the backup slot first.
func (s *Storage) Store(ctx context.Context, l *License) error {
	payload, err := json.Marshal(canonicalCopy(l))
	if err != nil {
		return fmt.Errorf("encode license: %w", err)
	}

	envelope, err := s.seal(payload)
	if err != nil {
		return fmt.Errorf("encrypt license: %w", err)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}

	// Rotate the previous copy before the new write completes, so a crash
	// mid-write still leaves one decryptable license on disk.
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath); err != nil {
			return fmt.Errorf("rotate license backup: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit license file: %w", err)
	}

	s.logger.InfoContext(ctx, "license stored",
		slog.String("license_id", l.ID),
		slog.String("path", s.path),
	)
	return nil
}

// Load decrypts and parses the persisted license. On failure it falls back
// to the backup slot once before reporting ErrCorrupted. A missing file in
// both slots reports ErrNotActivated.
func (s *Storage) Load(ctx context.Context) (*License, error) {
	l, primaryErr := s.loadFrom(s.path)
	if primaryErr == nil {
		return l, nil
	}

	l, backupErr := s.loadFrom(s.backupPath)
	if backupErr == nil {
		s.logger.WarnContext(ctx, "license recovered from backup slot",
			slog.String("primary_error", primaryErr.Error()),
		)
		return l, nil
	}

	if errors.Is(primaryErr, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
		return nil, ErrNotActivated
	}

	s.logger.ErrorContext(ctx, "license storage corrupted",
		slog.String("primary_error", primaryErr.Error()),
		slog.String("backup_error", backupErr.Error()),
	)
	return nil, fmt.Errorf("%w: %v", ErrCorrupted, primaryErr)
}

func (s *Storage) loadFrom(path string) (*License, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var envelope storedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	payload, err := s.open(&envelope)
	if err != nil {
		return nil, err
	}

	var l License
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("parse license: %w", err)
	}
	return &l, nil
}

// Delete removes both storage slots. Called on confirmed revocation so the
// revoked license cannot be reused.
func (s *Storage) Delete(ctx context.Context) error {
	var errs []error
	for _, path := range []string{s.path, s.backupPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete license files: %v", errs)
	}
	s.logger.InfoContext(ctx, "stored license deleted", slog.String("path", s.path))
	return nil
}

func (s *Storage) seal(plaintext []byte) (*storedEnvelope, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key(s.scope, salt, s.scryptN, s.scryptR, s.scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &storedEnvelope{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func (s *Storage) open(envelope *storedEnvelope) ([]byte, error) {
	if envelope.Version != 1 {
		return nil, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}

	key, err := scrypt.Key(s.scope, envelope.Salt, s.scryptN, s.scryptR, s.scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, envelope.Nonce, envelope.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
