// Command fathom-signer is the vendor-side issuing tool. It signs license
// documents with the vendor ECDSA private key and emits both a .lic JSON
// file and the compact key string for manual transcription.
//
// The private key is supplied through FATHOM_SIGNING_KEY (PEM content) or
// FATHOM_SIGNING_KEY_FILE (path to a PEM file). It is never read from a
// config file and never embedded in a binary.
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/belalkandil0/FathomOS-sub015/internal/license"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fathom-signer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("fathom-signer", flag.ContinueOnError)

	genKey := fs.Bool("gen-key", false, "generate a new signing key pair and exit")
	outDir := fs.String("out", ".", "output directory for generated files")

	year := fs.Int("year", time.Now().Year(), "license id year")
	seq := fs.Int("seq", 0, "license id sequence number")
	clientName := fs.String("client", "", "client name")
	clientCode := fs.String("code", "", "three-letter client code")
	clientEmail := fs.String("email", "", "client email")
	productName := fs.String("product", "FathomOS", "product name")
	edition := fs.String("edition", "STD", "product edition")
	validity := fs.Duration("validity", 365*24*time.Hour, "validity period from now")
	expires := fs.String("expires", "", "expiry date (YYYY-MM-DD, overrides -validity)")
	graceDays := fs.Int("grace", 7, "grace period in days")
	modules := fs.String("modules", "", "comma-separated module ids")
	features := fs.String("features", "", "comma-separated feature ids")
	fingerprints := fs.String("fingerprints", "", "comma-separated hardware fingerprints to bind")
	minMatching := fs.Int("min-matching", 0, "minimum matching fingerprints (defaults to all but one)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *genKey {
		return generateKeyPair(*outDir)
	}

	priv, err := loadSigningKey()
	if err != nil {
		return err
	}

	if *seq <= 0 {
		return fmt.Errorf("-seq is required and must be positive")
	}
	if *clientName == "" || *clientCode == "" || *clientEmail == "" {
		return fmt.Errorf("-client, -code, and -email are required")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(*validity)
	if *expires != "" {
		expiresAt, err = time.Parse("2006-01-02", *expires)
		if err != nil {
			return fmt.Errorf("parse -expires: %w", err)
		}
	}

	l := &license.License{
		ID:      license.NewLicenseID(*year, *seq),
		Version: license.CurrentVersion,
		Client: license.Client{
			Name:  *clientName,
			Code:  strings.ToUpper(*clientCode),
			Email: *clientEmail,
		},
		Product: license.Product{
			Name:    *productName,
			Edition: strings.ToUpper(*edition),
		},
		Terms: license.Terms{
			IssuedAt:        now,
			ExpiresAt:       expiresAt,
			GracePeriodDays: *graceDays,
		},
		Modules:  splitList(*modules),
		Features: splitList(*features),
	}

	if prints := splitList(*fingerprints); len(prints) > 0 {
		min := *minMatching
		if min <= 0 {
			min = len(prints) - 1
			if min < 1 {
				min = 1
			}
		}
		l.Binding = &license.HardwareBinding{Fingerprints: prints, MinMatching: min}
	}

	if err := license.Sign(l, priv); err != nil {
		return fmt.Errorf("sign license: %w", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode license: %w", err)
	}
	licPath := filepath.Join(*outDir, l.ID+".lic")
	if err := os.WriteFile(licPath, data, 0o600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}

	keyString, err := license.ToKeyString(l)
	if err != nil {
		return fmt.Errorf("encode key string: %w", err)
	}

	fmt.Printf("license:     %s\n", licPath)
	fmt.Printf("license id:  %s\n", l.ID)
	fmt.Printf("expires:     %s\n", l.Terms.ExpiresAt.Format("2006-01-02"))
	fmt.Printf("key id:      %s\n", l.PublicKeyID)
	fmt.Printf("key string:\n%s\n", keyString)
	return nil
}

// generateKeyPair writes a fresh P-256 key pair to outDir. The private key
// file is created with owner-only permissions; distribute only the public
// half.
func generateKeyPair(outDir string) error {
	priv, err := license.GenerateSigningKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privPEM, err := license.EncodePrivateKeyPEM(priv)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	pubPEM, err := license.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	privPath := filepath.Join(outDir, "fathom-signing.pem")
	pubPath := filepath.Join(outDir, "fathom-signing.pub.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Printf("private key: %s (keep offline, never distribute)\n", privPath)
	fmt.Printf("public key:  %s\n", pubPath)
	fmt.Printf("key id:      %s\n", license.PublicKeyID(&priv.PublicKey))
	return nil
}

// loadSigningKey resolves the private key from the environment.
func loadSigningKey() (*ecdsa.PrivateKey, error) {
	if pemData := os.Getenv("FATHOM_SIGNING_KEY"); pemData != "" {
		key, err := license.ParsePrivateKeyPEM([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("parse FATHOM_SIGNING_KEY: %w", err)
		}
		return key, nil
	}
	if path := os.Getenv("FATHOM_SIGNING_KEY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read signing key file: %w", err)
		}
		key, err := license.ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse signing key file: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("no signing key: set FATHOM_SIGNING_KEY or FATHOM_SIGNING_KEY_FILE")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
