// Command license-server runs the FathomOS license validation server: the
// public revocation/time/heartbeat surface polled by offline-first clients,
// and the API-key-guarded admin surface for revoking licenses and managing
// the IP block list.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/belalkandil0/FathomOS-sub015/internal/config"
	"github.com/belalkandil0/FathomOS-sub015/internal/infrastructure"
	"github.com/belalkandil0/FathomOS-sub015/internal/license"
	"github.com/belalkandil0/FathomOS-sub015/internal/security"
	transport "github.com/belalkandil0/FathomOS-sub015/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "license-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	publicKey, err := loadPublicKey()
	if err != nil {
		return err
	}

	db, err := security.OpenStore(cfg.Paths.DatabaseFile)
	if err != nil {
		return fmt.Errorf("open security store: %w", err)
	}

	audit := security.NewAuditLog(db, logger)
	limiter := security.NewRateLimiter(db, audit, logger)
	blocks := security.NewIPBlockService(db, audit, limiter, cfg.Security.Blocking.CacheStaleness, logger)
	registry := security.NewRevocationRegistry(db, audit, logger)

	router := transport.NewRouter(cfg, transport.RouterDeps{
		License: transport.NewLicenseHandler(publicKey, registry, audit, logger),
		Admin:   transport.NewAdminHandler(registry, blocks, logger),
		Blocks:  blocks,
		Limiter: limiter,
		Metrics: providers.PrometheusHTTP,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "license server listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("public_key_id", license.PublicKeyID(publicKey)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Security.Blocking.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := blocks.CleanupExpired(gctx); err != nil {
					logger.ErrorContext(gctx, "security maintenance failed",
						slog.String("error", err.Error()),
					)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		audit.Close()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// loadPublicKey resolves the vendor public key: FATHOM_PUBLIC_KEY carries a
// PEM directly, FATHOM_PUBLIC_KEY_FILE points to one, and the key embedded
// at build time is the fallback.
func loadPublicKey() (*ecdsa.PublicKey, error) {
	if pemData := os.Getenv("FATHOM_PUBLIC_KEY"); pemData != "" {
		key, err := license.ParsePublicKeyPEM([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("parse FATHOM_PUBLIC_KEY: %w", err)
		}
		return key, nil
	}
	if path := os.Getenv("FATHOM_PUBLIC_KEY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		key, err := license.ParsePublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse public key file: %w", err)
		}
		return key, nil
	}
	return license.EmbeddedPublicKey()
}
