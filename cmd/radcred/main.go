package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	postgresadapter "github.com/ericfisherdev/radcred/internal/adapter/driven/postgres"
	provideradapter "github.com/ericfisherdev/radcred/internal/adapter/driven/provider"
	"github.com/ericfisherdev/radcred/internal/adapter/driven/redislock"
	sqliteadapter "github.com/ericfisherdev/radcred/internal/adapter/driven/sqlite"
	vaultadapter "github.com/ericfisherdev/radcred/internal/adapter/driven/vault"
	httphandler "github.com/ericfisherdev/radcred/internal/adapter/driving/http"
	"github.com/ericfisherdev/radcred/internal/application"
	"github.com/ericfisherdev/radcred/internal/config"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
	"github.com/ericfisherdev/radcred/internal/secret"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DBDriver,
		"key_source", cfg.KeySource,
		"provider_url", cfg.ProviderURL,
		"timezone", cfg.Location.String(),
		"distributed_lock", cfg.HasRedis(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Load the encryption key and prove the cipher works before touching data.
	cipher, err := newCipher(ctx, cfg)
	if err != nil {
		return err
	}
	if err := cipher.SelfTest(); err != nil {
		return fmt.Errorf("cipher self-test: %w", err)
	}
	slog.Info("cipher ready", "key_source", cfg.KeySource)

	gen := secret.Generator{Style: secret.Style(cfg.SecretStyle), Length: cfg.SecretLength}

	// 4. Open the credential store and run migrations.
	store, trail, closeStore, err := openStores(ctx, cfg, cipher, gen)
	if err != nil {
		return err
	}
	defer closeStore()

	// 5. Wire the provider client and the lock.
	providerClient, err := provideradapter.NewClient(cfg.ProviderURL, cfg.ProviderToken, cfg.ProviderTimeout)
	if err != nil {
		return err
	}

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 6. Create services.
	credentialSvc := application.NewCredentialService(
		store,
		application.NewAuditRecorder(trail),
		application.NewProvisioningGateway(providerClient),
		application.NewSessionReconciler(providerClient, cfg.Location),
		cipher,
		gen,
		locker,
		cfg.UsernamePrefix,
	)
	healthSvc := application.NewHealthService(cipher, store)

	// 7. Start the provisioning retry sweep.
	retrySvc := application.NewRetryService(store, credentialSvc, application.RetryPolicy{
		Interval:    cfg.RetryInterval,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})
	var sweeps sync.WaitGroup
	sweeps.Go(func() { retrySvc.Start(ctx) })

	// 8. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(credentialSvc, healthSvc, cfg.APIToken, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2*cfg.ProviderTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("radcred started",
		"listen_addr", cfg.ListenAddr,
		"retry_interval", cfg.RetryInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown; in-flight provider calls get one timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// Start returns once an in-flight sweep is done; the stores close after.
	sweeps.Wait()

	slog.Info("shutdown complete")
	return nil
}

func newCipher(ctx context.Context, cfg *config.Config) (*secret.Cipher, error) {
	var source driven.KeySource
	switch cfg.KeySource {
	case config.KeySourceVault:
		ks, err := vaultadapter.NewKeySource(cfg.VaultAddr, cfg.VaultToken, cfg.VaultKeyPath, cfg.VaultKeyField)
		if err != nil {
			return nil, err
		}
		source = ks
	default:
		source = secret.StaticKey(cfg.EncryptionKey)
	}

	key, err := source.EncryptionKey(ctx)
	if err != nil {
		return nil, err
	}
	return secret.NewCipher(key)
}

func openStores(ctx context.Context, cfg *config.Config, cipher *secret.Cipher, gen secret.Generator) (driven.CredentialStore, driven.AuditTrail, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgresadapter.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				if closeErr := sqlDB.Close(); closeErr != nil {
					slog.Error("error closing database", "error", closeErr)
				}
			}
		}
		if err := postgresadapter.Migrate(ctx, db); err != nil {
			closeDB()
			return nil, nil, nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver)
		return postgresadapter.NewCredentialRepo(db, cipher, gen), postgresadapter.NewAuditRepo(db), closeDB, nil

	default:
		// Dual reader/writer with WAL mode.
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}
		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			closeDB()
			return nil, nil, nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver, "path", cfg.DBPath)
		return sqliteadapter.NewCredentialRepo(db, cipher, gen), sqliteadapter.NewAuditRepo(db), closeDB, nil
	}
}

func newLocker(ctx context.Context, cfg *config.Config) (driven.Locker, func(), error) {
	if !cfg.HasRedis() {
		slog.Warn("no RADCRED_REDIS_ADDR configured, using in-process locks; run a single instance only")
		return application.NewKeyedMutex(), func() {}, nil
	}

	l, err := redislock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("distributed lock ready", "redis_addr", cfg.RedisAddr)
	return l, func() {
		if err := l.Close(); err != nil {
			slog.Error("error closing redis", "error", err)
		}
	}, nil
}
