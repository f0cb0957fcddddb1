package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/handler"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/middleware"
	"github.com/mediatech/mediatech-auth/internal/repository"
	"github.com/mediatech/mediatech-auth/internal/router"
	"github.com/mediatech/mediatech-auth/internal/service"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting Mediatech auth server")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			AttachStacktrace: true,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Sentry")
		}
		log.Info().Str("environment", cfg.Sentry.Environment).Msg("Sentry initialized")
	}

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	principalRepo := repository.NewPrincipalRepository(db)
	attemptRepo := repository.NewLoginAttemptRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db, cfg.Risk.HighValueThreshold, cfg.Risk.RapidActivityThreshold)

	// Security telemetry
	var hub *sentry.Hub
	if cfg.Sentry.DSN != "" {
		hub = sentry.CurrentHub().Clone()
	}
	dispatcher := telemetry.NewDispatcher(telemetry.Config{
		QueueSize:       cfg.Telemetry.QueueSize,
		MaxRetryBackoff: cfg.Telemetry.MaxRetryBackoff,
	}, telemetry.NewStoreSink(eventRepo), telemetry.NewAlertSink(rdb, cfg.Telemetry.AlertChannel, hub), log)
	audit := telemetry.NewRecorder(dispatcher, log)

	// Token service
	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	// Initialize services
	hasher := auth.NewHasher(cfg.Security.Password.BcryptCost)
	gate := service.NewCredentialGate(principalRepo, attemptRepo, hasher, audit, cfg.Security.Lockout, log)
	ledger := service.NewRefreshLedger(refreshRepo, tokenSvc.RefreshTokenTTL(), cfg.Retention.BatchSize, log)
	blacklist := service.NewBlacklist(blacklistRepo, rdb, cfg.Retention.BatchSize, log)
	sessionSvc := service.NewSessionService(gate, principalRepo, tokenSvc, ledger, blacklist, audit, rdb, log)
	accountSvc := service.NewAccountService(gate, principalRepo, tokenSvc, ledger, blacklist, audit, log)
	riskSvc := service.NewRiskService(principalRepo, eventRepo, invoiceRepo, cfg.Risk.Window, log)

	retention := service.NewRetentionService(cfg.Retention, attemptRepo, eventRepo, ledger, blacklist, log)
	retention.Start(context.Background())
	log.Info().Dur("interval", cfg.Retention.Interval).Msg("retention scheduler started")

	// Initialize handlers
	h := handler.New(sessionSvc, accountSvc, riskSvc, audit, []handler.Dependency{
		{Name: "postgres", Pinger: db},
		{Name: "redis", Pinger: rdb},
	}, log)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg, audit)

	// Set up router
	r := router.New(h, mw, sessionSvc, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	retention.Stop()

	dispatcher.Close()
	stats := dispatcher.Stats()
	log.Info().
		Uint64("delivered", stats.Delivered).
		Uint64("retried", stats.Retried).
		Uint64("failed", stats.Failed).
		Msg("security events drained")

	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close Redis")
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}

	sentry.Flush(2 * time.Second)

	log.Info().Msg("server stopped")
}
