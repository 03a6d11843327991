// Package main is the entrypoint for the VoxGate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/api/handler"
	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/billing"
	"github.com/voxgate/voxgate/internal/cache"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/files"
	"github.com/voxgate/voxgate/internal/jobs"
	"github.com/voxgate/voxgate/internal/speech"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "speech_provider", cfg.Speech.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create the speech provider stack
	provider, err := speech.NewProvider(cfg.Speech)
	if err != nil {
		return fmt.Errorf("create speech provider: %w", err)
	}
	slog.Info("speech provider initialized", "provider", provider.Name())

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)
	fileClient := files.NewHTTPClient(cfg.Files)
	ledger := billing.NewLedger(pgStore, cfg.Billing)
	usage := billing.NewUsageRecorder(pgStore)

	// 7. Start the job scheduler and the stale-job sweeper
	deps := &jobs.Deps{
		Store:    pgStore,
		Cache:    redisCache,
		Usage:    usage,
		Ledger:   ledger,
		Files:    fileClient,
		Provider: provider,
		Jobs:     cfg.Jobs,
		Billing:  cfg.Billing,
	}
	scheduler := jobs.NewScheduler(deps)
	scheduler.Register(jobs.NewSTTProcessor(deps))
	scheduler.Register(jobs.NewDiarizeProcessor(deps))
	scheduler.Register(jobs.NewTTSProcessor(deps))
	scheduler.Register(jobs.NewSummarizeProcessor(deps))
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	sweeper := jobs.NewSweeper(pgStore, cfg.Jobs)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	// 8. Build router with dependencies
	jobHandlers := handler.NewJobs(pgStore, redisCache)
	balanceHandlers := handler.NewBalance(ledger)
	keyHandlers := handler.NewKeys(pgStore)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),
		Metering:  mw.NewMetering(pgStore, ledger),

		HealthHandler: handler.NewHealth(pgStore, redisCache),

		SubmitSTT:       jobHandlers.Submit(models.JobTypeSTT),
		SubmitDiarize:   jobHandlers.Submit(models.JobTypeSTTDiarize),
		SubmitTTS:       jobHandlers.Submit(models.JobTypeTTS),
		SubmitSummarize: jobHandlers.Submit(models.JobTypeSummarize),
		PollJobHandler:  jobHandlers.Poll,

		BalanceHandler: balanceHandlers.Get,

		AdminSetBalance:  balanceHandlers.AdminSet,
		CreateKeyHandler: keyHandlers.Create,
		ListKeysHandler:  keyHandlers.List,
		RevokeKeyHandler: keyHandlers.Revoke,
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	sweeper.Stop()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
