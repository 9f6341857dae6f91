// Package main is the entry point for the Meridian portfolio analytics
// platform. Meridian builds an immutable pricing pack every night, reconciles
// it against the transaction ledger, pre-warms metrics, factor exposures and
// security ratings from it, and serves read-only analytics pinned to that
// pack during the day.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/di"
	"github.com/aristath/meridian/internal/server"
	"github.com/aristath/meridian/pkg/logger"
)

// main orchestrates the system startup sequence:
// 1. Loads configuration from environment variables (.env file supported)
// 2. Initializes the structured logger
// 3. Wires all dependencies via the DI container (databases, repositories,
//    services, scheduler jobs)
// 4. Starts the HTTP server for API endpoints
// 5. Starts the cron scheduler for the nightly pipeline and support jobs
// 6. Waits for a shutdown signal and shuts down gracefully
//
// The application uses a 5-database architecture:
// - packs.db: Immutable pricing packs (prices, FX rates, security master)
// - portfolio.db: Portfolio truth (portfolios, lots, transactions, cash)
// - derived.db: Analytics derived from packs (values, metrics, attribution,
//   factor exposures, ratings, calculation cache)
// - ops.db: Operational state (alerts, notifications, DLQ, run reports)
// - history.db: Historical time series (macro series, benchmarks, sentiment)
func main() {
	// Load configuration first to get log level.
	// Configuration comes from environment variables, with .env support for
	// development setups.
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger with config level. Pretty mode gives human-readable
	// console output; the data directory also receives a JSON log file so
	// nightly runs leave a trail on disk.
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Dir:    cfg.DataDir,
	})

	log.Info().
		Str("policy", cfg.PricingPolicy).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting Meridian")

	// Wire all dependencies using the DI container:
	// - Databases are initialized first (5-database architecture)
	// - Repositories are created with database connections
	// - Services are created with repository dependencies
	// - Scheduler jobs are registered last since they drive the services
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Initialize HTTP server. The server owns the freshness gate endpoints,
	// pattern execution, alerts, event streams, and system monitoring; every
	// handler reads through the container's services.
	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	// Start server in goroutine so the scheduler can start concurrently.
	// ErrServerClosed is the normal return during graceful shutdown.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Start the cron scheduler. The roster covers the nightly pipeline, the
	// provider syncs that precede it, hourly DLQ replay, database
	// maintenance, and cloud backups when configured.
	container.Scheduler.Start()
	log.Info().Msg("Scheduler started")

	// Wait for interrupt signal. The application blocks here until it
	// receives SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no new pipeline run starts while the
	// server drains. In-flight jobs finish on their own timeouts.
	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	// Graceful shutdown. The HTTP server gets up to 10 seconds to finish
	// in-flight requests before being forced down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
