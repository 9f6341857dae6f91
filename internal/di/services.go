// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/meridian/internal/agents"
	"github.com/aristath/meridian/internal/clients/alphavantage"
	"github.com/aristath/meridian/internal/clients/exchangerate"
	"github.com/aristath/meridian/internal/clients/fred"
	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/clients/polygon"
	"github.com/aristath/meridian/internal/clients/stooq"
	"github.com/aristath/meridian/internal/clients/stub"
	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/modules/factors"
	"github.com/aristath/meridian/internal/modules/ledger"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/ratings"
	"github.com/aristath/meridian/internal/patterns"
	"github.com/aristath/meridian/internal/pipeline"
	"github.com/aristath/meridian/internal/reliability"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/scheduler"
	"github.com/aristath/meridian/internal/telemetry"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services and stores them in the container
// This is the SINGLE SOURCE OF TRUTH for all service creation
// Services are created in dependency order to ensure all dependencies exist
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// ==========================================
	// STEP 1: Initialize Telemetry and Events
	// ==========================================

	container.Metrics = telemetry.NewMetricsRegistry()
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	log.Info().Msg("Telemetry registry and event bus initialized")

	// ==========================================
	// STEP 2: Initialize Provider Clients
	// ==========================================

	// Every provider call goes through a guard: token bucket, circuit
	// breaker, bounded retries. Guards register on the container so the
	// status endpoint can report breaker state per provider.
	newGuard := func(name string, perMinute, retries int) *guard.Guard {
		g := guard.New(guard.Config{
			Name:              name,
			RequestsPerWindow: perMinute,
			WindowSeconds:     60,
			MaxRetries:        retries,
		}, container.Metrics, log)
		container.Guards = append(container.Guards, g)
		return g
	}

	// Daily close prices. Polygon is primary when a key is configured, with
	// Stooq as the per-security fallback. Without a key, dev mode uses the
	// deterministic stub; production promotes Stooq to primary.
	switch {
	case cfg.PolygonAPIKey != "":
		container.PriceProvider = polygon.NewClient(cfg.PolygonAPIKey, newGuard("polygon", 5, 3), log)
		container.SecondaryPriceProvider = stooq.NewClient(newGuard("stooq", 60, 2), log)
		log.Info().Msg("Polygon price client initialized with Stooq fallback")
	case cfg.DevMode:
		container.PriceProvider = stub.NewPriceProvider()
		log.Info().Msg("Stub price provider initialized (dev mode, no Polygon key)")
	default:
		container.PriceProvider = stooq.NewClient(newGuard("stooq", 60, 2), log)
		log.Warn().Msg("No Polygon key configured, Stooq promoted to primary without fallback")
	}

	// FX rates. Any FX failure aborts a pack build, so dev mode pins FX to
	// the stub and keeps nightly builds runnable offline.
	if cfg.DevMode {
		container.FXProvider = stub.NewFXProvider()
		log.Info().Msg("Stub FX provider initialized (dev mode)")
	} else {
		container.FXProvider = exchangerate.NewClient(newGuard("exchangerate-api", 10, 3), log)
		log.Info().Msg("ExchangeRate FX client initialized")
	}

	// Macro series observations. The sync job is non-blocking, so a missing
	// key outside dev mode degrades to nightly warnings rather than a
	// wiring failure.
	switch {
	case cfg.FREDAPIKey != "":
		container.MacroProvider = fred.NewClient(cfg.FREDAPIKey, newGuard("fred", 60, 3), log)
		log.Info().Msg("FRED macro client initialized")
	case cfg.DevMode:
		container.MacroProvider = stub.NewMacroProvider()
		log.Info().Msg("Stub macro provider initialized (dev mode, no FRED key)")
	default:
		container.MacroProvider = fred.NewClient("", newGuard("fred", 60, 3), log)
		log.Warn().Msg("No FRED key configured, macro sync will fail until one is set")
	}

	// News sentiment, same degradation rules as macro.
	switch {
	case cfg.AlphaVantageAPIKey != "":
		container.SentimentProvider = alphavantage.NewClient(cfg.AlphaVantageAPIKey, newGuard("alphavantage", 5, 2), log)
		log.Info().Msg("Alpha Vantage sentiment client initialized")
	case cfg.DevMode:
		container.SentimentProvider = stub.NewSentimentProvider()
		log.Info().Msg("Stub sentiment provider initialized (dev mode, no Alpha Vantage key)")
	default:
		container.SentimentProvider = alphavantage.NewClient("", newGuard("alphavantage", 5, 2), log)
		log.Warn().Msg("No Alpha Vantage key configured, sentiment sync will fail until one is set")
	}

	// ==========================================
	// STEP 3: Initialize Pack Building
	// ==========================================

	pairs := make([]packs.Pair, 0, len(cfg.FXPairs))
	for _, p := range cfg.FXPairs {
		parts := strings.Split(p, "/")
		if len(parts) != 2 {
			return fmt.Errorf("invalid FX pair %q (expected BASE/QUOTE)", p)
		}
		pairs = append(pairs, packs.Pair{Base: parts[0], Quote: parts[1]})
	}

	container.Builder = packs.NewBuilder(
		container.PackRepo,
		container.PriceProvider,
		container.SecondaryPriceProvider,
		container.FXProvider,
		pairs,
		container.EventManager,
		log,
	)

	// ==========================================
	// STEP 4: Initialize Reconciliation and Analytics
	// ==========================================

	container.Reconciler = ledger.NewReconciler(
		container.PackRepo,
		container.PortfolioRepo,
		container.LedgerRepo,
		container.EventManager,
		log,
	)

	container.Valuer = metrics.NewValuer(container.PackRepo, container.PortfolioRepo, container.MetricsRepo, log)
	container.MetricsEngine = metrics.NewEngine(
		container.PackRepo,
		container.PortfolioRepo,
		container.MacroStore,
		container.MetricsRepo,
		container.Valuer,
		cfg.RiskFreeSeries,
		container.EventManager,
		log,
	)

	container.FactorsService = factors.NewService(
		container.PackRepo,
		container.PortfolioRepo,
		container.MacroStore,
		container.FactorsRepo,
		container.FactorsCache,
		log,
	)

	container.RatingsService = ratings.NewService(container.PackRepo, container.MacroStore, container.RatingsRepo, log)

	// ==========================================
	// STEP 5: Initialize Alerting
	// ==========================================

	validator := alerts.NewValidator(container.PortfolioRepo, container.PackRepo, cfg.MacroSeries)
	container.AlertService = alerts.NewService(container.AlertRepo, validator, log)

	// A nil mailer disables the email channel; in-app delivery always works.
	var mailer alerts.Mailer
	if cfg.SMTP.Enabled() {
		mailer = alerts.NewSMTPMailer(cfg.SMTP)
		log.Info().Str("host", cfg.SMTP.Host).Msg("SMTP mailer initialized")
	} else {
		log.Info().Msg("Email delivery not configured, alerts use in-app notifications only")
	}
	container.Notifier = alerts.NewNotifier(container.AlertRepo, mailer, container.EventManager, container.Metrics, log)

	container.AlertEvaluator = alerts.NewEvaluator(
		container.AlertRepo,
		container.Notifier,
		container.PackRepo,
		container.MetricsRepo,
		container.RatingsRepo,
		container.MacroStore,
		container.EventManager,
		container.Metrics,
		log,
	)

	container.Replayer = alerts.NewReplayer(container.AlertRepo, container.Notifier, container.EventManager, container.Metrics, log)

	// ==========================================
	// STEP 6: Initialize Sync Services
	// ==========================================

	container.MacroSync = macro.NewSyncService(
		container.MacroStore,
		container.MacroProvider,
		cfg.MacroSeries,
		container.EventManager,
		log,
	)

	container.SentimentSync = macro.NewSentimentSyncService(
		container.MacroStore,
		container.SentimentProvider,
		container.PortfolioRepo,
		log,
	)

	// ==========================================
	// STEP 7: Initialize Capability Runtime and Patterns
	// ==========================================

	container.Runtime = runtime.New(container.Metrics, log)
	if err := container.Runtime.Register(
		agents.NewPacksAgent(container.PackRepo, log),
		agents.NewPortfolioAgent(container.PortfolioRepo, container.PackRepo, container.MetricsRepo, log),
		agents.NewMetricsAgent(container.MetricsRepo, container.PortfolioRepo, container.PackRepo, log),
		agents.NewRatingsAgent(container.RatingsRepo, container.PackRepo, log),
		agents.NewMacroAgent(container.MacroStore, container.Runtime, cfg.RiskFreeSeries, cfg.MacroSeries, log),
	); err != nil {
		return fmt.Errorf("failed to register capability agents: %w", err)
	}

	container.PatternLibrary = patterns.NewLibrary(container.Runtime, log)
	if err := container.PatternLibrary.LoadShipped(); err != nil {
		return fmt.Errorf("failed to load shipped patterns: %w", err)
	}

	// ==========================================
	// STEP 8: Initialize Freshness Gate and Pipeline
	// ==========================================

	estimator, err := scheduler.NewEstimator(cfg.NightlySchedule, container.ReportRepo, log)
	if err != nil {
		return fmt.Errorf("failed to build run estimator: %w", err)
	}
	container.Estimator = estimator
	container.Gate = packs.NewGate(container.PackRepo, estimator, cfg.DevMode, container.Metrics, log)

	container.Pipeline = pipeline.New(
		container.Builder,
		container.Reconciler,
		container.MetricsEngine,
		container.FactorsService,
		container.RatingsService,
		container.AlertEvaluator,
		container.PackRepo,
		container.ReportRepo,
		container.EventManager,
		container.Metrics,
		cfg.LedgerPath,
		log,
	)

	// ==========================================
	// STEP 9: Initialize Cloud Backups
	// ==========================================

	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		container.S3Client = s3Client
		container.BackupService = reliability.NewBackupService(
			container.Databases,
			s3Client,
			cfg.DataDir,
			cfg.Backup.RetentionDays,
			container.EventManager,
			log,
		)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Cloud backup service initialized")
	} else {
		log.Info().Msg("Cloud backups not configured")
	}

	log.Info().Msg("All services initialized")

	return nil
}
