/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the HTTP server and the schedulable jobs.
 */
package di

import (
	"database/sql"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/database"
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/modules/factors"
	"github.com/aristath/meridian/internal/modules/ledger"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/modules/ratings"
	"github.com/aristath/meridian/internal/patterns"
	"github.com/aristath/meridian/internal/pipeline"
	"github.com/aristath/meridian/internal/reliability"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/scheduler"
	"github.com/aristath/meridian/internal/telemetry"
)

/**
 * Container holds all dependencies for the application.
 *
 * This is the single source of truth for all service instances.
 * The container is created by Wire() and passed to the server for access to services.
 *
 * Architecture:
 * - Databases: 5-database architecture (packs, portfolio, derived, ops, history)
 * - Clients: Guarded provider integrations (prices, FX, macro, sentiment)
 * - Repositories: Data access layer (packs, portfolios, metrics, alerts, reports)
 * - Services: Business logic layer (builder, reconciler, engine, alerting, pipeline)
 * - Scheduler: Cron-driven background jobs (nightly run, syncs, maintenance, backups)
 *
 * All dependencies are injected via constructor injection.
 */
type Container struct {
	// Databases (5-database architecture)
	// The four managed stores use SQLite with WAL mode and profile-specific
	// PRAGMAs; history.db holds refreshable provider data and is opened by
	// the macro package outside the managed set.
	PacksDB     *database.DB            // Immutable pricing packs and spine stamps
	PortfolioDB *database.DB            // Portfolios, open lots, ledger account links
	DerivedDB   *database.DB            // Recomputable analytics (metrics, factors, ratings)
	OpsDB       *database.DB            // Alerts, notifications, DLQ, run and reconciliation reports
	HistoryDB   *sql.DB                 // Macro series, benchmarks, trailing closes, sentiment
	Databases   map[string]*database.DB // Managed stores by name, for backups, maintenance, and stats

	// Telemetry and events
	Metrics      *telemetry.MetricsRegistry // Prometheus registry behind /metrics
	EventBus     *events.Bus                // Event bus for pub/sub
	EventManager *events.Manager            // Event manager (wraps bus)

	// Clients - guarded provider integrations
	Guards                 []*guard.Guard           // One guard per provider, surfaced on the status endpoint
	PriceProvider          domain.PriceProvider     // Primary daily close source
	SecondaryPriceProvider domain.PriceProvider     // Per-security fallback; nil disables fallback
	FXProvider             domain.FXProvider        // Policy pair rates at the fixing window
	MacroProvider          domain.MacroProvider     // Macro series observations
	SentimentProvider      domain.SentimentProvider // Aggregated news sentiment

	// Repositories - data access layer
	PackRepo      *packs.Repository     // Pricing packs (packs.db, append-only)
	PortfolioRepo *portfolio.Repository // Portfolios and lots (portfolio.db)
	LedgerRepo    *ledger.Repository    // Reconciliation reports (ops.db)
	MetricsRepo   *metrics.Repository   // Daily values and metric rows (derived.db)
	FactorsRepo   *factors.Repository   // Portfolio factor exposures (derived.db)
	FactorsCache  *factors.Cache        // Per-pack factor vector cache (derived.db)
	RatingsRepo   *ratings.Repository   // Security ratings (derived.db)
	AlertRepo     *alerts.Repository    // Alert rules, notifications, DLQ (ops.db)
	ReportRepo    *pipeline.Repository  // Nightly run reports (ops.db)
	MacroStore    *macro.Store          // Provider data history (history.db)

	// Services - business logic layer
	Builder        *packs.Builder              // Pack construction and freshness promotion
	Gate           *packs.Gate                 // Freshness gate for analytics requests
	Reconciler     *ledger.Reconciler          // Pack-versus-book proof
	Valuer         *metrics.Valuer             // Portfolio valuation against a pack
	MetricsEngine  *metrics.Engine             // Returns, risk metrics, attribution
	FactorsService *factors.Service            // Factor exposure pre-warm
	RatingsService *ratings.Service            // Security rating pre-warm
	AlertService   *alerts.Service             // Alert rule CRUD with validation
	Notifier       *alerts.Notifier            // Delivery fan-out and DLQ capture
	AlertEvaluator *alerts.Evaluator           // Rule evaluation against the nightly pack
	Replayer       *alerts.Replayer            // DLQ replay
	MacroSync      *macro.SyncService          // Macro series refresh
	SentimentSync  *macro.SentimentSyncService // News sentiment refresh for held securities
	Runtime        *runtime.Runtime            // Capability runtime
	PatternLibrary *patterns.Library           // Shipped analysis patterns
	Estimator      *scheduler.Estimator        // Next-run estimates for gate responses
	Pipeline       *pipeline.Pipeline          // Nightly orchestrator

	// Reliability - optional, nil when no backup bucket is configured
	S3Client      *reliability.S3Client      // S3-compatible object store client
	BackupService *reliability.BackupService // Archive, upload, prune

	// Scheduler - cron-driven jobs, started by cmd/server
	Scheduler *scheduler.Scheduler
}

// Close releases every store the container holds. Safe on a partially
// initialized container.
func (c *Container) Close() {
	for _, db := range c.Databases {
		db.Close()
	}
	if c.HistoryDB != nil {
		c.HistoryDB.Close()
	}
}
