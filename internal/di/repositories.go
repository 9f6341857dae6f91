// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/modules/factors"
	"github.com/aristath/meridian/internal/modules/ledger"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/modules/ratings"
	"github.com/aristath/meridian/internal/pipeline"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Pack repository (packs.db) - append-only pack rows and status stamps
	container.PackRepo = packs.NewRepository(container.PacksDB.Conn(), log)

	// Portfolio repository (portfolio.db) - portfolios, lots, account links
	container.PortfolioRepo = portfolio.NewRepository(container.PortfolioDB.Conn(), log)

	// Reconciliation reports (ops.db) - one report per pack proof
	container.LedgerRepo = ledger.NewRepository(container.OpsDB.Conn(), log)

	// Daily values and metric rows (derived.db)
	container.MetricsRepo = metrics.NewRepository(container.DerivedDB.Conn(), log)

	// Factor exposures and the per-pack factor vector cache (derived.db)
	container.FactorsRepo = factors.NewRepository(container.DerivedDB.Conn(), log)
	container.FactorsCache = factors.NewCache(container.DerivedDB.Conn(), log)

	// Security ratings (derived.db)
	container.RatingsRepo = ratings.NewRepository(container.DerivedDB.Conn(), log)

	// Alert rules, notifications, and the delivery DLQ (ops.db)
	container.AlertRepo = alerts.NewRepository(container.OpsDB.Conn(), log)

	// Nightly run reports (ops.db)
	container.ReportRepo = pipeline.NewRepository(container.OpsDB.Conn(), log)

	// Provider data history (history.db) - macro series, benchmark prices,
	// trailing closes, sentiment scores
	container.MacroStore = macro.NewStore(container.HistoryDB, log)

	log.Info().Msg("All repositories initialized")

	return nil
}
