// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/database"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/rs/zerolog"
)

// InitializeDatabases initializes the four managed stores, applies schemas,
// and opens the history store
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. packs.db - Immutable pricing packs (content-addressed, append-only)
	packsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/packs.db",
		Profile: database.ProfileLedger, // Maximum safety for the immutable pack store
		Name:    "packs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize packs database: %w", err)
	}
	container.PacksDB = packsDB

	// 2. portfolio.db - Portfolios, open lots, ledger account links
	portfolioDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/portfolio.db",
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		packsDB.Close()
		return nil, fmt.Errorf("failed to initialize portfolio database: %w", err)
	}
	container.PortfolioDB = portfolioDB

	// 3. derived.db - Recomputable analytics (metrics, factors, ratings)
	derivedDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/derived.db",
		Profile: database.ProfileStandard,
		Name:    "derived",
	})
	if err != nil {
		packsDB.Close()
		portfolioDB.Close()
		return nil, fmt.Errorf("failed to initialize derived database: %w", err)
	}
	container.DerivedDB = derivedDB

	// 4. ops.db - Alerts, notifications, DLQ, run and reconciliation reports
	opsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ops.db",
		Profile: database.ProfileStandard,
		Name:    "ops",
	})
	if err != nil {
		packsDB.Close()
		portfolioDB.Close()
		derivedDB.Close()
		return nil, fmt.Errorf("failed to initialize ops database: %w", err)
	}
	container.OpsDB = opsDB

	// Managed store set, keyed by name. Backups, maintenance, and the stats
	// endpoint iterate this map; history.db stays out because everything in
	// it can be refetched from the providers.
	container.Databases = map[string]*database.DB{
		"packs":     packsDB,
		"portfolio": portfolioDB,
		"derived":   derivedDB,
		"ops":       opsDB,
	}

	// Apply schemas to all managed stores (single source of truth)
	for _, db := range []*database.DB{packsDB, portfolioDB, derivedDB, opsDB} {
		if err := db.Migrate(); err != nil {
			packsDB.Close()
			portfolioDB.Close()
			derivedDB.Close()
			opsDB.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	// 5. history.db - Refreshable provider data (macro, benchmarks, closes,
	// sentiment), opened and migrated by the macro package
	historyDB, err := macro.Open(cfg.DataDir + "/history.db")
	if err != nil {
		packsDB.Close()
		portfolioDB.Close()
		derivedDB.Close()
		opsDB.Close()
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	container.HistoryDB = historyDB

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
