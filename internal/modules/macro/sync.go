package macro

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/utils"
)

// defaultLookbackDays bounds each sync window. Macro series revise old
// points occasionally, so the window re-fetches a trailing quarter.
const defaultLookbackDays = 90

// SyncService refreshes configured macro series from the provider ahead of
// the nightly run. It is a warmer: failures log and surface to the caller
// but never block the pipeline.
type SyncService struct {
	store        *Store
	provider     domain.MacroProvider
	series       []string
	lookbackDays int
	bus          *events.Manager
	log          zerolog.Logger
}

// NewSyncService creates a macro sync service for the given series names.
func NewSyncService(
	store *Store,
	provider domain.MacroProvider,
	series []string,
	bus *events.Manager,
	log zerolog.Logger,
) *SyncService {
	return &SyncService{
		store:        store,
		provider:     provider,
		series:       series,
		lookbackDays: defaultLookbackDays,
		bus:          bus,
		log:          log.With().Str("service", "macro_sync").Logger(),
	}
}

// Sync fetches every configured series over the lookback window and upserts
// the observations. A series that fails is skipped; the error return is
// non-nil only when every series failed.
func (s *SyncService) Sync(ctx context.Context) error {
	defer utils.OperationTimer("macro_sync", s.log)()

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -s.lookbackDays).Format(utils.DateLayout)
	end := utils.Today()

	synced := 0
	total := 0
	var lastErr error

	for _, name := range s.series {
		observations, err := s.provider.Series(ctx, name, start, end)
		if err != nil {
			s.log.Warn().Err(err).Str("series", name).Msg("Macro series fetch failed")
			lastErr = err
			continue
		}
		if err := s.store.UpsertSeries(name, observations); err != nil {
			s.log.Error().Err(err).Str("series", name).Msg("Macro series write failed")
			lastErr = err
			continue
		}
		synced++
		total += len(observations)
		s.log.Debug().Str("series", name).Int("observations", len(observations)).Msg("Macro series synced")
	}

	s.log.Info().
		Int("series", synced).
		Int("observations", total).
		Str("window", start+".."+end).
		Msg("Macro sync finished")

	if s.bus != nil && synced > 0 {
		s.bus.EmitTyped(events.MacroSynced, "macro", &events.MacroSyncedData{
			Series:       synced,
			Observations: total,
		})
	}

	if synced == 0 && lastErr != nil {
		return fmt.Errorf("macro sync failed for all %d series: %w", len(s.series), lastErr)
	}
	return nil
}
