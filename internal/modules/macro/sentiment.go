package macro

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/utils"
)

// sentimentLookbackDays bounds each sentiment sync window. News coverage
// is sparse for smaller names, so the window re-fetches two trailing weeks.
const sentimentLookbackDays = 14

// HeldSecurityLister names the securities the sentiment sync should cover.
type HeldSecurityLister interface {
	HeldSecurities() ([]string, error)
}

// SentimentSyncService refreshes news sentiment for held securities ahead
// of the nightly run. Like the macro sync, it is a warmer: a security that
// fails is skipped and the run carries on.
type SentimentSyncService struct {
	store        *Store
	provider     domain.SentimentProvider
	portfolios   HeldSecurityLister
	lookbackDays int
	log          zerolog.Logger
}

// NewSentimentSyncService creates a sentiment sync service.
func NewSentimentSyncService(
	store *Store,
	provider domain.SentimentProvider,
	portfolios HeldSecurityLister,
	log zerolog.Logger,
) *SentimentSyncService {
	return &SentimentSyncService{
		store:        store,
		provider:     provider,
		portfolios:   portfolios,
		lookbackDays: sentimentLookbackDays,
		log:          log.With().Str("service", "sentiment_sync").Logger(),
	}
}

// Sync fetches sentiment for every held security over the lookback window
// and upserts the per-day scores. The error return is non-nil only when
// every security failed.
func (s *SentimentSyncService) Sync(ctx context.Context) error {
	defer utils.OperationTimer("sentiment_sync", s.log)()

	securities, err := s.portfolios.HeldSecurities()
	if err != nil {
		return fmt.Errorf("failed to list held securities: %w", err)
	}
	if len(securities) == 0 {
		s.log.Info().Msg("No held securities, sentiment sync skipped")
		return nil
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -s.lookbackDays).Format(utils.DateLayout)
	end := utils.Today()

	synced := 0
	days := 0
	var lastErr error

	for _, securityID := range securities {
		quotes, err := s.provider.DailySentiment(ctx, securityID, start, end)
		if err != nil {
			s.log.Warn().Err(err).Str("security", securityID).Msg("Sentiment fetch failed")
			lastErr = err
			continue
		}
		wrote := 0
		for _, q := range quotes {
			if err := s.store.UpsertSentiment(SentimentScore{
				SecurityID: q.SecurityID,
				Date:       q.Date,
				Score:      q.Score,
			}); err != nil {
				s.log.Error().Err(err).Str("security", securityID).Str("date", q.Date).
					Msg("Sentiment write failed")
				lastErr = err
				continue
			}
			wrote++
		}
		synced++
		days += wrote
		s.log.Debug().Str("security", securityID).Int("days", wrote).Msg("Sentiment synced")
	}

	s.log.Info().
		Int("securities", synced).
		Int("days", days).
		Str("window", start+".."+end).
		Msg("Sentiment sync finished")

	if synced == 0 && lastErr != nil {
		return fmt.Errorf("sentiment sync failed for all %d securities: %w", len(securities), lastErr)
	}
	return nil
}
