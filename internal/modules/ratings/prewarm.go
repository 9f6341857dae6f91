package ratings

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/utils"
)

const (
	secondsPerDay = 86400
	lookbackDays  = 365

	// expectedTradingDays is the denominator of the coverage ratio. A year
	// of complete daily closes lands at or above it.
	expectedTradingDays = 252.0
)

// Service pre-warms ratings for every security priced in a pack.
type Service struct {
	packs   *packs.Repository
	history *macro.Store
	repo    *Repository
	log     zerolog.Logger
}

// NewService creates the ratings pre-warm service.
func NewService(packsRepo *packs.Repository, history *macro.Store, repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		packs:   packsRepo,
		history: history,
		repo:    repo,
		log:     log.With().Str("service", "ratings").Logger(),
	}
}

// Prewarm scores every security in the pack and persists the results.
// Returns the number of securities rated.
func (s *Service) Prewarm(ctx context.Context, packID string) (int, error) {
	pack, err := s.packs.GetByID(packID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pack %s: %w", packID, err)
	}
	if pack == nil {
		return 0, fmt.Errorf("unknown pricing pack %s", packID)
	}

	prices, err := s.packs.GetPrices(pack.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pack prices: %w", err)
	}

	to := utils.UnixToDate(pack.AsOfDate)
	from := utils.UnixToDate(pack.AsOfDate - lookbackDays*secondsPerDay)

	now := time.Now().Unix()
	rows := make([]RatingRow, 0, len(prices))
	for _, price := range prices {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		observed, err := s.history.CountDailyCloses(price.SecurityID, from, to)
		if err != nil {
			return 0, fmt.Errorf("failed to count closes for %s: %w", price.SecurityID, err)
		}
		rows = append(rows, RatingRow{
			SecurityID:    price.SecurityID,
			AsOfDate:      pack.AsOfDate,
			PricingPackID: pack.ID,
			Rating:        RatingPriceCoverage,
			Score:         math.Min(1.0, float64(observed)/expectedTradingDays),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.repo.UpsertRatings(rows); err != nil {
		return 0, fmt.Errorf("failed to persist ratings: %w", err)
	}

	s.log.Info().
		Str("pack", pack.ID).
		Int("securities", len(rows)).
		Msg("Ratings pre-warm complete")
	return len(rows), nil
}
