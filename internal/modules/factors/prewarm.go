package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/utils"
)

// lookbackCloses bounds the trailing history fetched per security; the
// longest factor lookback is 90 days plus one base observation.
const lookbackCloses = 120

// vectorTTL keeps cached vectors alive until the next nightly run.
const vectorTTL = 24 * time.Hour

// Service pre-warms factor exposures for every active portfolio so pattern
// reads are pure lookups.
type Service struct {
	packs     *packs.Repository
	portfolio *portfolio.Repository
	history   *macro.Store
	repo      *Repository
	cache     *Cache
	log       zerolog.Logger
}

// NewService creates the factor pre-warm service.
func NewService(
	packsRepo *packs.Repository,
	portfolioRepo *portfolio.Repository,
	history *macro.Store,
	repo *Repository,
	cache *Cache,
	log zerolog.Logger,
) *Service {
	return &Service{
		packs:     packsRepo,
		portfolio: portfolioRepo,
		history:   history,
		repo:      repo,
		cache:     cache,
		log:       log.With().Str("service", "factors").Logger(),
	}
}

// Prewarm feeds the pack's closes into the trailing history, computes factor
// vectors per held security (cached per pack), and persists market-value
// weighted portfolio exposures. Returns the number of portfolios processed.
func (s *Service) Prewarm(ctx context.Context, packID string) (int, error) {
	pack, err := s.packs.GetByID(packID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pack %s: %w", packID, err)
	}
	if pack == nil {
		return 0, fmt.Errorf("unknown pricing pack %s", packID)
	}

	if err := s.feedHistory(pack); err != nil {
		return 0, err
	}

	portfolios, err := s.portfolio.ListActive()
	if err != nil {
		return 0, fmt.Errorf("failed to list portfolios: %w", err)
	}

	processed := 0
	var failed []string
	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		pf := portfolios[i]

		if err := s.prewarmPortfolio(&pf, pack); err != nil {
			s.log.Warn().Err(err).Str("portfolio", pf.ID).Str("pack", pack.ID).Msg("Factor pre-warm failed for portfolio")
			failed = append(failed, pf.ID)
			continue
		}
		processed++
	}

	s.log.Info().
		Str("pack", pack.ID).
		Int("portfolios", len(portfolios)).
		Int("processed", processed).
		Msg("Factor pre-warm complete")

	if len(failed) > 0 {
		return processed, fmt.Errorf("factor pre-warm failed for %d of %d portfolios: %v", len(failed), len(portfolios), failed)
	}
	return processed, nil
}

// feedHistory appends the pack's closes to daily_prices so today's point is
// part of every lookback window.
func (s *Service) feedHistory(pack *packs.Pack) error {
	prices, err := s.packs.GetPrices(pack.ID)
	if err != nil {
		return fmt.Errorf("failed to load pack prices: %w", err)
	}
	closes := make(map[string]float64, len(prices))
	for _, p := range prices {
		closes[p.SecurityID] = p.Close
	}
	if err := s.history.UpsertDailyCloses(utils.UnixToDate(pack.AsOfDate), closes); err != nil {
		return fmt.Errorf("failed to feed daily closes: %w", err)
	}
	return nil
}

func (s *Service) prewarmPortfolio(pf *domain.Portfolio, pack *packs.Pack) error {
	bySecurity, err := s.portfolio.GetOpenLotsBySecurity(pf.ID)
	if err != nil {
		return fmt.Errorf("failed to load lots for %s: %w", pf.ID, err)
	}
	if len(bySecurity) == 0 {
		return nil
	}

	type holding struct {
		vector *Vector
		mv     float64
	}
	holdings := make([]holding, 0, len(bySecurity))

	for securityID, lots := range bySecurity {
		quantity := 0.0
		for _, lot := range lots {
			quantity += lot.QuantityOpen
		}

		price, err := s.packs.GetPrice(pack.ID, securityID)
		if err != nil {
			return fmt.Errorf("failed to load price for %s: %w", securityID, err)
		}
		if price == nil {
			return fmt.Errorf("pack %s has no price for held security %s", pack.ID, securityID)
		}
		fx, err := s.packs.GetFXRate(pack.ID, price.Currency, pf.BaseCurrency)
		if err != nil {
			return fmt.Errorf("failed to load fx rate %s/%s: %w", price.Currency, pf.BaseCurrency, err)
		}
		if fx == nil {
			return fmt.Errorf("pack %s has no fx rate for %s/%s", pack.ID, price.Currency, pf.BaseCurrency)
		}

		vector, err := s.securityVector(securityID, pack)
		if err != nil {
			return err
		}

		holdings = append(holdings, holding{
			vector: vector,
			mv:     quantity * price.Close * fx.Rate,
		})
	}

	// Per factor, weight-sum the securities that have it; weights are the
	// contributing securities' shares of base market value.
	now := time.Now().Unix()
	rows := make([]ExposureRow, 0, len(FactorNames))
	for _, factor := range FactorNames {
		weightedSum := 0.0
		totalMV := 0.0
		for _, h := range holdings {
			value, _ := h.vector.Factor(factor)
			if value == nil {
				continue
			}
			weightedSum += h.mv * *value
			totalMV += h.mv
		}
		if totalMV == 0 {
			continue
		}
		rows = append(rows, ExposureRow{
			PortfolioID:   pf.ID,
			AsOfDate:      pack.AsOfDate,
			PricingPackID: pack.ID,
			Factor:        factor,
			Exposure:      weightedSum / totalMV,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	return s.repo.UpsertExposures(rows)
}

// securityVector returns the security's factor vector at the pack date,
// computing and caching it on first use.
func (s *Service) securityVector(securityID string, pack *packs.Pack) (*Vector, error) {
	key := "factors:" + securityID + ":" + pack.ID

	var cached Vector
	hit, err := s.cache.Get(key, &cached)
	if err != nil {
		return nil, err
	}
	if hit {
		return &cached, nil
	}

	history, err := s.history.DailyCloses(securityID, utils.UnixToDate(pack.AsOfDate), lookbackCloses)
	if err != nil {
		return nil, fmt.Errorf("failed to load close history for %s: %w", securityID, err)
	}
	closes := make([]float64, len(history))
	for i, h := range history {
		closes[i] = h.Close
	}

	vector := ComputeVector(securityID, pack.AsOfDate, closes)
	if err := s.cache.Set(key, vector, vectorTTL); err != nil {
		return nil, err
	}
	return vector, nil
}
