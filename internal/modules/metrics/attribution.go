package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
)

// ErrAttributionIdentity marks a currency decomposition whose parts do not
// recompose into the observed base return within tolerance. It aborts the
// metrics run: the decomposition cannot be trusted for any portfolio when
// the pack's prices and rates disagree with themselves.
var ErrAttributionIdentity = errors.New("currency attribution identity breach")

// identityToleranceBP bounds |(1+r_local)(1+r_fx)-1 - r_base| in basis points.
const identityToleranceBP = 0.1

// attribute decomposes the day's return into local price movement, FX
// movement, and their cross term, bucketed per pricing currency. Start-of-day
// prices and rates come from the newest current pack before the as-of date;
// the first pack ever has nothing to diff against and is skipped. Cash is
// excluded: it has no local price leg, and its FX effect is already in the
// valuation. Weights are shares of the securities' base market value today.
func (e *Engine) attribute(pf *domain.Portfolio, pack *packs.Pack) error {
	prev, err := e.packs.GetLatestCurrentBefore(pack.AsOfDate, pack.Policy)
	if err != nil {
		return fmt.Errorf("failed to find prior pack: %w", err)
	}
	if prev == nil {
		e.log.Debug().Str("portfolio", pf.ID).Str("pack", pack.ID).Msg("No prior pack, skipping currency attribution")
		return nil
	}

	bySecurity, err := e.portfolio.GetOpenLotsBySecurity(pf.ID)
	if err != nil {
		return fmt.Errorf("failed to load lots for %s: %w", pf.ID, err)
	}
	if len(bySecurity) == 0 {
		return nil
	}

	type bucket struct {
		mv       float64 // base market value today
		localSum float64 // mv-weighted local returns
		fx       float64 // the currency's own fx return
	}
	buckets := make(map[string]*bucket)

	for securityID, lots := range bySecurity {
		quantity := 0.0
		for _, lot := range lots {
			quantity += lot.QuantityOpen
		}

		priceNow, err := e.packs.GetPrice(pack.ID, securityID)
		if err != nil {
			return fmt.Errorf("failed to load price for %s: %w", securityID, err)
		}
		pricePrev, err := e.packs.GetPrice(prev.ID, securityID)
		if err != nil {
			return fmt.Errorf("failed to load prior price for %s: %w", securityID, err)
		}
		if priceNow == nil || pricePrev == nil || pricePrev.Close == 0 {
			// No history across both packs; the position entered the
			// universe today.
			continue
		}

		fxNow, err := e.fxRate(pack.ID, priceNow.Currency, pf.BaseCurrency)
		if err != nil {
			return err
		}
		fxPrev, err := e.packs.GetFXRate(prev.ID, pricePrev.Currency, pf.BaseCurrency)
		if err != nil {
			return fmt.Errorf("failed to load prior fx rate %s/%s: %w", pricePrev.Currency, pf.BaseCurrency, err)
		}
		if fxPrev == nil || fxPrev.Rate == 0 {
			continue
		}

		rLocal := priceNow.Close/pricePrev.Close - 1
		rFX := fxNow/fxPrev.Rate - 1
		composed := (1+rLocal)*(1+rFX) - 1
		observed := (priceNow.Close*fxNow)/(pricePrev.Close*fxPrev.Rate) - 1
		if math.Abs(composed-observed)*1e4 > identityToleranceBP {
			return fmt.Errorf("%w: portfolio %s security %s composed %.10f vs observed %.10f",
				ErrAttributionIdentity, pf.ID, securityID, composed, observed)
		}

		b := buckets[priceNow.Currency]
		if b == nil {
			b = &bucket{fx: rFX}
			buckets[priceNow.Currency] = b
		}
		mv := quantity * priceNow.Close * fxNow
		b.mv += mv
		b.localSum += mv * rLocal
	}

	totalMV := 0.0
	for _, b := range buckets {
		totalMV += b.mv
	}
	if totalMV == 0 {
		return nil
	}

	currencies := make([]string, 0, len(buckets))
	for ccy := range buckets {
		currencies = append(currencies, ccy)
	}
	sort.Strings(currencies)

	now := time.Now().Unix()
	rows := make([]AttributionRow, 0, len(currencies)+1)
	var pLocal, pFX, pInteraction, pBase float64
	for _, ccy := range currencies {
		b := buckets[ccy]
		weight := b.mv / totalMV
		rLocal := b.localSum / b.mv
		rInteraction := rLocal * b.fx
		rBase := (1+rLocal)*(1+b.fx) - 1
		rows = append(rows, AttributionRow{
			PortfolioID:   pf.ID,
			AsOfDate:      pack.AsOfDate,
			PricingPackID: pack.ID,
			Currency:      ccy,
			Weight:        weight,
			RLocal:        rLocal,
			RFX:           b.fx,
			RInteraction:  rInteraction,
			RBase:         rBase,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		pLocal += weight * rLocal
		pFX += weight * b.fx
		pInteraction += weight * rInteraction
		pBase += weight * rBase
	}

	rows = append(rows, AttributionRow{
		PortfolioID:   pf.ID,
		AsOfDate:      pack.AsOfDate,
		PricingPackID: pack.ID,
		Currency:      PortfolioCurrency,
		Weight:        1.0,
		RLocal:        pLocal,
		RFX:           pFX,
		RInteraction:  pInteraction,
		RBase:         pBase,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	return e.repo.UpsertAttribution(rows)
}

// fxRate resolves a rate that must exist in the pack; the valuation pass has
// already proven the pair present.
func (e *Engine) fxRate(packID, from, to string) (float64, error) {
	fx, err := e.packs.GetFXRate(packID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to load fx rate %s/%s: %w", from, to, err)
	}
	if fx == nil {
		return 0, fmt.Errorf("pack %s has no fx rate for %s/%s", packID, from, to)
	}
	return fx.Rate, nil
}
