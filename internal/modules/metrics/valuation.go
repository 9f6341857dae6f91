package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
)

// Valuer prices a portfolio against a pricing pack: every open lot at the
// pack close, every cash balance at the pack FX fixing, all converted into
// the portfolio's base currency.
type Valuer struct {
	packs     *packs.Repository
	portfolio *portfolio.Repository
	repo      *Repository
	log       zerolog.Logger
}

// NewValuer creates a daily valuer.
func NewValuer(packsRepo *packs.Repository, portfolioRepo *portfolio.Repository, repo *Repository, log zerolog.Logger) *Valuer {
	return &Valuer{
		packs:     packsRepo,
		portfolio: portfolioRepo,
		repo:      repo,
		log:       log.With().Str("service", "valuation").Logger(),
	}
}

// ValueOne computes the portfolio's end-of-day value at the pack date,
// derives the day's external flows from the transaction log, and persists
// both. The daily return treats flows as landing at end of day:
//
//	r_t = (V_t - F_t - V_{t-1}) / V_{t-1}
//
// It is null on the portfolio's first valuation day. A held security the
// pack has no price for is valued null with a warning; the rest of the
// portfolio still values. A missing FX rate is an error — the pack does not
// cover the portfolio's currency surface at all.
func (v *Valuer) ValueOne(pf *domain.Portfolio, pack *packs.Pack) (*DailyValue, error) {
	lots, err := v.portfolio.GetOpenLots(pf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots for %s: %w", pf.ID, err)
	}

	valueBase := 0.0
	for _, lot := range lots {
		price, err := v.packs.GetPrice(pack.ID, lot.SecurityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load price for %s: %w", lot.SecurityID, err)
		}
		if price == nil {
			v.log.Warn().
				Str("portfolio", pf.ID).
				Str("security", lot.SecurityID).
				Str("pack", pack.ID).
				Msg("No pack price for held security, position valued null")
			continue
		}
		base, err := v.baseValue(pack.ID, lot.QuantityOpen*price.Close, price.Currency, pf.BaseCurrency)
		if err != nil {
			return nil, err
		}
		valueBase += base
	}

	balances, err := v.portfolio.GetCashBalances(pf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cash balances for %s: %w", pf.ID, err)
	}
	for _, cb := range balances {
		base, err := v.baseValue(pack.ID, cb.Balance, cb.Currency, pf.BaseCurrency)
		if err != nil {
			return nil, err
		}
		valueBase += base
	}

	flows, netFlow, err := v.dayFlows(pf, pack)
	if err != nil {
		return nil, err
	}

	prev, err := v.repo.GetValueBefore(pf.ID, pack.AsOfDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior valuation for %s: %w", pf.ID, err)
	}

	var dailyReturn *float64
	if prev != nil && prev.ValueBase != 0 {
		r := (valueBase - netFlow - prev.ValueBase) / prev.ValueBase
		dailyReturn = &r
	}

	now := time.Now().Unix()
	dv := &DailyValue{
		PortfolioID:     pf.ID,
		AsOfDate:        pack.AsOfDate,
		PricingPackID:   pack.ID,
		ValueBase:       valueBase,
		NetExternalFlow: netFlow,
		DailyReturn:     dailyReturn,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := v.repo.UpsertDailyValue(dv); err != nil {
		return nil, err
	}
	if len(flows) > 0 {
		if err := v.repo.UpsertCashFlows(flows); err != nil {
			return nil, err
		}
	}

	v.log.Debug().
		Str("portfolio", pf.ID).
		Str("pack", pack.ID).
		Float64("value_base", valueBase).
		Float64("net_flow", netFlow).
		Msg("Portfolio valued")

	return dv, nil
}

// dayFlows converts the pack date's deposits and withdrawals into base
// currency, aggregated per kind. Dividends and trades move value between
// pockets of the same portfolio and are not external flows. A transaction
// that carries its own observed FX rate converts at that rate; otherwise
// the pack fixing applies.
func (v *Valuer) dayFlows(pf *domain.Portfolio, pack *packs.Pack) ([]FlowRow, float64, error) {
	txs, err := v.portfolio.GetExternalFlows(pf.ID, pack.AsOfDate, pack.AsOfDate)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load external flows for %s: %w", pf.ID, err)
	}

	byKind := make(map[string]float64)
	netFlow := 0.0
	for _, tx := range txs {
		var amountBase float64
		if tx.FXRate != nil {
			amountBase = tx.Amount * *tx.FXRate
		} else {
			amountBase, err = v.baseValue(pack.ID, tx.Amount, tx.Currency, pf.BaseCurrency)
			if err != nil {
				return nil, 0, err
			}
		}
		netFlow += amountBase
		byKind[string(tx.Type)] += amountBase
	}

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	flows := make([]FlowRow, 0, len(kinds))
	for _, kind := range kinds {
		flows = append(flows, FlowRow{
			PortfolioID:   pf.ID,
			FlowDate:      pack.AsOfDate,
			AmountBase:    byKind[kind],
			Kind:          kind,
			PricingPackID: pack.ID,
		})
	}
	return flows, netFlow, nil
}

// baseValue converts a native-currency amount into the target currency at
// the pack's FX fixing.
func (v *Valuer) baseValue(packID string, amount float64, from, to string) (float64, error) {
	fx, err := v.packs.GetFXRate(packID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to load fx rate %s/%s: %w", from, to, err)
	}
	if fx == nil {
		return 0, fmt.Errorf("pack %s has no fx rate for %s/%s", packID, from, to)
	}
	return amount * fx.Rate, nil
}
