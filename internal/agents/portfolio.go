package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/utils"
)

// PortfolioAgent serves positions, the stored nightly valuation, and the
// transaction log. Positions are priced live against the pinned pack; the
// valuation is read back exactly as the pipeline persisted it.
type PortfolioAgent struct {
	portfolios *portfolio.Repository
	packs      *packs.Repository
	metrics    *metrics.Repository
	log        zerolog.Logger
}

// NewPortfolioAgent creates the portfolio agent.
func NewPortfolioAgent(portfolios *portfolio.Repository, packsRepo *packs.Repository, metricsRepo *metrics.Repository, log zerolog.Logger) *PortfolioAgent {
	return &PortfolioAgent{
		portfolios: portfolios,
		packs:      packsRepo,
		metrics:    metricsRepo,
		log:        log.With().Str("agent", "portfolio").Logger(),
	}
}

// Name implements runtime.Agent.
func (a *PortfolioAgent) Name() string { return "portfolio" }

// Capabilities implements runtime.Agent.
func (a *PortfolioAgent) Capabilities() []runtime.Capability {
	return []runtime.Capability{
		{
			Name:        "portfolio.positions",
			Description: "Open positions priced at the pinned pack's closes, with weights in base currency.",
			Params: []runtime.Param{
				{Name: "portfolio_id", Kind: runtime.KindString, Required: true},
			},
			Handler: a.positions,
		},
		{
			Name:        "portfolio.valuation",
			Description: "The end-of-day valuation the nightly pipeline stored under the pinned pack.",
			Params: []runtime.Param{
				{Name: "portfolio_id", Kind: runtime.KindString, Required: true},
			},
			Handler: a.valuation,
		},
		{
			Name:        "portfolio.transactions",
			Description: "Transaction log up to the pinned pack's as-of date, optionally windowed.",
			Params: []runtime.Param{
				{Name: "portfolio_id", Kind: runtime.KindString, Required: true},
				{Name: "from", Kind: runtime.KindString},
				{Name: "to", Kind: runtime.KindString},
			},
			Handler: a.transactions,
		},
	}
}

// Position is one security's open holding, priced against the pack.
type Position struct {
	SecurityID      string  `json:"security_id"`
	Quantity        float64 `json:"quantity"`
	CostBasis       float64 `json:"cost_basis"`
	CostCurrency    string  `json:"cost_currency"`
	Close           float64 `json:"close"`
	PriceCurrency   string  `json:"price_currency"`
	MarketValueBase float64 `json:"market_value_base"`
	Weight          float64 `json:"weight"`
}

func (a *PortfolioAgent) positions(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	pf, err := a.loadPortfolio(args)
	if err != nil {
		return nil, err
	}

	lotsBySecurity, err := a.portfolios.GetOpenLotsBySecurity(pf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots for %s: %w", pf.ID, err)
	}

	securityIDs := make([]string, 0, len(lotsBySecurity))
	for id := range lotsBySecurity {
		securityIDs = append(securityIDs, id)
	}
	sort.Strings(securityIDs)

	positions := make([]Position, 0, len(securityIDs))
	positionsValue := 0.0
	for _, securityID := range securityIDs {
		lots := lotsBySecurity[securityID]
		pos := Position{SecurityID: securityID, CostCurrency: lots[0].CostCurrency}
		for _, lot := range lots {
			pos.Quantity += lot.QuantityOpen
			pos.CostBasis += lot.QuantityOpen * lot.CostPerUnit
		}

		price, err := a.packs.GetPrice(rc.PricingPackID, securityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load price for %s: %w", securityID, err)
		}
		if price == nil {
			return nil, fmt.Errorf("pack %s has no price for held security %s", rc.PricingPackID, securityID)
		}
		pos.Close = price.Close
		pos.PriceCurrency = price.Currency

		fx, err := a.packs.GetFXRate(rc.PricingPackID, price.Currency, pf.BaseCurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to load fx rate %s/%s: %w", price.Currency, pf.BaseCurrency, err)
		}
		if fx == nil {
			return nil, fmt.Errorf("pack %s has no fx rate for %s/%s", rc.PricingPackID, price.Currency, pf.BaseCurrency)
		}
		pos.MarketValueBase = pos.Quantity * price.Close * fx.Rate
		positionsValue += pos.MarketValueBase
		positions = append(positions, pos)
	}

	cash, cashValue, err := a.cashValues(rc.PricingPackID, pf)
	if err != nil {
		return nil, err
	}

	total := positionsValue + cashValue
	if total != 0 {
		for i := range positions {
			positions[i].Weight = positions[i].MarketValueBase / total
		}
	}

	return &runtime.Result{
		Data: map[string]interface{}{
			"portfolio_id":     pf.ID,
			"base_currency":    pf.BaseCurrency,
			"positions":        positions,
			"cash":             cash,
			"total_value_base": total,
		},
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

// CashBalance is one currency pocket converted at the pack fixing.
type CashBalance struct {
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	ValueBase float64 `json:"value_base"`
}

func (a *PortfolioAgent) cashValues(packID string, pf *domain.Portfolio) ([]CashBalance, float64, error) {
	balances, err := a.portfolios.GetCashBalances(pf.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load cash balances for %s: %w", pf.ID, err)
	}

	out := make([]CashBalance, 0, len(balances))
	total := 0.0
	for _, cb := range balances {
		fx, err := a.packs.GetFXRate(packID, cb.Currency, pf.BaseCurrency)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load fx rate %s/%s: %w", cb.Currency, pf.BaseCurrency, err)
		}
		if fx == nil {
			return nil, 0, fmt.Errorf("pack %s has no fx rate for %s/%s", packID, cb.Currency, pf.BaseCurrency)
		}
		valueBase := cb.Balance * fx.Rate
		out = append(out, CashBalance{Currency: cb.Currency, Balance: cb.Balance, ValueBase: valueBase})
		total += valueBase
	}
	return out, total, nil
}

func (a *PortfolioAgent) valuation(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	pf, err := a.loadPortfolio(args)
	if err != nil {
		return nil, err
	}
	pack, err := pinnedPack(a.packs, rc)
	if err != nil {
		return nil, err
	}

	dv, err := a.metrics.GetValueAtOrBefore(pf.ID, pack.AsOfDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load valuation for %s: %w", pf.ID, err)
	}
	if dv == nil {
		return nil, fmt.Errorf("no valuation stored for portfolio %s at or before %s", pf.ID, utils.UnixToDate(pack.AsOfDate))
	}

	data := map[string]interface{}{
		"portfolio_id":      dv.PortfolioID,
		"asof_date":         utils.UnixToDate(dv.AsOfDate),
		"base_currency":     pf.BaseCurrency,
		"value_base":        dv.ValueBase,
		"net_external_flow": dv.NetExternalFlow,
	}
	if dv.DailyReturn != nil {
		data["daily_return"] = *dv.DailyReturn
	}
	return &runtime.Result{
		Data: data,
		Provenance: runtime.Provenance{
			Source:     "pricing_pack:" + dv.PricingPackID,
			AsOf:       utils.UnixToDate(dv.AsOfDate),
			TTLSeconds: ttlPackDerived,
		},
	}, nil
}

func (a *PortfolioAgent) transactions(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	pf, err := a.loadPortfolio(args)
	if err != nil {
		return nil, err
	}
	pack, err := pinnedPack(a.packs, rc)
	if err != nil {
		return nil, err
	}

	// The window never extends past the pinned as-of date: the request
	// sees the book as the pack saw it.
	from := int64(0)
	to := pack.AsOfDate
	if s, ok := args.String("from"); ok {
		if from, err = utils.DateToUnix(s); err != nil {
			return nil, domain.Validation("from", "invalid date %q, want YYYY-MM-DD", s)
		}
	}
	if s, ok := args.String("to"); ok {
		ts, err := utils.DateToUnix(s)
		if err != nil {
			return nil, domain.Validation("to", "invalid date %q, want YYYY-MM-DD", s)
		}
		if ts < to {
			to = ts
		}
	}

	txs, err := a.portfolios.GetTransactions(pf.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", pf.ID, err)
	}
	return &runtime.Result{
		Data: map[string]interface{}{
			"portfolio_id": pf.ID,
			"from":         utils.UnixToDate(from),
			"to":           utils.UnixToDate(to),
			"transactions": txs,
			"count":        len(txs),
		},
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

func (a *PortfolioAgent) loadPortfolio(args runtime.Args) (*domain.Portfolio, error) {
	id, _ := args.String("portfolio_id")
	pf, err := a.portfolios.GetPortfolio(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}
	if pf == nil {
		return nil, domain.Validation("portfolio_id", "unknown portfolio %q", id)
	}
	return pf, nil
}
