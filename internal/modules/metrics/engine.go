package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/utils"
	"github.com/aristath/meridian/pkg/formulas"
)

const secondsPerDay = 86400

// Window spans in calendar days.
const (
	days1Y = 365
	days3Y = 1095
	days5Y = 1825
)

// Engine runs the per-pack analytics pass: daily valuation, rolling metric
// windows, and currency attribution for every active portfolio.
type Engine struct {
	packs     *packs.Repository
	portfolio *portfolio.Repository
	macro     *macro.Store
	repo      *Repository
	valuer    *Valuer
	rfSeries  string
	bus       *events.Manager
	log       zerolog.Logger
}

// NewEngine creates a metrics engine. rfSeries names the macro series used
// as the Sharpe risk-free rate, e.g. "DGS3MO"; its observations are stored
// in percent.
func NewEngine(
	packsRepo *packs.Repository,
	portfolioRepo *portfolio.Repository,
	macroStore *macro.Store,
	repo *Repository,
	valuer *Valuer,
	rfSeries string,
	bus *events.Manager,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		packs:     packsRepo,
		portfolio: portfolioRepo,
		macro:     macroStore,
		repo:      repo,
		valuer:    valuer,
		rfSeries:  rfSeries,
		bus:       bus,
		log:       log.With().Str("service", "metrics").Logger(),
	}
}

// Run values and measures every active portfolio against the pack. It
// returns the number of portfolios fully processed. Portfolios that cannot
// be valued (missing FX rate) are skipped and reported in the aggregate
// error; an attribution identity breach aborts the whole run.
func (e *Engine) Run(ctx context.Context, packID string) (int, error) {
	pack, err := e.packs.GetByID(packID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pack %s: %w", packID, err)
	}
	if pack == nil {
		return 0, fmt.Errorf("unknown pricing pack %s", packID)
	}

	portfolios, err := e.portfolio.ListActive()
	if err != nil {
		return 0, fmt.Errorf("failed to list portfolios: %w", err)
	}

	processed := 0
	var failed []string
	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		pf := &portfolios[i]

		if err := e.runPortfolio(pf, pack); err != nil {
			if errors.Is(err, ErrAttributionIdentity) {
				return processed, err
			}
			e.log.Warn().Err(err).Str("portfolio", pf.ID).Str("pack", pack.ID).Msg("Metrics failed for portfolio")
			failed = append(failed, pf.ID)
			continue
		}
		processed++
	}

	e.log.Info().
		Str("pack", pack.ID).
		Int("portfolios", len(portfolios)).
		Int("processed", processed).
		Msg("Metrics pass complete")

	if e.bus != nil {
		e.bus.EmitTyped(events.MetricsComputed, "metrics", &events.MetricsComputedData{
			PackID:     pack.ID,
			Portfolios: len(portfolios),
			Rows:       processed,
		})
	}

	if len(failed) > 0 {
		return processed, fmt.Errorf("metrics failed for %d of %d portfolios: %v", len(failed), len(portfolios), failed)
	}
	return processed, nil
}

func (e *Engine) runPortfolio(pf *domain.Portfolio, pack *packs.Pack) error {
	if _, err := e.valuer.ValueOne(pf, pack); err != nil {
		return err
	}
	row, err := e.computeRow(pf, pack)
	if err != nil {
		return err
	}
	if err := e.repo.UpsertMetrics(row); err != nil {
		return err
	}
	return e.attribute(pf, pack)
}

// computeRow assembles one portfolio_metrics row from the persisted daily
// returns. Every window runs over returns dated in (anchor, asof]; a strict
// window (TWR, MWR) whose anchor predates the portfolio's first valuation
// stays null rather than reporting a partial figure. Volatility and drawdown
// are observable-window metrics and use whatever points the window holds.
func (e *Engine) computeRow(pf *domain.Portfolio, pack *packs.Pack) (*Row, error) {
	asOf := pack.AsOfDate
	now := time.Now().Unix()
	row := &Row{
		PortfolioID:   pf.ID,
		AsOfDate:      asOf,
		PricingPackID: pack.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	first, err := e.repo.FirstValueDate(pf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find first valuation for %s: %w", pf.ID, err)
	}
	if first == 0 {
		return row, nil
	}

	points, err := e.repo.GetReturnSeries(pf.ID, 0, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load return series for %s: %w", pf.ID, err)
	}

	asOfTime := time.Unix(asOf, 0).UTC()
	monthAnchor := time.Date(asOfTime.Year(), asOfTime.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Unix()
	quarterMonth := time.Month((int(asOfTime.Month())-1)/3*3 + 1)
	quarterAnchor := time.Date(asOfTime.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Unix()
	yearAnchor := time.Date(asOfTime.Year(), 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Unix()

	row.TWR1D = twrWindow(points, first, asOf-secondsPerDay)
	row.TWRMTD = twrWindow(points, first, monthAnchor)
	row.TWRQTD = twrWindow(points, first, quarterAnchor)
	row.TWRYTD = twrWindow(points, first, yearAnchor)
	row.TWR1Y = twrWindow(points, first, asOf-days1Y*secondsPerDay)

	if cum := twrWindow(points, first, asOf-days3Y*secondsPerDay); cum != nil {
		row.TWR3YAnnualized = formulas.AnnualizeReturn(*cum, days3Y)
	}
	if cum := twrWindow(points, first, asOf-days5Y*secondsPerDay); cum != nil {
		row.TWR5YAnnualized = formulas.AnnualizeReturn(*cum, days5Y)
	}

	allReturns := windowReturns(points, 0)
	if cum := formulas.LinkReturns(allReturns); cum != nil {
		row.TWRInceptionAnnualized = formulas.AnnualizeReturn(*cum, int((asOf-first)/secondsPerDay))
	}
	row.MaxDrawdownInception = formulas.MaxDrawdownFromReturns(allReturns)

	if row.MWR3Y, err = e.mwrWindow(pf.ID, first, asOf-days3Y*secondsPerDay, asOf); err != nil {
		return nil, err
	}
	if row.MWR5Y, err = e.mwrWindow(pf.ID, first, asOf-days5Y*secondsPerDay, asOf); err != nil {
		return nil, err
	}
	if row.MWRInception, err = e.mwrWindow(pf.ID, first, 0, asOf); err != nil {
		return nil, err
	}

	row.Volatility30D = formulas.AnnualizedVolatility(windowReturns(points, asOf-30*secondsPerDay))
	row.Volatility90D = formulas.AnnualizedVolatility(windowReturns(points, asOf-90*secondsPerDay))

	returns1Y := windowReturns(points, asOf-days1Y*secondsPerDay)
	row.Volatility1Y = formulas.AnnualizedVolatility(returns1Y)
	row.MaxDrawdown1Y = formulas.MaxDrawdownFromReturns(returns1Y)

	rf, err := e.macro.LatestAtOrBefore(e.rfSeries, utils.UnixToDate(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to load risk-free series %s: %w", e.rfSeries, err)
	}
	if rf != nil {
		// FRED quotes rates in percent.
		row.Sharpe1Y = formulas.SharpeRatio(returns1Y, rf.Value/100)
	}

	if pf.BenchmarkSymbol != "" {
		pvals, bvals, err := e.alignedBenchmarkReturns(pf.BenchmarkSymbol, points, asOf)
		if err != nil {
			return nil, err
		}
		row.Beta1Y = formulas.Beta(pvals, bvals)
		row.Alpha1Y = formulas.Alpha(pvals, bvals)
		row.TrackingError1Y = formulas.TrackingError(pvals, bvals)
		row.InformationRatio1Y = formulas.InformationRatio(pvals, bvals)
	}

	return row, nil
}

// mwrWindow computes the money-weighted return over (after, asOf]: the
// investor buys the portfolio at its window-start value, experiences the
// signed external flows, and sells at the as-of value. after == 0 means
// since inception, where there is no synthetic buy-in.
func (e *Engine) mwrWindow(portfolioID string, first, after, asOf int64) (*float64, error) {
	if after > 0 && first > after {
		return nil, nil
	}

	terminal, err := e.repo.GetValueAtOrBefore(portfolioID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load terminal value for %s: %w", portfolioID, err)
	}
	if terminal == nil {
		return nil, nil
	}

	var flows []formulas.Flow
	if after > 0 {
		start, err := e.repo.GetValueAtOrBefore(portfolioID, after)
		if err != nil {
			return nil, fmt.Errorf("failed to load window-start value for %s: %w", portfolioID, err)
		}
		if start == nil {
			return nil, nil
		}
		flows = append(flows, formulas.Flow{Date: time.Unix(after, 0).UTC(), Amount: -start.ValueBase})
	}

	external, err := e.repo.GetCashFlows(portfolioID, after, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load cash flows for %s: %w", portfolioID, err)
	}
	for _, f := range external {
		// Stored signs are portfolio-perspective; the investor's pocket
		// sees the opposite.
		flows = append(flows, formulas.Flow{Date: time.Unix(f.FlowDate, 0).UTC(), Amount: -f.AmountBase})
	}

	flows = append(flows, formulas.Flow{Date: time.Unix(asOf, 0).UTC(), Amount: terminal.ValueBase})
	return formulas.XIRR(flows), nil
}

// alignedBenchmarkReturns pairs the portfolio's trailing-year returns with
// benchmark returns on the same dates. Benchmark returns come from native
// closes, so the FX component is stripped and the series is hedged into the
// portfolio's base currency. Dates present on only one side drop out.
func (e *Engine) alignedBenchmarkReturns(symbol string, points []ReturnPoint, asOf int64) ([]float64, []float64, error) {
	from := asOf - (days1Y+14)*secondsPerDay
	closes, err := e.macro.BenchmarkCloses(symbol, utils.UnixToDate(from), utils.UnixToDate(asOf))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load benchmark closes for %s: %w", symbol, err)
	}

	benchReturns := make(map[string]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1].Close == 0 {
			continue
		}
		benchReturns[closes[i].Date] = closes[i].Close/closes[i-1].Close - 1
	}

	after := asOf - days1Y*secondsPerDay
	var pvals, bvals []float64
	for _, p := range points {
		if p.Date <= after {
			continue
		}
		if br, ok := benchReturns[utils.UnixToDate(p.Date)]; ok {
			pvals = append(pvals, p.Return)
			bvals = append(bvals, br)
		}
	}
	return pvals, bvals, nil
}

// twrWindow geometrically links the returns dated in (after, asOf]. A nil
// result means the window is incomplete or empty.
func twrWindow(points []ReturnPoint, first, after int64) *float64 {
	if first > after {
		return nil
	}
	return formulas.LinkReturns(windowReturns(points, after))
}

// windowReturns extracts the return values dated strictly after the anchor.
func windowReturns(points []ReturnPoint, after int64) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Date > after {
			out = append(out, p.Return)
		}
	}
	return out
}
