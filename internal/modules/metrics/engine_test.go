package metrics_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	testhelper "github.com/aristath/meridian/internal/testing"
	"github.com/aristath/meridian/internal/utils"
)

type engineFixture struct {
	engine    *metrics.Engine
	valuer    *metrics.Valuer
	repo      *metrics.Repository
	packs     *packs.Repository
	portfolio *portfolio.Repository
	macro     *macro.Store
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	packsDB, packsCleanup := testhelper.NewTestDB(t, "packs")
	t.Cleanup(packsCleanup)
	portfolioDB, portfolioCleanup := testhelper.NewTestDB(t, "portfolio")
	t.Cleanup(portfolioCleanup)
	derivedDB, derivedCleanup := testhelper.NewTestDB(t, "derived")
	t.Cleanup(derivedCleanup)
	historyDB, historyCleanup := testhelper.NewTestDBWithSchema(t, "history", macro.Schema)
	t.Cleanup(historyCleanup)

	packsRepo := packs.NewRepository(testhelper.GetRawConnection(packsDB), zerolog.Nop())
	portfolioRepo := portfolio.NewRepository(testhelper.GetRawConnection(portfolioDB), zerolog.Nop())
	repo := metrics.NewRepository(testhelper.GetRawConnection(derivedDB), zerolog.Nop())
	store := macro.NewStore(testhelper.GetRawConnection(historyDB), zerolog.Nop())
	valuer := metrics.NewValuer(packsRepo, portfolioRepo, repo, zerolog.Nop())

	return &engineFixture{
		engine:    metrics.NewEngine(packsRepo, portfolioRepo, store, repo, valuer, "DGS3MO", nil, zerolog.Nop()),
		valuer:    valuer,
		repo:      repo,
		packs:     packsRepo,
		portfolio: portfolioRepo,
		macro:     store,
	}
}

// seedPack creates a pack with price and FX rows. currencies maps securities
// to their pricing currency, USD when absent; fx keys are "BASE/QUOTE".
func (f *engineFixture) seedPack(t *testing.T, id, date string, prices map[string]float64, currencies map[string]string, fx map[string]float64) *packs.Pack {
	t.Helper()
	asOf, err := utils.DateToUnix(date)
	require.NoError(t, err)

	priceRows := make([]packs.PriceRow, 0, len(prices))
	for sec, closePrice := range prices {
		ccy := currencies[sec]
		if ccy == "" {
			ccy = "USD"
		}
		priceRows = append(priceRows, packs.PriceRow{SecurityID: sec, Close: closePrice, Currency: ccy, Source: "test"})
	}
	fxRows := make([]packs.FXRow, 0, len(fx))
	for pair, rate := range fx {
		parts := strings.SplitN(pair, "/", 2)
		fxRows = append(fxRows, packs.FXRow{Base: parts[0], Quote: parts[1], Rate: rate, Source: "test", AsOf: asOf})
	}

	now := time.Now().Unix()
	pack := &packs.Pack{
		ID: id, AsOfDate: asOf, Policy: "eod", Hash: "h-" + id,
		Status: packs.StatusWarming, SourcesJSON: "{}",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.packs.CreateWithRows(pack, priceRows, fxRows, ""))
	return pack
}

func (f *engineFixture) seedPortfolio(t *testing.T, id, base, benchmark string) *domain.Portfolio {
	t.Helper()
	pf := &domain.Portfolio{
		ID: id, Name: "Portfolio " + id, BaseCurrency: base,
		BenchmarkSymbol: benchmark, Account: "acct-" + id, Active: true,
	}
	require.NoError(t, f.portfolio.CreatePortfolio(pf))
	return pf
}

func (f *engineFixture) seedLot(t *testing.T, portfolioID, securityID string, qty float64, ccy string) {
	t.Helper()
	require.NoError(t, f.portfolio.CreateLot(&domain.Lot{
		ID: portfolioID + "-" + securityID, PortfolioID: portfolioID, SecurityID: securityID,
		QuantityOriginal: qty, QuantityOpen: qty, CostPerUnit: 1, CostCurrency: ccy,
		OpenedAt: 1,
	}))
}

func (f *engineFixture) seedValue(t *testing.T, portfolioID string, date int64, packID string, value float64, ret *float64) {
	t.Helper()
	now := time.Now().Unix()
	require.NoError(t, f.repo.UpsertDailyValue(&metrics.DailyValue{
		PortfolioID: portfolioID, AsOfDate: date, PricingPackID: packID,
		ValueBase: value, DailyReturn: ret,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func mustUnix(t *testing.T, date string) int64 {
	t.Helper()
	ts, err := utils.DateToUnix(date)
	require.NoError(t, err)
	return ts
}

func ptr(v float64) *float64 { return &v }

func TestRunComputesDailyReturnMetrics(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-1", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")

	pack1 := f.seedPack(t, "pk-d1", "2026-03-02", map[string]float64{"AAPL": 100.00}, nil, nil)
	processed, err := f.engine.Run(context.Background(), pack1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// Day one: value persisted, no return yet, every window null.
	dv, err := f.repo.GetValueAtOrBefore(pf.ID, pack1.AsOfDate)
	require.NoError(t, err)
	require.NotNil(t, dv)
	assert.Equal(t, 1000.0, dv.ValueBase)
	assert.Nil(t, dv.DailyReturn)

	row, err := f.repo.GetMetrics(pf.ID, pack1.AsOfDate, pack1.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.TWR1D)
	assert.Nil(t, row.TWRInceptionAnnualized)
	assert.Nil(t, row.MaxDrawdownInception)

	pack2 := f.seedPack(t, "pk-d2", "2026-03-03", map[string]float64{"AAPL": 100.12}, nil, nil)
	processed, err = f.engine.Run(context.Background(), pack2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	row, err = f.repo.GetMetrics(pf.ID, pack2.AsOfDate, pack2.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.TWR1D)
	assert.InDelta(t, 0.0012, *row.TWR1D, 1e-12)

	// Windows reaching past the first valuation stay null, never partial.
	assert.Nil(t, row.TWRMTD)
	assert.Nil(t, row.TWRQTD)
	assert.Nil(t, row.TWRYTD)
	assert.Nil(t, row.TWR1Y)
	assert.Nil(t, row.TWR3YAnnualized)

	// A single return is not enough for volatility.
	assert.Nil(t, row.Volatility30D)

	require.NotNil(t, row.MaxDrawdownInception)
	assert.Equal(t, 0.0, *row.MaxDrawdownInception)
}

func TestRunRollingWindowsOverSeededHistory(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-hist", "USD", "SPX")
	f.seedLot(t, pf.ID, "IDX", 1, "USD")

	require.NoError(t, f.macro.UpsertSeries("DGS3MO", []domain.MacroObservation{
		{Series: "DGS3MO", Date: "2025-05-01", Value: 4.00},
	}))

	// Forty daily values from May 15 to June 23, returns alternating
	// +0.2% and 0%, with a benchmark tracking them exactly.
	start := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	value := 1000.0
	benchClose := 500.0
	var benchPrices []macro.BenchmarkPrice
	for i := 0; i < 40; i++ {
		date := start.AddDate(0, 0, i).Unix()
		var ret *float64
		if i > 0 {
			r := 0.0
			if i%2 == 1 {
				r = 0.002
			}
			value *= 1 + r
			ret = &r
		}
		f.seedValue(t, pf.ID, date, "pk-history", value, ret)
		if i > 0 && i%2 == 1 {
			benchClose *= 1.002
		}
		benchPrices = append(benchPrices, macro.BenchmarkPrice{Date: utils.UnixToDate(date), Close: benchClose, Currency: "USD"})
	}

	// The pack values the portfolio one more day up 0.2%; the benchmark
	// moves with it.
	asOfDate := "2025-06-24"
	pack := f.seedPack(t, "pk-roll", asOfDate, map[string]float64{"IDX": value * 1.002}, nil, nil)
	benchPrices = append(benchPrices, macro.BenchmarkPrice{Date: asOfDate, Close: benchClose * 1.002, Currency: "USD"})
	require.NoError(t, f.macro.UpsertBenchmarkPrices("SPX", benchPrices))

	processed, err := f.engine.Run(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	row, err := f.repo.GetMetrics(pf.ID, pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.NotNil(t, row)

	require.NotNil(t, row.TWR1D)
	assert.InDelta(t, 0.002, *row.TWR1D, 1e-10)

	// June holds 24 returns, 13 of them +0.2%: the twelve odd offsets
	// June 1 through June 23 plus the as-of day itself.
	require.NotNil(t, row.TWRMTD)
	assert.InDelta(t, math.Pow(1.002, 13)-1, *row.TWRMTD, 1e-10)

	// History starts mid-May: the quarter, year-to-date, and longer
	// windows are incomplete.
	assert.Nil(t, row.TWRQTD)
	assert.Nil(t, row.TWRYTD)
	assert.Nil(t, row.TWR1Y)
	assert.Nil(t, row.TWR3YAnnualized)
	assert.Nil(t, row.TWR5YAnnualized)
	assert.Nil(t, row.MWR3Y)
	assert.Nil(t, row.MWR5Y)

	// Inception: 21 positive returns over a 40-day span.
	require.NotNil(t, row.TWRInceptionAnnualized)
	cum := math.Pow(1.002, 21) - 1
	assert.InDelta(t, math.Pow(1+cum, 365.0/40)-1, *row.TWRInceptionAnnualized, 1e-10)

	require.NotNil(t, row.Volatility30D)
	assert.Greater(t, *row.Volatility30D, 0.0)
	require.NotNil(t, row.Volatility90D)
	require.NotNil(t, row.Sharpe1Y)

	// The benchmark replicates the portfolio exactly.
	require.NotNil(t, row.Beta1Y)
	assert.InDelta(t, 1.0, *row.Beta1Y, 1e-9)
	require.NotNil(t, row.Alpha1Y)
	assert.InDelta(t, 0.0, *row.Alpha1Y, 1e-9)
	require.NotNil(t, row.TrackingError1Y)
	assert.InDelta(t, 0.0, *row.TrackingError1Y, 1e-12)

	// Returns never go negative, so no drawdown.
	require.NotNil(t, row.MaxDrawdownInception)
	assert.Equal(t, 0.0, *row.MaxDrawdownInception)
}

func TestRunMoneyWeightedReturnSinceInception(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-mwr", "USD", "")
	f.seedLot(t, pf.ID, "IDX", 1, "USD")

	// Funded with 1000 exactly one year before the pack date, worth 1100
	// at the pack date.
	funded := mustUnix(t, "2025-03-03")
	f.seedValue(t, pf.ID, funded, "pk-old", 1000, nil)
	require.NoError(t, f.repo.UpsertCashFlows([]metrics.FlowRow{
		{PortfolioID: pf.ID, FlowDate: funded, AmountBase: 1000, Kind: "deposit", PricingPackID: "pk-old"},
	}))

	pack := f.seedPack(t, "pk-mwr", "2026-03-03", map[string]float64{"IDX": 1100}, nil, nil)
	_, err := f.engine.Run(context.Background(), pack.ID)
	require.NoError(t, err)

	row, err := f.repo.GetMetrics(pf.ID, pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.NotNil(t, row)

	require.NotNil(t, row.MWRInception)
	assert.InDelta(t, 0.10, *row.MWRInception, 1e-6)

	// The lone return covers the whole year; the 1y window starts exactly
	// at the first valuation, so it is complete.
	require.NotNil(t, row.TWR1D)
	assert.InDelta(t, 0.10, *row.TWR1D, 1e-12)
	require.NotNil(t, row.TWR1Y)
	assert.InDelta(t, 0.10, *row.TWR1Y, 1e-12)
	require.NotNil(t, row.TWRInceptionAnnualized)
	assert.InDelta(t, 0.10, *row.TWRInceptionAnnualized, 1e-9)
}

func TestRunMissingPriceDoesNotFailPortfolio(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-partial", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")
	f.seedLot(t, pf.ID, "ZZZ", 1, "USD")

	pack := f.seedPack(t, "pk-partial", "2026-03-02", map[string]float64{"AAPL": 100}, nil, nil)

	// The unpriced holding is a warning, never a portfolio failure.
	processed, err := f.engine.Run(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	dv, err := f.repo.GetValueAtOrBefore(pf.ID, pack.AsOfDate)
	require.NoError(t, err)
	require.NotNil(t, dv)
	assert.InDelta(t, 1000.0, dv.ValueBase, 1e-9)

	row, err := f.repo.GetMetrics(pf.ID, pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestRunSkipsPortfolioMissingFXRate(t *testing.T) {
	f := newEngineFixture(t)
	good := f.seedPortfolio(t, "pf-good", "USD", "")
	f.seedLot(t, good.ID, "AAPL", 10, "USD")
	bad := f.seedPortfolio(t, "pf-unvaluable", "USD", "")
	f.seedLot(t, bad.ID, "LSE1", 2, "GBP")

	pack := f.seedPack(t, "pk-skip", "2026-03-02",
		map[string]float64{"AAPL": 100, "LSE1": 40},
		map[string]string{"LSE1": "GBP"},
		nil)

	processed, err := f.engine.Run(context.Background(), pack.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pf-unvaluable")
	assert.Equal(t, 1, processed)

	row, err := f.repo.GetMetrics(good.ID, pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	assert.NotNil(t, row)

	row, err = f.repo.GetMetrics(bad.ID, pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	dv, err := f.repo.GetValueAtOrBefore(bad.ID, pack.AsOfDate)
	require.NoError(t, err)
	assert.Nil(t, dv)
}

func TestRunUnknownPack(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPortfolio(t, "pf-1", "USD", "")

	processed, err := f.engine.Run(context.Background(), "pk-missing")
	require.Error(t, err)
	assert.Equal(t, 0, processed)
}
