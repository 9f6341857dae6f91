package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
)

func TestValueOneConvertsLotsAndCashToBase(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-v", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")
	f.seedLot(t, pf.ID, "SAP", 5, "EUR")
	require.NoError(t, f.portfolio.SetCashBalance(pf.ID, "USD", 500))
	require.NoError(t, f.portfolio.SetCashBalance(pf.ID, "EUR", 100))

	pack := f.seedPack(t, "pk-v", "2026-03-02",
		map[string]float64{"AAPL": 150, "SAP": 200},
		map[string]string{"SAP": "EUR"},
		map[string]float64{"EUR/USD": 1.10})

	dv, err := f.valuer.ValueOne(pf, pack)
	require.NoError(t, err)

	// 10*150 + 5*200*1.10 + 500 + 100*1.10
	assert.InDelta(t, 3210.0, dv.ValueBase, 1e-9)
	assert.Equal(t, 0.0, dv.NetExternalFlow)
	assert.Nil(t, dv.DailyReturn)

	stored, err := f.repo.GetValueAtOrBefore(pf.ID, pack.AsOfDate)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pack.ID, stored.PricingPackID)
	assert.InDelta(t, 3210.0, stored.ValueBase, 1e-9)
}

func TestValueOneDerivesExternalFlows(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-flows", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")

	asOf := mustUnix(t, "2026-03-02")
	f.seedValue(t, pf.ID, mustUnix(t, "2026-03-01"), "pk-prior", 2000, nil)

	observedRate := 1.05
	for _, tx := range []*domain.Transaction{
		{ID: "tx-1", PortfolioID: pf.ID, Type: domain.TxDeposit, Amount: 100, Currency: "USD", TradeDate: asOf},
		{ID: "tx-2", PortfolioID: pf.ID, Type: domain.TxWithdrawal, Amount: -30, Currency: "USD", TradeDate: asOf},
		// Carries its own observed rate, so the pack fixing must not apply.
		{ID: "tx-3", PortfolioID: pf.ID, Type: domain.TxDeposit, Amount: 100, Currency: "EUR", FXRate: &observedRate, TradeDate: asOf},
		// Dividends are internal income, not external flows.
		{ID: "tx-4", PortfolioID: pf.ID, SecurityID: "AAPL", Type: domain.TxDividend, Amount: 50, Currency: "USD", TradeDate: asOf},
	} {
		require.NoError(t, f.portfolio.RecordTransaction(tx))
	}

	pack := f.seedPack(t, "pk-flows", "2026-03-02",
		map[string]float64{"AAPL": 215},
		nil,
		map[string]float64{"EUR/USD": 1.10})

	dv, err := f.valuer.ValueOne(pf, pack)
	require.NoError(t, err)

	// 100 + (-30) + 100*1.05
	assert.InDelta(t, 175.0, dv.NetExternalFlow, 1e-9)

	// r = (2150 - 175 - 2000) / 2000
	require.NotNil(t, dv.DailyReturn)
	assert.InDelta(t, -0.0125, *dv.DailyReturn, 1e-12)

	flows, err := f.repo.GetCashFlows(pf.ID, 0, asOf)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "deposit", flows[0].Kind)
	assert.InDelta(t, 205.0, flows[0].AmountBase, 1e-9)
	assert.Equal(t, "withdrawal", flows[1].Kind)
	assert.InDelta(t, -30.0, flows[1].AmountBase, 1e-9)
}

func TestValueOneMissingPriceValuesPositionNull(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-nopx", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")
	f.seedLot(t, pf.ID, "GHOST", 7, "USD")

	pack := f.seedPack(t, "pk-nopx", "2026-03-02", map[string]float64{"AAPL": 100}, nil, nil)

	// The unpriced position contributes nothing; the portfolio still values.
	dv, err := f.valuer.ValueOne(pf, pack)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, dv.ValueBase, 1e-9)

	stored, err := f.repo.GetValueAtOrBefore(pf.ID, pack.AsOfDate)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 1000.0, stored.ValueBase, 1e-9)
}

func TestValueOneMissingFXRateFails(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-nofx", "USD", "")
	f.seedLot(t, pf.ID, "LSE1", 2, "GBP")

	pack := f.seedPack(t, "pk-nofx", "2026-03-02",
		map[string]float64{"LSE1": 40},
		map[string]string{"LSE1": "GBP"},
		nil)

	_, err := f.valuer.ValueOne(pf, pack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fx rate")
}

func TestValueOneRerunOverwrites(t *testing.T) {
	f := newEngineFixture(t)
	pf := f.seedPortfolio(t, "pf-rerun", "USD", "")
	f.seedLot(t, pf.ID, "AAPL", 10, "USD")

	pack := f.seedPack(t, "pk-rerun", "2026-03-02", map[string]float64{"AAPL": 100}, nil, nil)

	first, err := f.valuer.ValueOne(pf, pack)
	require.NoError(t, err)
	second, err := f.valuer.ValueOne(pf, pack)
	require.NoError(t, err)
	assert.Equal(t, first.ValueBase, second.ValueBase)

	stored, err := f.repo.GetValueAtOrBefore(pf.ID, pack.AsOfDate)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1000.0, stored.ValueBase)
	assert.Nil(t, stored.DailyReturn)
}
