package portfolio_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/portfolio"
	testhelper "github.com/aristath/meridian/internal/testing"
	"github.com/aristath/meridian/internal/utils"
)

func newRepo(t *testing.T) (*portfolio.Repository, func()) {
	t.Helper()
	db, cleanup := testhelper.NewTestDB(t, "portfolio")
	return portfolio.NewRepository(testhelper.GetRawConnection(db), zerolog.Nop()), cleanup
}

func seedPortfolio(t *testing.T, repo *portfolio.Repository, id, account string) {
	t.Helper()
	inception, err := utils.DateToUnix("2024-01-02")
	require.NoError(t, err)
	require.NoError(t, repo.CreatePortfolio(&domain.Portfolio{
		ID:              id,
		Name:            "Growth " + id,
		BaseCurrency:    "USD",
		BenchmarkSymbol: "SPY",
		Account:         account,
		Active:          true,
		InceptionDate:   inception,
	}))
}

func TestPortfolioRoundTrip(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	seedPortfolio(t, repo, "pf_1", "main")

	got, err := repo.GetPortfolio("pf_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "USD", got.BaseCurrency)
	assert.Equal(t, "SPY", got.BenchmarkSymbol)
	assert.True(t, got.Active)

	byAccount, err := repo.GetByAccount("main")
	require.NoError(t, err)
	require.NotNil(t, byAccount)
	assert.Equal(t, "pf_1", byAccount.ID)

	missing, err := repo.GetPortfolio("pf_absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListActiveSkipsInactive(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	seedPortfolio(t, repo, "pf_b", "acct-b")
	seedPortfolio(t, repo, "pf_a", "acct-a")
	require.NoError(t, repo.CreatePortfolio(&domain.Portfolio{
		ID: "pf_closed", Name: "Closed", BaseCurrency: "USD", Account: "acct-c",
		Active: false, InceptionDate: 1,
	}))

	active, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "pf_a", active[0].ID)
	assert.Equal(t, "pf_b", active[1].ID)
}

func TestLotsOpenFilterAndReduce(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	seedPortfolio(t, repo, "pf_1", "main")

	require.NoError(t, repo.CreateLot(&domain.Lot{
		ID: "lot_1", PortfolioID: "pf_1", SecurityID: "AAPL",
		QuantityOriginal: 100, QuantityOpen: 100, CostPerUnit: 150.25,
		CostCurrency: "USD", OpenedAt: 10,
	}))
	require.NoError(t, repo.CreateLot(&domain.Lot{
		ID: "lot_2", PortfolioID: "pf_1", SecurityID: "AAPL",
		QuantityOriginal: 50, QuantityOpen: 50, CostPerUnit: 172.00,
		CostCurrency: "USD", OpenedAt: 20,
	}))
	require.NoError(t, repo.CreateLot(&domain.Lot{
		ID: "lot_closed", PortfolioID: "pf_1", SecurityID: "MSFT",
		QuantityOriginal: 10, QuantityOpen: 0, CostPerUnit: 300,
		CostCurrency: "USD", OpenedAt: 5,
	}))

	open, err := repo.GetOpenLots("pf_1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "lot_1", open[0].ID) // oldest first

	grouped, err := repo.GetOpenLotsBySecurity("pf_1")
	require.NoError(t, err)
	require.Len(t, grouped["AAPL"], 2)
	assert.Empty(t, grouped["MSFT"])

	// Partial sell closes part of the first lot.
	require.NoError(t, repo.ReduceLot("lot_1", 40))
	open, err = repo.GetOpenLots("pf_1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, open[0].QuantityOpen)

	// Reducing below zero violates the CHECK constraint.
	require.Error(t, repo.ReduceLot("lot_2", 51))

	require.Error(t, repo.ReduceLot("lot_absent", 1))
}

func TestTransactionLogAndExternalFlows(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	seedPortfolio(t, repo, "pf_1", "main")

	fxRate := 1.0862
	payDate := int64(400)
	records := []domain.Transaction{
		{ID: "tx_1", PortfolioID: "pf_1", SecurityID: "AAPL", Type: domain.TxBuy,
			Quantity: 100, Amount: -15025, Currency: "USD", TradeDate: 100},
		{ID: "tx_2", PortfolioID: "pf_1", Type: domain.TxDeposit,
			Amount: 50000, Currency: "USD", TradeDate: 200},
		{ID: "tx_3", PortfolioID: "pf_1", Type: domain.TxWithdrawal,
			Amount: -10000, Currency: "USD", TradeDate: 300},
		{ID: "tx_4", PortfolioID: "pf_1", SecurityID: "SAP.DE", Type: domain.TxDividend,
			Amount: 120.50, Currency: "EUR", FXRate: &fxRate, TradeDate: 300, PayDate: &payDate},
	}
	for i := range records {
		require.NoError(t, repo.RecordTransaction(&records[i]))
	}

	all, err := repo.GetTransactions("pf_1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// Dividend keeps its pay-date FX rate and nullable fields survive.
	div := all[3]
	assert.Equal(t, domain.TxDividend, div.Type)
	require.NotNil(t, div.FXRate)
	assert.Equal(t, 1.0862, *div.FXRate)
	require.NotNil(t, div.PayDate)
	assert.Equal(t, int64(400), *div.PayDate)
	assert.Equal(t, "SAP.DE", div.SecurityID)

	// Buy has no pay date or fx rate.
	assert.Nil(t, all[0].FXRate)
	assert.Nil(t, all[0].PayDate)

	// Date window is inclusive on both ends.
	window, err := repo.GetTransactions("pf_1", 200, 300)
	require.NoError(t, err)
	assert.Len(t, window, 3)

	flows, err := repo.GetExternalFlows("pf_1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, domain.TxDeposit, flows[0].Type)
	assert.Equal(t, domain.TxWithdrawal, flows[1].Type)
}

func TestCashBalances(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	seedPortfolio(t, repo, "pf_1", "main")

	require.NoError(t, repo.SetCashBalance("pf_1", "USD", 12500.00))
	require.NoError(t, repo.SetCashBalance("pf_1", "EUR", 830.25))

	// Upsert overwrites.
	require.NoError(t, repo.SetCashBalance("pf_1", "USD", 9000.00))

	// Adjust adds, creating absent buckets.
	require.NoError(t, repo.AdjustCashBalance("pf_1", "USD", -500.00))
	require.NoError(t, repo.AdjustCashBalance("pf_1", "GBP", 100.00))

	balances, err := repo.GetCashBalances("pf_1")
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, "EUR", balances[0].Currency)
	assert.Equal(t, 830.25, balances[0].Balance)
	assert.Equal(t, "GBP", balances[1].Currency)
	assert.Equal(t, 100.00, balances[1].Balance)
	assert.Equal(t, "USD", balances[2].Currency)
	assert.Equal(t, 8500.00, balances[2].Balance)
}
