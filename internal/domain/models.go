// Package domain holds the shared domain models and typed errors used
// across modules. Interfaces live here when they break import cycles
// between modules and the dependency-injection wiring.
package domain

import "time"

// Security is one instrument in the active universe. Prices are fetched
// and stored in the security's native currency.
type Security struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Active   bool   `json:"active"`
}

// Portfolio is the unit of valuation, metrics, and reconciliation. The
// Account field names the ledger account this portfolio is the book image of.
type Portfolio struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BaseCurrency    string `json:"base_currency"`
	BenchmarkSymbol string `json:"benchmark_symbol"`
	Account         string `json:"account"`
	Active          bool   `json:"active"`
	InceptionDate   int64  `json:"inception_date"`
}

// Lot is an open-quantity position with cost basis.
// Invariants: QuantityOpen <= QuantityOriginal, QuantityOpen >= 0,
// CostPerUnit >= 0. Open lots have QuantityOpen > 0.
type Lot struct {
	ID               string  `json:"id"`
	PortfolioID      string  `json:"portfolio_id"`
	SecurityID       string  `json:"security_id"`
	QuantityOriginal float64 `json:"quantity_original"`
	QuantityOpen     float64 `json:"quantity_open"`
	CostPerUnit      float64 `json:"cost_per_unit"`
	CostCurrency     string  `json:"cost_currency"`
	OpenedAt         int64   `json:"opened_at"`
}

// TransactionType enumerates the typed events a portfolio records.
type TransactionType string

const (
	TxBuy            TransactionType = "buy"
	TxSell           TransactionType = "sell"
	TxDividend       TransactionType = "dividend"
	TxSplit          TransactionType = "split"
	TxWithholdingTax TransactionType = "withholding_tax"
	TxDeposit        TransactionType = "deposit"
	TxWithdrawal     TransactionType = "withdrawal"
	TxFee            TransactionType = "fee"
)

// External reports whether the transaction type is an external flow for
// money-weighted return purposes (cash crossing the portfolio boundary).
func (t TransactionType) External() bool {
	switch t {
	case TxDeposit, TxWithdrawal:
		return true
	}
	return false
}

// Transaction is one typed event in the portfolio's log.
// A dividend paid in a currency other than the portfolio base carries the
// FX rate observed at the pay date, not the ex-date.
type Transaction struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	SecurityID  string          `json:"security_id,omitempty"`
	Type        TransactionType `json:"type"`
	Quantity    float64         `json:"quantity"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	FXRate      *float64        `json:"fx_rate,omitempty"`
	TradeDate   int64           `json:"trade_date"`
	PayDate     *int64          `json:"pay_date,omitempty"`
}

// CashFlow is a signed external flow in base currency, derived from the
// transaction log by the daily-valuation step. Deposits are positive,
// withdrawals negative.
type CashFlow struct {
	PortfolioID string    `json:"portfolio_id"`
	Date        time.Time `json:"date"`
	AmountBase  float64   `json:"amount_base"`
	Kind        string    `json:"kind"`
}
