package portfolio

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
)

// CashBalance is one currency bucket of a portfolio's cash.
type CashBalance struct {
	PortfolioID string  `json:"portfolio_id"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
}

// Repository handles portfolio state: portfolios, open lots, the
// transaction log, and cash balances. All tables live in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// --- portfolios ---

const selectPortfolio = `SELECT id, name, base_currency, benchmark_symbol, account, active, inception_date
	FROM portfolios`

// CreatePortfolio inserts a portfolio row.
func (r *Repository) CreatePortfolio(p *domain.Portfolio) error {
	_, err := r.db.Exec(`INSERT INTO portfolios
		(id, name, base_currency, benchmark_symbol, account, active, inception_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.BaseCurrency, p.BenchmarkSymbol, p.Account, boolToInt(p.Active), p.InceptionDate)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}
	return nil
}

// GetPortfolio returns the portfolio by id, or nil when absent.
func (r *Repository) GetPortfolio(id string) (*domain.Portfolio, error) {
	row := r.db.QueryRow(selectPortfolio+` WHERE id = ?`, id)
	return scanPortfolio(row)
}

// GetByAccount returns the portfolio mapped to a ledger account, or nil.
func (r *Repository) GetByAccount(account string) (*domain.Portfolio, error) {
	row := r.db.QueryRow(selectPortfolio+` WHERE account = ?`, account)
	return scanPortfolio(row)
}

// ListActive returns all active portfolios ordered by id.
func (r *Repository) ListActive() ([]domain.Portfolio, error) {
	rows, err := r.db.Query(selectPortfolio + ` WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.BenchmarkSymbol,
			&p.Account, &active, &p.InceptionDate); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		p.Active = active != 0
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

func scanPortfolio(row *sql.Row) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var active int
	err := row.Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.BenchmarkSymbol,
		&p.Account, &active, &p.InceptionDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan portfolio: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}

// --- lots ---

const selectLot = `SELECT id, portfolio_id, security_id, quantity_original, quantity_open,
	cost_per_unit, cost_currency, opened_at FROM lots`

// CreateLot inserts a lot row.
func (r *Repository) CreateLot(lot *domain.Lot) error {
	_, err := r.db.Exec(`INSERT INTO lots
		(id, portfolio_id, security_id, quantity_original, quantity_open,
		 cost_per_unit, cost_currency, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.PortfolioID, lot.SecurityID, lot.QuantityOriginal, lot.QuantityOpen,
		lot.CostPerUnit, lot.CostCurrency, lot.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

// GetOpenLots returns the portfolio's lots with open quantity, oldest first.
func (r *Repository) GetOpenLots(portfolioID string) ([]domain.Lot, error) {
	rows, err := r.db.Query(selectLot+` WHERE portfolio_id = ? AND quantity_open > 0
		ORDER BY opened_at, id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()
	return collectLots(rows)
}

// GetOpenLotsBySecurity returns the portfolio's open lots grouped by
// security id.
func (r *Repository) GetOpenLotsBySecurity(portfolioID string) (map[string][]domain.Lot, error) {
	lots, err := r.GetOpenLots(portfolioID)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]domain.Lot, len(lots))
	for _, lot := range lots {
		grouped[lot.SecurityID] = append(grouped[lot.SecurityID], lot)
	}
	return grouped, nil
}

// HeldSecurities returns the distinct security ids with open lots across
// active portfolios, ordered by id. The sentiment sync uses it to scope
// provider fetches to what is actually held.
func (r *Repository) HeldSecurities() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT l.security_id FROM lots l
		JOIN portfolios p ON p.id = l.portfolio_id
		WHERE p.active = 1 AND l.quantity_open > 0
		ORDER BY l.security_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query held securities: %w", err)
	}
	defer rows.Close()

	var securities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan security id: %w", err)
		}
		securities = append(securities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}
	return securities, nil
}

// ReduceLot decrements a lot's open quantity, e.g. after a sell. The CHECK
// constraints reject reductions below zero.
func (r *Repository) ReduceLot(lotID string, quantity float64) error {
	result, err := r.db.Exec(`UPDATE lots SET quantity_open = quantity_open - ?
		WHERE id = ?`, quantity, lotID)
	if err != nil {
		return fmt.Errorf("failed to reduce lot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lot update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("lot %s not found", lotID)
	}
	return nil
}

func collectLots(rows *sql.Rows) ([]domain.Lot, error) {
	var lots []domain.Lot
	for rows.Next() {
		var lot domain.Lot
		if err := rows.Scan(&lot.ID, &lot.PortfolioID, &lot.SecurityID,
			&lot.QuantityOriginal, &lot.QuantityOpen,
			&lot.CostPerUnit, &lot.CostCurrency, &lot.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

// --- transactions ---

const selectTransaction = `SELECT id, portfolio_id, security_id, type, quantity, amount,
	currency, fx_rate, trade_date, pay_date FROM transactions`

// RecordTransaction appends one event to the portfolio's log.
func (r *Repository) RecordTransaction(tx *domain.Transaction) error {
	var securityID interface{}
	if tx.SecurityID != "" {
		securityID = tx.SecurityID
	}
	_, err := r.db.Exec(`INSERT INTO transactions
		(id, portfolio_id, security_id, type, quantity, amount, currency, fx_rate, trade_date, pay_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.PortfolioID, securityID, string(tx.Type), tx.Quantity, tx.Amount,
		tx.Currency, tx.FXRate, tx.TradeDate, tx.PayDate)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransactions returns the portfolio's transactions with trade_date in
// [from, to] inclusive, oldest first.
func (r *Repository) GetTransactions(portfolioID string, from, to int64) ([]domain.Transaction, error) {
	rows, err := r.db.Query(selectTransaction+` WHERE portfolio_id = ?
		AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date, id`, portfolioID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetExternalFlows returns only the external flows (deposits and
// withdrawals) in [from, to] inclusive, oldest first. These feed the
// money-weighted return and the daily flow adjustment.
func (r *Repository) GetExternalFlows(portfolioID string, from, to int64) ([]domain.Transaction, error) {
	rows, err := r.db.Query(selectTransaction+` WHERE portfolio_id = ?
		AND type IN ('deposit', 'withdrawal')
		AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date, id`, portfolioID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query external flows: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var securityID sql.NullString
		var txType string
		var fxRate sql.NullFloat64
		var payDate sql.NullInt64
		if err := rows.Scan(&tx.ID, &tx.PortfolioID, &securityID, &txType,
			&tx.Quantity, &tx.Amount, &tx.Currency, &fxRate, &tx.TradeDate, &payDate); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.SecurityID = securityID.String
		tx.Type = domain.TransactionType(txType)
		if fxRate.Valid {
			tx.FXRate = &fxRate.Float64
		}
		if payDate.Valid {
			tx.PayDate = &payDate.Int64
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// --- cash ---

// SetCashBalance upserts one currency bucket of a portfolio's cash.
func (r *Repository) SetCashBalance(portfolioID, currency string, balance float64) error {
	_, err := r.db.Exec(`INSERT INTO cash_balances (portfolio_id, currency, balance)
		VALUES (?, ?, ?)
		ON CONFLICT(portfolio_id, currency) DO UPDATE SET balance = excluded.balance`,
		portfolioID, currency, balance)
	if err != nil {
		return fmt.Errorf("failed to set cash balance: %w", err)
	}
	return nil
}

// AdjustCashBalance adds delta to one currency bucket, creating it at the
// delta when absent.
func (r *Repository) AdjustCashBalance(portfolioID, currency string, delta float64) error {
	_, err := r.db.Exec(`INSERT INTO cash_balances (portfolio_id, currency, balance)
		VALUES (?, ?, ?)
		ON CONFLICT(portfolio_id, currency) DO UPDATE SET balance = balance + excluded.balance`,
		portfolioID, currency, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust cash balance: %w", err)
	}
	return nil
}

// GetCashBalances returns the portfolio's cash buckets ordered by currency.
func (r *Repository) GetCashBalances(portfolioID string) ([]CashBalance, error) {
	rows, err := r.db.Query(`SELECT portfolio_id, currency, balance FROM cash_balances
		WHERE portfolio_id = ? ORDER BY currency`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash balances: %w", err)
	}
	defer rows.Close()

	var balances []CashBalance
	for rows.Next() {
		var cb CashBalance
		if err := rows.Scan(&cb.PortfolioID, &cb.Currency, &cb.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan cash balance: %w", err)
		}
		balances = append(balances, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash balances: %w", err)
	}
	return balances, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
