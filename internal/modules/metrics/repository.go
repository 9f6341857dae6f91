package metrics

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists derived analytics in derived.db. All writes UPSERT on
// the (portfolio, asof_date, pack) key so re-running a job for the same
// pack converges instead of duplicating. Reads that span dates pick, per
// date, the most recently written row: a restatement re-runs the jobs with
// the new pack, so the latest write is the current truth.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a derived-analytics repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "metrics").Logger(),
	}
}

// --- daily values ---

// UpsertDailyValue writes one valuation row.
func (r *Repository) UpsertDailyValue(dv *DailyValue) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`INSERT INTO portfolio_daily_values
		(portfolio_id, asof_date, pricing_pack_id, value_base, net_external_flow, daily_return, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, asof_date, pricing_pack_id) DO UPDATE SET
			value_base = excluded.value_base,
			net_external_flow = excluded.net_external_flow,
			daily_return = excluded.daily_return,
			updated_at = excluded.updated_at`,
		dv.PortfolioID, dv.AsOfDate, dv.PricingPackID, dv.ValueBase,
		dv.NetExternalFlow, dv.DailyReturn, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert daily value: %w", err)
	}
	return nil
}

// GetValueAtOrBefore returns the latest valuation at or before the date, or
// nil when the portfolio has no history there.
func (r *Repository) GetValueAtOrBefore(portfolioID string, date int64) (*DailyValue, error) {
	row := r.db.QueryRow(`SELECT portfolio_id, asof_date, pricing_pack_id, value_base,
			net_external_flow, daily_return, created_at, updated_at
		FROM portfolio_daily_values
		WHERE portfolio_id = ? AND asof_date <= ?
		ORDER BY asof_date DESC, rowid DESC LIMIT 1`, portfolioID, date)
	return scanDailyValue(row)
}

// GetValueBefore returns the latest valuation strictly before the date.
func (r *Repository) GetValueBefore(portfolioID string, date int64) (*DailyValue, error) {
	row := r.db.QueryRow(`SELECT portfolio_id, asof_date, pricing_pack_id, value_base,
			net_external_flow, daily_return, created_at, updated_at
		FROM portfolio_daily_values
		WHERE portfolio_id = ? AND asof_date < ?
		ORDER BY asof_date DESC, rowid DESC LIMIT 1`, portfolioID, date)
	return scanDailyValue(row)
}

// FirstValueDate returns the portfolio's earliest valuation date, or 0 when
// it has none. Window completeness checks hang off this.
func (r *Repository) FirstValueDate(portfolioID string) (int64, error) {
	var first sql.NullInt64
	err := r.db.QueryRow(`SELECT MIN(asof_date) FROM portfolio_daily_values
		WHERE portfolio_id = ?`, portfolioID).Scan(&first)
	if err != nil {
		return 0, fmt.Errorf("failed to query first value date: %w", err)
	}
	if !first.Valid {
		return 0, nil
	}
	return first.Int64, nil
}

// GetReturnSeries returns the portfolio's daily returns with dates in
// (after, until], oldest first, one point per date.
func (r *Repository) GetReturnSeries(portfolioID string, after, until int64) ([]ReturnPoint, error) {
	rows, err := r.db.Query(`SELECT d.asof_date, d.daily_return
		FROM portfolio_daily_values d
		JOIN (SELECT asof_date, MAX(rowid) AS rid
		      FROM portfolio_daily_values
		      WHERE portfolio_id = ?
		      GROUP BY asof_date) latest ON d.rowid = latest.rid
		WHERE d.asof_date > ? AND d.asof_date <= ? AND d.daily_return IS NOT NULL
		ORDER BY d.asof_date`, portfolioID, after, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query return series: %w", err)
	}
	defer rows.Close()

	var series []ReturnPoint
	for rows.Next() {
		var p ReturnPoint
		if err := rows.Scan(&p.Date, &p.Return); err != nil {
			return nil, fmt.Errorf("failed to scan return point: %w", err)
		}
		series = append(series, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating return series: %w", err)
	}
	return series, nil
}

func scanDailyValue(row *sql.Row) (*DailyValue, error) {
	var dv DailyValue
	var dailyReturn sql.NullFloat64
	err := row.Scan(&dv.PortfolioID, &dv.AsOfDate, &dv.PricingPackID, &dv.ValueBase,
		&dv.NetExternalFlow, &dailyReturn, &dv.CreatedAt, &dv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily value: %w", err)
	}
	if dailyReturn.Valid {
		dv.DailyReturn = &dailyReturn.Float64
	}
	return &dv, nil
}

// --- metrics rows ---

// UpsertMetrics writes one portfolio_metrics row.
func (r *Repository) UpsertMetrics(row *Row) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`INSERT INTO portfolio_metrics
		(portfolio_id, asof_date, pricing_pack_id,
		 twr_1d, twr_mtd, twr_qtd, twr_ytd, twr_1y,
		 twr_3y_annualized, twr_5y_annualized, twr_inception_annualized,
		 mwr_3y, mwr_5y, mwr_inception,
		 volatility_30d, volatility_90d, volatility_1y,
		 sharpe_1y, alpha_1y, beta_1y, tracking_error_1y, information_ratio_1y,
		 max_drawdown_1y, max_drawdown_inception,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, asof_date, pricing_pack_id) DO UPDATE SET
			twr_1d = excluded.twr_1d,
			twr_mtd = excluded.twr_mtd,
			twr_qtd = excluded.twr_qtd,
			twr_ytd = excluded.twr_ytd,
			twr_1y = excluded.twr_1y,
			twr_3y_annualized = excluded.twr_3y_annualized,
			twr_5y_annualized = excluded.twr_5y_annualized,
			twr_inception_annualized = excluded.twr_inception_annualized,
			mwr_3y = excluded.mwr_3y,
			mwr_5y = excluded.mwr_5y,
			mwr_inception = excluded.mwr_inception,
			volatility_30d = excluded.volatility_30d,
			volatility_90d = excluded.volatility_90d,
			volatility_1y = excluded.volatility_1y,
			sharpe_1y = excluded.sharpe_1y,
			alpha_1y = excluded.alpha_1y,
			beta_1y = excluded.beta_1y,
			tracking_error_1y = excluded.tracking_error_1y,
			information_ratio_1y = excluded.information_ratio_1y,
			max_drawdown_1y = excluded.max_drawdown_1y,
			max_drawdown_inception = excluded.max_drawdown_inception,
			updated_at = excluded.updated_at`,
		row.PortfolioID, row.AsOfDate, row.PricingPackID,
		row.TWR1D, row.TWRMTD, row.TWRQTD, row.TWRYTD, row.TWR1Y,
		row.TWR3YAnnualized, row.TWR5YAnnualized, row.TWRInceptionAnnualized,
		row.MWR3Y, row.MWR5Y, row.MWRInception,
		row.Volatility30D, row.Volatility90D, row.Volatility1Y,
		row.Sharpe1Y, row.Alpha1Y, row.Beta1Y, row.TrackingError1Y, row.InformationRatio1Y,
		row.MaxDrawdown1Y, row.MaxDrawdownInception,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics: %w", err)
	}
	return nil
}

const selectMetrics = `SELECT portfolio_id, asof_date, pricing_pack_id,
	twr_1d, twr_mtd, twr_qtd, twr_ytd, twr_1y,
	twr_3y_annualized, twr_5y_annualized, twr_inception_annualized,
	mwr_3y, mwr_5y, mwr_inception,
	volatility_30d, volatility_90d, volatility_1y,
	sharpe_1y, alpha_1y, beta_1y, tracking_error_1y, information_ratio_1y,
	max_drawdown_1y, max_drawdown_inception,
	created_at, updated_at
	FROM portfolio_metrics`

// GetMetrics returns the row for an exact (portfolio, date, pack) key.
func (r *Repository) GetMetrics(portfolioID string, asOfDate int64, packID string) (*Row, error) {
	row := r.db.QueryRow(selectMetrics+` WHERE portfolio_id = ? AND asof_date = ? AND pricing_pack_id = ?`,
		portfolioID, asOfDate, packID)
	return scanMetrics(row)
}

// GetLatestMetrics returns the portfolio's most recent metrics row, or nil.
func (r *Repository) GetLatestMetrics(portfolioID string) (*Row, error) {
	row := r.db.QueryRow(selectMetrics+` WHERE portfolio_id = ?
		ORDER BY asof_date DESC, rowid DESC LIMIT 1`, portfolioID)
	return scanMetrics(row)
}

func scanMetrics(row *sql.Row) (*Row, error) {
	var m Row
	var vals [21]sql.NullFloat64
	err := row.Scan(&m.PortfolioID, &m.AsOfDate, &m.PricingPackID,
		&vals[0], &vals[1], &vals[2], &vals[3], &vals[4],
		&vals[5], &vals[6], &vals[7],
		&vals[8], &vals[9], &vals[10],
		&vals[11], &vals[12], &vals[13],
		&vals[14], &vals[15], &vals[16], &vals[17], &vals[18],
		&vals[19], &vals[20],
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan metrics: %w", err)
	}

	targets := []**float64{
		&m.TWR1D, &m.TWRMTD, &m.TWRQTD, &m.TWRYTD, &m.TWR1Y,
		&m.TWR3YAnnualized, &m.TWR5YAnnualized, &m.TWRInceptionAnnualized,
		&m.MWR3Y, &m.MWR5Y, &m.MWRInception,
		&m.Volatility30D, &m.Volatility90D, &m.Volatility1Y,
		&m.Sharpe1Y, &m.Alpha1Y, &m.Beta1Y, &m.TrackingError1Y, &m.InformationRatio1Y,
		&m.MaxDrawdown1Y, &m.MaxDrawdownInception,
	}
	for i, v := range vals {
		if v.Valid {
			f := v.Float64
			*targets[i] = &f
		}
	}
	return &m, nil
}

// --- attribution ---

// UpsertAttribution writes one date's attribution rows in a transaction.
func (r *Repository) UpsertAttribution(rows []AttributionRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO currency_attribution
		(portfolio_id, asof_date, pricing_pack_id, currency, weight,
		 r_local, r_fx, r_interaction, r_base, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, asof_date, pricing_pack_id, currency) DO UPDATE SET
			weight = excluded.weight,
			r_local = excluded.r_local,
			r_fx = excluded.r_fx,
			r_interaction = excluded.r_interaction,
			r_base = excluded.r_base,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare attribution upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, a := range rows {
		if _, err := stmt.Exec(a.PortfolioID, a.AsOfDate, a.PricingPackID, a.Currency,
			a.Weight, a.RLocal, a.RFX, a.RInteraction, a.RBase, now, now); err != nil {
			return fmt.Errorf("failed to upsert attribution row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attribution: %w", err)
	}
	return nil
}

// GetAttribution returns one (portfolio, date, pack) decomposition ordered
// with the portfolio row first, then currencies alphabetically.
func (r *Repository) GetAttribution(portfolioID string, asOfDate int64, packID string) ([]AttributionRow, error) {
	rows, err := r.db.Query(`SELECT portfolio_id, asof_date, pricing_pack_id, currency, weight,
			r_local, r_fx, r_interaction, r_base, created_at, updated_at
		FROM currency_attribution
		WHERE portfolio_id = ? AND asof_date = ? AND pricing_pack_id = ?
		ORDER BY CASE WHEN currency = '*' THEN 0 ELSE 1 END, currency`,
		portfolioID, asOfDate, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribution: %w", err)
	}
	defer rows.Close()

	var result []AttributionRow
	for rows.Next() {
		var a AttributionRow
		if err := rows.Scan(&a.PortfolioID, &a.AsOfDate, &a.PricingPackID, &a.Currency,
			&a.Weight, &a.RLocal, &a.RFX, &a.RInteraction, &a.RBase,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribution row: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attribution: %w", err)
	}
	return result, nil
}

// --- cash flows ---

// UpsertCashFlows writes derived external flows.
func (r *Repository) UpsertCashFlows(flows []FlowRow) error {
	if len(flows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO cash_flows
		(portfolio_id, flow_date, amount_base, kind, pricing_pack_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, flow_date, kind, pricing_pack_id) DO UPDATE SET
			amount_base = excluded.amount_base`)
	if err != nil {
		return fmt.Errorf("failed to prepare cash flow upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range flows {
		if _, err := stmt.Exec(f.PortfolioID, f.FlowDate, f.AmountBase, f.Kind, f.PricingPackID); err != nil {
			return fmt.Errorf("failed to upsert cash flow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cash flows: %w", err)
	}
	return nil
}

// GetCashFlows returns flows with dates in (after, until], oldest first,
// one row per (date, kind).
func (r *Repository) GetCashFlows(portfolioID string, after, until int64) ([]FlowRow, error) {
	rows, err := r.db.Query(`SELECT f.portfolio_id, f.flow_date, f.amount_base, f.kind, f.pricing_pack_id
		FROM cash_flows f
		JOIN (SELECT flow_date, kind, MAX(rowid) AS rid
		      FROM cash_flows
		      WHERE portfolio_id = ?
		      GROUP BY flow_date, kind) latest ON f.rowid = latest.rid
		WHERE f.flow_date > ? AND f.flow_date <= ?
		ORDER BY f.flow_date, f.kind`, portfolioID, after, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	var flows []FlowRow
	for rows.Next() {
		var f FlowRow
		if err := rows.Scan(&f.PortfolioID, &f.FlowDate, &f.AmountBase, &f.Kind, &f.PricingPackID); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}
	return flows, nil
}
