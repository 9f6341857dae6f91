// Package metrics computes and persists derived portfolio analytics: daily
// valuations, rolling performance and risk metrics, and the currency
// decomposition of returns. Every row carries the pricing pack it was
// computed from.
package metrics

// DailyValue is one portfolio valuation at a pack's as-of date.
// DailyReturn is null on the portfolio's first valuation day.
type DailyValue struct {
	PortfolioID     string   `json:"portfolio_id"`
	AsOfDate        int64    `json:"asof_date"`
	PricingPackID   string   `json:"pricing_pack_id"`
	ValueBase       float64  `json:"value_base"`
	NetExternalFlow float64  `json:"net_external_flow"`
	DailyReturn     *float64 `json:"daily_return,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

// Row is one portfolio_metrics row. Nil means the window could not be
// computed (short history, missing benchmark), never a partial value.
type Row struct {
	PortfolioID   string `json:"portfolio_id"`
	AsOfDate      int64  `json:"asof_date"`
	PricingPackID string `json:"pricing_pack_id"`

	TWR1D                  *float64 `json:"twr_1d,omitempty"`
	TWRMTD                 *float64 `json:"twr_mtd,omitempty"`
	TWRQTD                 *float64 `json:"twr_qtd,omitempty"`
	TWRYTD                 *float64 `json:"twr_ytd,omitempty"`
	TWR1Y                  *float64 `json:"twr_1y,omitempty"`
	TWR3YAnnualized        *float64 `json:"twr_3y_annualized,omitempty"`
	TWR5YAnnualized        *float64 `json:"twr_5y_annualized,omitempty"`
	TWRInceptionAnnualized *float64 `json:"twr_inception_annualized,omitempty"`

	MWR3Y        *float64 `json:"mwr_3y,omitempty"`
	MWR5Y        *float64 `json:"mwr_5y,omitempty"`
	MWRInception *float64 `json:"mwr_inception,omitempty"`

	Volatility30D *float64 `json:"volatility_30d,omitempty"`
	Volatility90D *float64 `json:"volatility_90d,omitempty"`
	Volatility1Y  *float64 `json:"volatility_1y,omitempty"`

	Sharpe1Y           *float64 `json:"sharpe_1y,omitempty"`
	Alpha1Y            *float64 `json:"alpha_1y,omitempty"`
	Beta1Y             *float64 `json:"beta_1y,omitempty"`
	TrackingError1Y    *float64 `json:"tracking_error_1y,omitempty"`
	InformationRatio1Y *float64 `json:"information_ratio_1y,omitempty"`

	MaxDrawdown1Y        *float64 `json:"max_drawdown_1y,omitempty"`
	MaxDrawdownInception *float64 `json:"max_drawdown_inception,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// MetricNames enumerates the queryable metric columns. Alert conditions
// validate against this vocabulary.
var MetricNames = []string{
	"twr_1d", "twr_mtd", "twr_qtd", "twr_ytd", "twr_1y",
	"twr_3y_annualized", "twr_5y_annualized", "twr_inception_annualized",
	"mwr_3y", "mwr_5y", "mwr_inception",
	"volatility_30d", "volatility_90d", "volatility_1y",
	"sharpe_1y", "alpha_1y", "beta_1y", "tracking_error_1y", "information_ratio_1y",
	"max_drawdown_1y", "max_drawdown_inception",
}

// Metric returns the named metric column, and whether the name is known.
func (r *Row) Metric(name string) (*float64, bool) {
	switch name {
	case "twr_1d":
		return r.TWR1D, true
	case "twr_mtd":
		return r.TWRMTD, true
	case "twr_qtd":
		return r.TWRQTD, true
	case "twr_ytd":
		return r.TWRYTD, true
	case "twr_1y":
		return r.TWR1Y, true
	case "twr_3y_annualized":
		return r.TWR3YAnnualized, true
	case "twr_5y_annualized":
		return r.TWR5YAnnualized, true
	case "twr_inception_annualized":
		return r.TWRInceptionAnnualized, true
	case "mwr_3y":
		return r.MWR3Y, true
	case "mwr_5y":
		return r.MWR5Y, true
	case "mwr_inception":
		return r.MWRInception, true
	case "volatility_30d":
		return r.Volatility30D, true
	case "volatility_90d":
		return r.Volatility90D, true
	case "volatility_1y":
		return r.Volatility1Y, true
	case "sharpe_1y":
		return r.Sharpe1Y, true
	case "alpha_1y":
		return r.Alpha1Y, true
	case "beta_1y":
		return r.Beta1Y, true
	case "tracking_error_1y":
		return r.TrackingError1Y, true
	case "information_ratio_1y":
		return r.InformationRatio1Y, true
	case "max_drawdown_1y":
		return r.MaxDrawdown1Y, true
	case "max_drawdown_inception":
		return r.MaxDrawdownInception, true
	}
	return nil, false
}

// IsMetricName reports whether name is a queryable metric column.
func IsMetricName(name string) bool {
	for _, n := range MetricNames {
		if n == name {
			return true
		}
	}
	return false
}

// AttributionRow is one currency bucket of the daily return decomposition.
// Currency "*" holds the portfolio-level weight-sum.
type AttributionRow struct {
	PortfolioID   string  `json:"portfolio_id"`
	AsOfDate      int64   `json:"asof_date"`
	PricingPackID string  `json:"pricing_pack_id"`
	Currency      string  `json:"currency"`
	Weight        float64 `json:"weight"`
	RLocal        float64 `json:"r_local"`
	RFX           float64 `json:"r_fx"`
	RInteraction  float64 `json:"r_interaction"`
	RBase         float64 `json:"r_base"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// PortfolioCurrency marks the portfolio-level attribution row.
const PortfolioCurrency = "*"

// FlowRow is one derived external flow in base currency, input to the
// money-weighted return. Signs are portfolio-perspective: deposits
// positive, withdrawals negative.
type FlowRow struct {
	PortfolioID   string  `json:"portfolio_id"`
	FlowDate      int64   `json:"flow_date"`
	AmountBase    float64 `json:"amount_base"`
	Kind          string  `json:"kind"`
	PricingPackID string  `json:"pricing_pack_id"`
}

// ReturnPoint is one persisted daily return.
type ReturnPoint struct {
	Date   int64
	Return float64
}
