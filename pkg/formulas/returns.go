package formulas

import "math"

// LinkReturns geometrically links a series of periodic returns into a
// cumulative return: TWR = Π(1 + r_t) − 1.
// Returns nil for an empty series so short windows surface as null metrics,
// never as a partial value.
func LinkReturns(returns []float64) *float64 {
	if len(returns) == 0 {
		return nil
	}

	wealth := 1.0
	for _, r := range returns {
		wealth *= 1 + r
	}

	twr := wealth - 1
	return &twr
}

// AnnualizeReturn converts a cumulative return over a span of calendar days
// into an annual rate: (1 + r)^(365/days) − 1.
func AnnualizeReturn(cumulative float64, days int) *float64 {
	if days <= 0 || cumulative <= -1 {
		return nil
	}

	annualized := math.Pow(1+cumulative, 365.0/float64(days)) - 1
	return &annualized
}

// WealthPath reconstructs a cumulative-wealth series from daily returns,
// starting at 1.0. The result has len(returns)+1 points; drawdown analysis
// runs over this path.
func WealthPath(returns []float64) []float64 {
	path := make([]float64, len(returns)+1)
	path[0] = 1.0
	for i, r := range returns {
		path[i+1] = path[i] * (1 + r)
	}
	return path
}

// MaxDrawdown calculates the maximum peak-to-trough decline over a value
// series: max of (running_max − value) / running_max. Returned as a positive
// fraction (0.25 = 25% below peak), nil with fewer than two points.
func MaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// MaxDrawdownFromReturns compounds daily returns into a wealth path and
// returns its maximum drawdown.
func MaxDrawdownFromReturns(returns []float64) *float64 {
	if len(returns) < 1 {
		return nil
	}
	return MaxDrawdown(WealthPath(returns))
}
