package formulas

import "math"

// SharpeRatio calculates (annualized_return − rf) / annualized_volatility
// from a daily return series. The risk-free rate is annual, as a decimal.
// Returns nil with fewer than two observations or zero volatility.
func SharpeRatio(dailyReturns []float64, riskFreeRate float64) *float64 {
	if len(dailyReturns) < 2 {
		return nil
	}

	vol := AnnualizedVolatility(dailyReturns)
	if vol == nil || *vol == 0 {
		return nil
	}

	cumulative := LinkReturns(dailyReturns)
	if cumulative == nil {
		return nil
	}

	// Daily series: annualize over the observed trading-day count.
	annualized := math.Pow(1+*cumulative, TradingDaysPerYear/float64(len(dailyReturns))) - 1

	sharpe := (annualized - riskFreeRate) / *vol
	return &sharpe
}

// Beta calculates cov(portfolio, benchmark) / var(benchmark) over aligned
// daily return series. Returns nil on length mismatch, fewer than two
// observations, or zero benchmark variance.
func Beta(portfolio, benchmark []float64) *float64 {
	if len(portfolio) != len(benchmark) || len(portfolio) < 2 {
		return nil
	}

	benchVar := Variance(benchmark)
	if benchVar == 0 {
		return nil
	}

	beta := Covariance(portfolio, benchmark) / benchVar
	return &beta
}

// Alpha calculates the excess of the annualized portfolio return over the
// beta-weighted annualized benchmark return.
func Alpha(portfolio, benchmark []float64) *float64 {
	beta := Beta(portfolio, benchmark)
	if beta == nil {
		return nil
	}

	pCum := LinkReturns(portfolio)
	bCum := LinkReturns(benchmark)
	if pCum == nil || bCum == nil {
		return nil
	}

	n := float64(len(portfolio))
	pAnnual := math.Pow(1+*pCum, TradingDaysPerYear/n) - 1
	bAnnual := math.Pow(1+*bCum, TradingDaysPerYear/n) - 1

	alpha := pAnnual - *beta*bAnnual
	return &alpha
}

// TrackingError calculates the annualized standard deviation of the
// portfolio-minus-benchmark return series.
func TrackingError(portfolio, benchmark []float64) *float64 {
	if len(portfolio) != len(benchmark) || len(portfolio) < 2 {
		return nil
	}

	diffs := make([]float64, len(portfolio))
	for i := range portfolio {
		diffs[i] = portfolio[i] - benchmark[i]
	}

	return AnnualizedVolatility(diffs)
}

// InformationRatio calculates alpha / tracking_error. Returns nil when
// either input is undefined or tracking error is zero.
func InformationRatio(portfolio, benchmark []float64) *float64 {
	alpha := Alpha(portfolio, benchmark)
	te := TrackingError(portfolio, benchmark)
	if alpha == nil || te == nil || *te == 0 {
		return nil
	}

	ir := *alpha / *te
	return &ir
}
