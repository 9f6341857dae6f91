package factors

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Factor names as stored in factor_exposures.
const (
	FactorMomentum90 = "momentum_90d"
	FactorTrend50    = "trend_50d"
	FactorRSI14      = "rsi_14"
)

// FactorNames enumerates the computed factors.
var FactorNames = []string{FactorMomentum90, FactorTrend50, FactorRSI14}

// Vector is one security's factor values at a date. Nil means the trailing
// history was too short for that factor's lookback.
type Vector struct {
	SecurityID string   `msgpack:"security_id"`
	AsOfDate   int64    `msgpack:"asof_date"`
	Momentum90 *float64 `msgpack:"momentum_90d"`
	Trend50    *float64 `msgpack:"trend_50d"`
	RSI14      *float64 `msgpack:"rsi_14"`
}

// Factor returns the named factor value, and whether the name is known.
func (v *Vector) Factor(name string) (*float64, bool) {
	switch name {
	case FactorMomentum90:
		return v.Momentum90, true
	case FactorTrend50:
		return v.Trend50, true
	case FactorRSI14:
		return v.RSI14, true
	}
	return nil, false
}

// ComputeVector derives the factor vector from trailing closes, oldest
// first, with the as-of close last.
func ComputeVector(securityID string, asOfDate int64, closes []float64) *Vector {
	return &Vector{
		SecurityID: securityID,
		AsOfDate:   asOfDate,
		Momentum90: rocFactor(closes, 90),
		Trend50:    trendFactor(closes, 50),
		RSI14:      rsiFactor(closes, 14),
	}
}

// rocFactor is the rate of change over period days as a decimal return.
func rocFactor(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	roc := talib.Roc(closes, period)
	last := roc[len(roc)-1]
	if math.IsNaN(last) {
		return nil
	}
	r := last / 100
	return &r
}

// trendFactor is the relative distance of the last close from its simple
// moving average.
func trendFactor(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	sma := talib.Sma(closes, period)
	mean := sma[len(sma)-1]
	if math.IsNaN(mean) || mean == 0 {
		return nil
	}
	r := closes[len(closes)-1]/mean - 1
	return &r
}

// rsiFactor is the 0-100 relative strength index.
func rsiFactor(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	rsi := talib.Rsi(closes, period)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}
