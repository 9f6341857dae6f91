package formulas

import (
	"math"
	"time"
)

// Flow is one dated amount in an irregular cash-flow series. Sign convention
// follows the investor: money paid in is negative, money received (and the
// terminal value) positive.
type Flow struct {
	Date   time.Time
	Amount float64
}

const (
	xirrMaxIterations = 100
	xirrTolerance     = 1e-9
	xirrLowerBound    = -0.9999
	xirrUpperBound    = 10.0
)

// XIRR solves for the internal rate of return of an irregular cash-flow
// series: the rate where Σ amount_i / (1+rate)^(days_i/365) = 0.
//
// Newton-Raphson from a 10% guess, falling back to bisection when Newton
// diverges or leaves the valid domain. Returns nil when the series has
// fewer than two flows, has no sign change (no root exists), or fails to
// converge.
func XIRR(flows []Flow) *float64 {
	if len(flows) < 2 {
		return nil
	}

	// A root requires at least one positive and one negative flow.
	hasPositive, hasNegative := false, false
	for _, f := range flows {
		if f.Amount > 0 {
			hasPositive = true
		}
		if f.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return nil
	}

	t0 := flows[0].Date
	years := make([]float64, len(flows))
	for i, f := range flows {
		years[i] = f.Date.Sub(t0).Hours() / 24 / 365
	}

	npv := func(rate float64) float64 {
		sum := 0.0
		for i, f := range flows {
			sum += f.Amount / math.Pow(1+rate, years[i])
		}
		return sum
	}

	dnpv := func(rate float64) float64 {
		sum := 0.0
		for i, f := range flows {
			if years[i] == 0 {
				continue
			}
			sum -= years[i] * f.Amount / math.Pow(1+rate, years[i]+1)
		}
		return sum
	}

	// Newton-Raphson
	rate := 0.1
	for i := 0; i < xirrMaxIterations; i++ {
		value := npv(rate)
		if math.Abs(value) < xirrTolerance {
			return &rate
		}

		derivative := dnpv(rate)
		if derivative == 0 || math.IsNaN(derivative) {
			break
		}

		next := rate - value/derivative
		if math.IsNaN(next) || next <= xirrLowerBound || next > xirrUpperBound {
			break
		}

		if math.Abs(next-rate) < xirrTolerance {
			rate = next
			return &rate
		}
		rate = next
	}

	return xirrBisect(npv)
}

// xirrBisect brackets the root over [-99.99%, 1000%] and bisects.
func xirrBisect(npv func(float64) float64) *float64 {
	lo, hi := xirrLowerBound, xirrUpperBound
	fLo, fHi := npv(lo), npv(hi)

	if fLo*fHi > 0 {
		return nil
	}

	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		fMid := npv(mid)

		if math.Abs(fMid) < xirrTolerance || (hi-lo)/2 < xirrTolerance {
			return &mid
		}

		if fLo*fMid < 0 {
			hi = mid
		} else {
			lo = mid
			fLo = fMid
		}
	}

	return nil
}
