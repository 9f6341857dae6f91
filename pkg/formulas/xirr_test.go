package formulas_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/pkg/formulas"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestXIRR(t *testing.T) {
	tests := []struct {
		name     string
		flows    []formulas.Flow
		expected float64
	}{
		{
			name: "one year doubling",
			flows: []formulas.Flow{
				{Date: date(2024, 1, 1), Amount: -1000},
				{Date: date(2025, 1, 1), Amount: 2000},
			},
			// 2024 is a leap year, so the span is 366/365 years and the
			// solved rate lands fractionally under 100%.
			expected: 0.9962,
		},
		{
			name: "one year flat",
			flows: []formulas.Flow{
				{Date: date(2024, 1, 1), Amount: -1000},
				{Date: date(2025, 1, 1), Amount: 1000},
			},
			expected: 0.0,
		},
		{
			name: "staggered deposits",
			flows: []formulas.Flow{
				{Date: date(2024, 1, 1), Amount: -10000},
				{Date: date(2024, 7, 1), Amount: -5000},
				{Date: date(2025, 1, 1), Amount: 16500},
			},
			// NPV(r) = -10000 - 5000/(1+r)^0.4986 + 16500/(1+r)^1.0027 = 0
			expected: 0.1201,
		},
		{
			name: "losing money",
			flows: []formulas.Flow{
				{Date: date(2024, 1, 1), Amount: -1000},
				{Date: date(2025, 1, 1), Amount: 800},
			},
			expected: -0.1998,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formulas.XIRR(tt.flows)
			require.NotNil(t, result)
			assert.InDelta(t, tt.expected, *result, 1e-3)
		})
	}
}

func TestXIRRVerifiesNPV(t *testing.T) {
	flows := []formulas.Flow{
		{Date: date(2024, 1, 15), Amount: -25000},
		{Date: date(2024, 3, 10), Amount: -10000},
		{Date: date(2024, 9, 2), Amount: 3000},
		{Date: date(2025, 1, 15), Amount: 36000},
	}

	rate := formulas.XIRR(flows)
	require.NotNil(t, rate)

	// The solved rate must discount the series to zero.
	npv := 0.0
	t0 := flows[0].Date
	for _, f := range flows {
		years := f.Date.Sub(t0).Hours() / 24 / 365
		npv += f.Amount / math.Pow(1+*rate, years)
	}
	assert.InDelta(t, 0.0, npv, 0.01)
}

func TestXIRRDegenerate(t *testing.T) {
	t.Run("fewer than two flows", func(t *testing.T) {
		assert.Nil(t, formulas.XIRR(nil))
		assert.Nil(t, formulas.XIRR([]formulas.Flow{{Date: date(2024, 1, 1), Amount: -1000}}))
	})

	t.Run("no sign change", func(t *testing.T) {
		flows := []formulas.Flow{
			{Date: date(2024, 1, 1), Amount: -1000},
			{Date: date(2025, 1, 1), Amount: -500},
		}
		assert.Nil(t, formulas.XIRR(flows))
	})
}
