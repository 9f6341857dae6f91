package formulas_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/pkg/formulas"
)

func TestLinkReturns(t *testing.T) {
	tests := []struct {
		name     string
		returns  []float64
		expected float64
	}{
		{name: "single return", returns: []float64{0.05}, expected: 0.05},
		// (1.10)(0.90) - 1: a gain and a loss do not cancel.
		{name: "gain then loss", returns: []float64{0.10, -0.10}, expected: -0.01},
		{name: "compounding gains", returns: []float64{0.10, 0.10}, expected: 0.21},
		{name: "total loss", returns: []float64{-1.0, 0.5}, expected: -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formulas.LinkReturns(tt.returns)
			require.NotNil(t, result)
			assert.InDelta(t, tt.expected, *result, 1e-9)
		})
	}
}

func TestLinkReturnsEmpty(t *testing.T) {
	assert.Nil(t, formulas.LinkReturns(nil))
	assert.Nil(t, formulas.LinkReturns([]float64{}))
}

func TestAnnualizeReturn(t *testing.T) {
	tests := []struct {
		name       string
		cumulative float64
		days       int
		expected   float64
	}{
		// 21% over two years annualizes back to 10%.
		{name: "two years of 10 percent", cumulative: 0.21, days: 730, expected: 0.0999},
		{name: "exactly one year unchanged", cumulative: 0.08, days: 365, expected: 0.08},
		// Half a year at 5% compounds to 10.25% annualized.
		{name: "half year extrapolates", cumulative: 0.05, days: 182, expected: 0.1029},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formulas.AnnualizeReturn(tt.cumulative, tt.days)
			require.NotNil(t, result)
			assert.InDelta(t, tt.expected, *result, 1e-3)
		})
	}
}

func TestAnnualizeReturnDegenerate(t *testing.T) {
	assert.Nil(t, formulas.AnnualizeReturn(0.10, 0))
	assert.Nil(t, formulas.AnnualizeReturn(0.10, -5))
	assert.Nil(t, formulas.AnnualizeReturn(-1.0, 365))
}

func TestWealthPath(t *testing.T) {
	path := formulas.WealthPath([]float64{0.10, -0.05, 0.02})
	require.Len(t, path, 4)

	assert.InDelta(t, 1.0, path[0], 1e-9)
	assert.InDelta(t, 1.10, path[1], 1e-9)
	assert.InDelta(t, 1.045, path[2], 1e-9)
	assert.InDelta(t, 1.0659, path[3], 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "monotonic rise has no drawdown", values: []float64{100, 105, 110, 120}, expected: 0.0},
		// Peak 120 to trough 90 is a 25% drawdown.
		{name: "single drawdown", values: []float64{100, 120, 90, 110}, expected: 0.25},
		// Deepest of two drawdowns wins: 100->80 (20%) vs 150->100 (33.3%).
		{name: "deepest of multiple", values: []float64{100, 80, 150, 100, 140}, expected: 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formulas.MaxDrawdown(tt.values)
			require.NotNil(t, result)
			assert.InDelta(t, tt.expected, *result, 1e-9)
		})
	}
}

func TestMaxDrawdownInsufficientData(t *testing.T) {
	assert.Nil(t, formulas.MaxDrawdown(nil))
	assert.Nil(t, formulas.MaxDrawdown([]float64{100}))
}

func TestMaxDrawdownFromReturns(t *testing.T) {
	// Returns +10%, -20%, +5% produce wealth path 1.0, 1.1, 0.88, 0.924.
	result := formulas.MaxDrawdownFromReturns([]float64{0.10, -0.20, 0.05})
	require.NotNil(t, result)
	assert.InDelta(t, 0.20, *result, 1e-9)

	// The wealth path view and the raw value view must agree.
	values := formulas.WealthPath([]float64{0.10, -0.20, 0.05})
	fromValues := formulas.MaxDrawdown(values)
	require.NotNil(t, fromValues)
	assert.InDelta(t, *fromValues, *result, 1e-12)
}

func TestMaxDrawdownFromReturnsEmpty(t *testing.T) {
	assert.Nil(t, formulas.MaxDrawdownFromReturns(nil))
}

func TestReturnIdentities(t *testing.T) {
	// Linking the returns of a price path recovers the path's total return.
	prices := []float64{100, 104, 101, 108, 112}
	returns := formulas.CalculateReturns(prices)

	linked := formulas.LinkReturns(returns)
	require.NotNil(t, linked)

	direct := prices[len(prices)-1]/prices[0] - 1
	assert.True(t, math.Abs(*linked-direct) < 1e-12)
}
