package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

func curveOf(values ...float64) models.EquityCurve {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, len(values))
	for i := range values {
		dates[i] = start.AddDate(0, 0, i)
	}
	return models.EquityCurve{Dates: dates, Values: values}
}

func buy(price, value float64) models.Trade {
	return models.Trade{Action: models.ActionBuy, Price: price, Shares: value / price, Value: value}
}

func fixedOpts(capital float64) Options {
	return Options{Mode: models.SizingFixed, InitialCapital: capital, PositionSize: capital}
}

func assertAllFinite(t *testing.T, m models.PerformanceMetrics) {
	t.Helper()
	for name, v := range map[string]float64{
		"total":      m.TotalReturn,
		"annualized": m.AnnualizedReturn,
		"sharpe":     m.SharpeRatio,
		"sortino":    m.SortinoRatio,
		"drawdown":   m.MaxDrawdown,
		"win":        m.WinRate,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", name, v)
	}
}

func TestComputeFiveDayScenario(t *testing.T) {
	shares := 10000.0 / 102
	curve := curveOf(10000, 10000, shares*101, shares*105, shares*110)
	trades := []models.Trade{buy(102, 10000)}

	m, err := Compute(curve, trades, fixedOpts(10000))
	require.NoError(t, err)

	assert.InDelta(t, 0.0784, m.TotalReturn, 1e-4)
	assert.InDelta(t, 0.0098, m.MaxDrawdown, 1e-4)
	assert.InDelta(t, 10784.31, m.FinalCapital, 0.01)
	assert.InDelta(t, math.Pow(1+m.TotalReturn, 252.0/5)-1, m.AnnualizedReturn, 1e-9)
	assert.Equal(t, 1.0, m.WinRate)
	assert.Greater(t, m.SharpeRatio, 0.0)
	assert.Greater(t, m.SortinoRatio, 0.0)
	assert.False(t, m.UnlimitedMode)
	assert.Nil(t, m.TotalInvestment)
	assert.Nil(t, m.NumberOfTrades)
	assertAllFinite(t, m)
}

func TestComputeMonotonicCurve(t *testing.T) {
	m, err := Compute(curveOf(100, 110, 120, 130), []models.Trade{buy(100, 100)}, Options{
		Mode:           models.SizingFixed,
		InitialCapital: 100,
		MarkPrice:      130,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 1.0, m.WinRate)
}

func TestComputeZeroGuards(t *testing.T) {
	for name, curve := range map[string]models.EquityCurve{
		"single point": curveOf(10000),
		"flat":         curveOf(10000, 10000, 10000, 10000),
	} {
		t.Run(name, func(t *testing.T) {
			m, err := Compute(curve, nil, fixedOpts(10000))
			require.NoError(t, err)
			assert.Equal(t, 0.0, m.SharpeRatio)
			assert.Equal(t, 0.0, m.SortinoRatio)
			assert.Equal(t, 0.0, m.WinRate)
			assertAllFinite(t, m)
		})
	}
}

func TestComputeUnlimited(t *testing.T) {
	trades := []models.Trade{buy(20, 1000), buy(20, 1000), buy(40, 1000)}
	opts := Options{Mode: models.SizingUnlimited, PositionSize: 1000}

	m, err := Compute(curveOf(0, 2000, 2000, 5000, 5000), trades, opts)
	require.NoError(t, err)

	assert.True(t, m.UnlimitedMode)
	require.NotNil(t, m.TotalInvestment)
	assert.InDelta(t, 3000, *m.TotalInvestment, 1e-9)
	require.NotNil(t, m.PositionSizePerTrade)
	assert.Equal(t, 1000.0, *m.PositionSizePerTrade)
	require.NotNil(t, m.NumberOfTrades)
	assert.Equal(t, 3, *m.NumberOfTrades)
	assert.InDelta(t, 5000.0/3000-1, m.TotalReturn, 1e-9)
	// Marked at 40: the two fills at 20 win, the fill at 40 does not.
	assert.InDelta(t, 2.0/3, m.WinRate, 1e-9)
	assertAllFinite(t, m)
}

func TestComputeUnlimitedWithoutTrades(t *testing.T) {
	m, err := Compute(curveOf(0, 0, 0), nil, Options{Mode: models.SizingUnlimited, PositionSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.TotalReturn)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0, *m.NumberOfTrades)
	assertAllFinite(t, m)
}

func TestComputeEmptyCurve(t *testing.T) {
	_, err := Compute(models.EquityCurve{}, nil, fixedOpts(1))
	assert.True(t, errors.Is(err, quant.ErrInsufficientData))
}

func TestReturnsSkipsNonPositiveBase(t *testing.T) {
	assert.Equal(t, []float64{1}, Returns([]float64{0, 0, 100, 200}))
	assert.Nil(t, Returns([]float64{5}))
}

func TestSharpe(t *testing.T) {
	returns := Returns([]float64{100, 110, 99, 108.9})
	want := (1.0 / 30) / math.Sqrt(0.04/3) * math.Sqrt(252)
	assert.InDelta(t, want, Sharpe(returns, 0, 252), 1e-6)

	rf := 0.05 / 252
	wantRF := (1.0/30 - rf) / math.Sqrt(0.04/3) * math.Sqrt(252)
	assert.InDelta(t, wantRF, Sharpe(returns, rf, 252), 1e-6)
}

func TestSortino(t *testing.T) {
	returns := Returns([]float64{100, 90, 99, 79.2})
	mean := (-0.1 + 0.1 - 0.2) / 3
	want := mean / math.Sqrt((0.01+0.04)/3) * math.Sqrt(252)
	assert.InDelta(t, want, Sortino(returns, 0, 252), 1e-6)

	// A single losing period still defines the downside deviation.
	returns = Returns([]float64{100, 90, 99, 110})
	mean = (-0.1 + 0.1 + 1.0/9) / 3
	want = mean / math.Sqrt(0.01/3) * math.Sqrt(252)
	assert.InDelta(t, want, Sortino(returns, 0, 252), 1e-6)
	assert.Greater(t, Sortino(returns, 0, 252), 0.0)

	// No losing period means no downside to divide by.
	assert.Equal(t, 0.0, Sortino(Returns([]float64{100, 110, 120}), 0, 252))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{100, 200, 100, 150}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{0, 0, 10, 20}))
}

func TestWinRate(t *testing.T) {
	trades := []models.Trade{buy(10, 100), buy(12, 120), buy(15, 150)}
	assert.InDelta(t, 2.0/3, WinRate(trades, 14), 1e-12)
	assert.Equal(t, 0.0, WinRate(nil, 14))
	assert.Equal(t, 0.0, WinRate(trades, 0))
}

func TestAnnualize(t *testing.T) {
	assert.Equal(t, 0.0, Annualize(0.1, 0, 252))
	assert.Equal(t, -1.0, Annualize(-1, 10, 252))
	assert.InDelta(t, 0.1, Annualize(0.1, 252, 252), 1e-12)
}
