package forecast

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(closes ...float64) models.PriceSeries {
	points := make([]models.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: c}
	}
	return models.NewPriceSeries("TEST", points)
}

func assertOrdered(t *testing.T, b models.ForecastBands) {
	t.Helper()
	for i := range b.P50 {
		assert.LessOrEqual(t, b.P10[i], b.P50[i], "p10 above p50 at %d", i)
		assert.LessOrEqual(t, b.P50[i], b.P90[i], "p50 above p90 at %d", i)
	}
}

func TestForecastRandomWalkShape(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	closes := make([]float64, 120)
	price := 100.0
	for i := range closes {
		price *= 1 + rng.NormFloat64()*0.02
		closes[i] = price
	}

	bands, err := New().Forecast(series(closes...), 30)
	require.NoError(t, err)

	assert.Equal(t, 30, bands.Len())
	assert.Len(t, bands.P10, 30)
	assert.Len(t, bands.P90, 30)
	assert.Len(t, bands.Dates, 30)
	assert.True(t, allFinite(bands.P10, bands.P50, bands.P90))
	assertOrdered(t, bands)
}

func TestForecastQuantilePath(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i) + 3*math.Sin(float64(i))
	}

	bands, err := New().Forecast(series(closes...), 10)
	require.NoError(t, err)

	assert.Equal(t, models.ForecastQuantile, bands.Method)
	assert.Empty(t, bands.FallbackReason)
	assertOrdered(t, bands)
	assert.InDelta(t, 0.5, bands.P50[1]-bands.P50[0], 0.2)
	assert.Less(t, bands.P10[0], bands.P90[0])
}

func TestForecastOLSFallbackFollowsTrend(t *testing.T) {
	closes := []float64{101, 101, 105, 105, 109, 109}

	bands, err := New().Forecast(series(closes...), 5)
	require.NoError(t, err)

	assert.Equal(t, models.ForecastOLSFallback, bands.Method)
	for i := range bands.P50 {
		assert.Less(t, bands.P10[i], bands.P50[i])
		assert.Less(t, bands.P50[i], bands.P90[i])
		// 1.28 * population std of the OLS residuals
		assert.InDelta(t, 1.2239, bands.P90[i]-bands.P50[i], 1e-3)
		assert.InDelta(t, 1.2239, bands.P50[i]-bands.P10[i], 1e-3)
	}
	for i := 1; i < bands.Len(); i++ {
		assert.InDelta(t, 32.0/17.5, bands.P50[i]-bands.P50[i-1], 1e-9)
	}
	assert.InDelta(t, 105+32.0/17.5*3.5, bands.P50[0], 1e-9)
}

func TestForecastSkipsQuantileUnderMinSamples(t *testing.T) {
	f := New(WithMinSamples(10))
	f.fit = func(x, y []float64, tau float64) (line, error) {
		t.Fatalf("quantile fit called with %d samples", len(x))
		return line{}, nil
	}

	bands, err := f.Forecast(series(10, 11, 13, 12, 14), 3)
	require.NoError(t, err)
	assert.Equal(t, models.ForecastOLSFallback, bands.Method)
	assert.NotEmpty(t, bands.FallbackReason)
}

func TestForecastFallsBackOnNumericalFailure(t *testing.T) {
	f := New()
	f.fit = func(x, y []float64, tau float64) (line, error) {
		return line{}, errors.New("matrix singular or near-singular")
	}

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 50 + float64(i%4)
	}
	bands, err := f.Forecast(series(closes...), 7)
	require.NoError(t, err)

	assert.Equal(t, models.ForecastOLSFallback, bands.Method)
	assert.Contains(t, bands.FallbackReason, "singular")
	assert.True(t, allFinite(bands.P10, bands.P50, bands.P90))
	assertOrdered(t, bands)
}

func TestForecastConstantSeries(t *testing.T) {
	for name, tt := range map[string]struct {
		prices models.PriceSeries
		method models.ForecastMethod
	}{
		"flat":         {series(42, 42, 42, 42, 42, 42, 42, 42, 42, 42, 42, 42), models.ForecastConstant},
		"short flat":   {series(42, 42, 42, 42, 42), models.ForecastOLSFallback},
		"single point": {series(42), models.ForecastOLSFallback},
	} {
		t.Run(name, func(t *testing.T) {
			f := New(WithMinSamples(10))
			f.fit = func(x, y []float64, tau float64) (line, error) {
				t.Fatalf("quantile fit called for a flat series")
				return line{}, nil
			}
			bands, err := f.Forecast(tt.prices, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.method, bands.Method)
			for i := 0; i < 4; i++ {
				assert.InDelta(t, 42.0, bands.P10[i], 1e-9)
				assert.InDelta(t, 42.0, bands.P50[i], 1e-9)
				assert.InDelta(t, 42.0, bands.P90[i], 1e-9)
			}
		})
	}
}

func TestForecastDatesAreCalendarDays(t *testing.T) {
	bands, err := New().Forecast(series(1, 2, 3), 3)
	require.NoError(t, err)

	last := day0.AddDate(0, 0, 2)
	for i, d := range bands.Dates {
		assert.True(t, d.Equal(last.AddDate(0, 0, i+1)), "date %d = %s", i, d)
	}
}

func TestForecastClampsCrossingBands(t *testing.T) {
	crossing := func(x, y []float64, tau float64) (line, error) {
		// The 10% line sits above the median.
		return line{Intercept: 100 - 10*(tau-0.5)}, nil
	}
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}

	f := New()
	f.fit = crossing
	bands, err := f.Forecast(series(closes...), 2)
	require.NoError(t, err)
	assertOrdered(t, bands)

	raw := New(WithKeepCrossing(true))
	raw.fit = crossing
	bands, err = raw.Forecast(series(closes...), 2)
	require.NoError(t, err)
	assert.Greater(t, bands.P10[0], bands.P50[0])
}

func TestForecastRejectsBadInput(t *testing.T) {
	_, err := New().Forecast(series(1, 2, 3), 0)
	assert.True(t, errors.Is(err, quant.ErrInvalidRange))

	_, err = New().Forecast(models.PriceSeries{}, 5)
	assert.True(t, errors.Is(err, quant.ErrInsufficientData))
}

func TestFitQuantileIRLSExactLine(t *testing.T) {
	x := make([]float64, 25)
	y := make([]float64, 25)
	for i := range x {
		x[i] = float64(i)
		y[i] = 1 + 2*x[i]
	}

	for _, tau := range quantiles {
		fit, err := fitQuantileIRLS(defaultIRLS)(x, y, tau)
		require.NoError(t, err)
		assert.InDelta(t, 1, fit.Intercept, 1e-3)
		assert.InDelta(t, 2, fit.Slope, 1e-4)
	}
}

func TestFitQuantileIRLSRejectsBadTau(t *testing.T) {
	_, err := fitQuantileIRLS(defaultIRLS)([]float64{0, 1}, []float64{1, 2}, 1)
	assert.Error(t, err)
}
