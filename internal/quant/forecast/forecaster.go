// Package forecast projects a price series forward as P10/P50/P90 bands.
//
// The model is a straight line in the bar index. With enough history three
// linear quantile regressions are fitted; otherwise, or when the quantile fit
// breaks down numerically, an OLS line with a symmetric normal-approximation
// band is used instead. The chosen path is reported on the result.
package forecast

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

const (
	DefaultMinSamples = 10

	// zScore80 is the two-sided 80% normal quantile used by the OLS band.
	zScore80 = 1.28

	constantRelTol = 1e-5
	constantAbsTol = 1e-8
)

var quantiles = [3]float64{0.10, 0.50, 0.90}

type Options struct {
	// MinSamples is the history length below which quantile fitting is skipped.
	MinSamples int
	// KeepCrossing leaves fitted bands as they are instead of clamping
	// P10 <= P50 <= P90.
	KeepCrossing bool
	Logger       logrus.FieldLogger
}

type Option func(*Options)

func WithMinSamples(n int) Option {
	return func(o *Options) { o.MinSamples = n }
}

func WithKeepCrossing(keep bool) Option {
	return func(o *Options) { o.KeepCrossing = keep }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

type Forecaster struct {
	opts Options
	fit  quantileFitter
}

func New(opts ...Option) *Forecaster {
	o := Options{MinSamples: DefaultMinSamples}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return &Forecaster{opts: o, fit: fitQuantileIRLS(defaultIRLS)}
}

// Forecast is a convenience wrapper around New(WithMinSamples(minSamples)).
func Forecast(prices models.PriceSeries, horizonDays, minSamples int) (models.ForecastBands, error) {
	return New(WithMinSamples(minSamples)).Forecast(prices, horizonDays)
}

// Forecast returns bands for the horizonDays calendar days following the
// last bar. Every returned value is finite.
func (f *Forecaster) Forecast(prices models.PriceSeries, horizonDays int) (models.ForecastBands, error) {
	if horizonDays <= 0 {
		return models.ForecastBands{}, errors.Wrapf(quant.ErrInvalidRange, "forecast horizon %d", horizonDays)
	}
	if prices.Empty() {
		return models.ForecastBands{}, errors.Wrap(quant.ErrInsufficientData, "empty price series")
	}

	y := prices.Closes()
	n := len(y)
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	future := make([]float64, horizonDays)
	for i := range future {
		future[i] = float64(n + i)
	}

	log := f.opts.Logger.WithFields(logrus.Fields{
		"symbol":  prices.Symbol,
		"samples": n,
		"horizon": horizonDays,
	})

	bands := models.ForecastBands{Dates: horizonDates(prices.Last().Date, horizonDays)}

	switch {
	case n < f.opts.MinSamples:
		fillOLS(&bands, x, y, future)
		bands.Method = models.ForecastOLSFallback
		bands.FallbackReason = "insufficient samples for quantile regression"
	case isConstant(y):
		fillConstant(&bands, y[0])
		bands.Method = models.ForecastConstant
	default:
		if err := f.fillQuantile(&bands, x, y, future); err != nil {
			log.WithError(err).Warn("quantile regression failed, using OLS fallback")
			fillOLS(&bands, x, y, future)
			bands.Method = models.ForecastOLSFallback
			bands.FallbackReason = err.Error()
		} else {
			bands.Method = models.ForecastQuantile
		}
	}

	if !f.opts.KeepCrossing {
		clampBands(&bands)
	}
	if !allFinite(bands.P10, bands.P50, bands.P90) {
		// Extreme inputs can overflow the OLS path too; the last close is
		// the only finite answer left.
		log.Warn("non-finite forecast, returning flat bands")
		fillConstant(&bands, y[n-1])
		bands.Method = models.ForecastConstant
		bands.FallbackReason = "non-finite fit"
	}

	log.WithField("method", bands.Method).Debug("forecast computed")
	return bands, nil
}

func (f *Forecaster) fillQuantile(b *models.ForecastBands, x, y, future []float64) error {
	var fits [3]line
	for i, tau := range quantiles {
		fit, err := f.fit(x, y, tau)
		if err != nil {
			return err
		}
		fits[i] = fit
	}

	h := len(future)
	b.P10, b.P50, b.P90 = make([]float64, h), make([]float64, h), make([]float64, h)
	for i, xf := range future {
		b.P10[i] = fits[0].At(xf)
		b.P50[i] = fits[1].At(xf)
		b.P90[i] = fits[2].At(xf)
	}
	if !allFinite(b.P10, b.P50, b.P90) {
		return errors.New("quantile predictions are not finite")
	}
	return nil
}

func fillOLS(b *models.ForecastBands, x, y, future []float64) {
	h := len(future)
	b.P10, b.P50, b.P90 = make([]float64, h), make([]float64, h), make([]float64, h)

	if len(y) == 1 {
		fillConstant(b, y[0])
		return
	}
	fit, sigma := fitOLS(x, y)
	for i, xf := range future {
		mid := fit.At(xf)
		b.P50[i] = mid
		b.P10[i] = mid - zScore80*sigma
		b.P90[i] = mid + zScore80*sigma
	}
}

func fillConstant(b *models.ForecastBands, v float64) {
	h := len(b.Dates)
	b.P10, b.P50, b.P90 = make([]float64, h), make([]float64, h), make([]float64, h)
	for i := 0; i < h; i++ {
		b.P10[i], b.P50[i], b.P90[i] = v, v, v
	}
}

func clampBands(b *models.ForecastBands) {
	for i := range b.P50 {
		b.P10[i] = math.Min(b.P10[i], b.P50[i])
		b.P90[i] = math.Max(b.P90[i], b.P50[i])
	}
}

// isConstant matches numpy.allclose(y, y[0]).
func isConstant(y []float64) bool {
	ref := y[0]
	for _, v := range y[1:] {
		if math.Abs(v-ref) > constantAbsTol+constantRelTol*math.Abs(ref) {
			return false
		}
	}
	return true
}

func horizonDates(last time.Time, h int) []time.Time {
	day := models.TruncateDay(last)
	out := make([]time.Time, h)
	for i := range out {
		out[i] = day.AddDate(0, 0, i+1)
	}
	return out
}

func allFinite(series ...[]float64) bool {
	for _, s := range series {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
