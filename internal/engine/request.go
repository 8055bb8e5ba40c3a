package engine

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/quant/backtest"
	"github.com/dyike/CortexQuant/models"
)

// MaxForecastDays bounds the horizon a caller may ask for.
const MaxForecastDays = 365

type ForecastRequest struct {
	Ticker string
	// StartDate is the first day of history fed to the forecaster. Zero
	// means one year before now.
	StartDate    time.Time
	ForecastDays int
}

type BacktestRequest struct {
	Ticker    string
	StartDate time.Time
	// EndDate defaults to now.
	EndDate   time.Time
	Sizing    models.Sizing
	Benchmark string
	// Signals, when set, are used instead of the engine's signal source.
	Signals []models.SentimentSignal
}

// StartOfYear returns January 1st of year in UTC.
func StartOfYear(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// SizingFromConfig builds the default sizing. unlimited overrides the
// configured mode, mirroring the unlimited_capital request flag.
func SizingFromConfig(cfg *config.Config, unlimited bool) models.Sizing {
	mode := models.SizingMode(cfg.SizingMode)
	if unlimited {
		mode = models.SizingUnlimited
	}
	if mode == "" {
		mode = models.SizingFixed
	}
	return models.Sizing{
		Mode:           mode,
		InitialCapital: cfg.InitialCapital,
		PositionSize:   cfg.PositionSize,
		Allocation:     cfg.Allocation,
	}
}

func (r *ForecastRequest) normalize(now time.Time, defaultDays int) error {
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	if r.Ticker == "" {
		return errors.Wrap(ErrInvalidParameter, "ticker is required")
	}
	if r.ForecastDays == 0 {
		r.ForecastDays = defaultDays
	}
	if r.ForecastDays <= 0 || r.ForecastDays > MaxForecastDays {
		return errors.Wrapf(ErrInvalidRange, "forecast_days must be between 1 and %d", MaxForecastDays)
	}
	if r.StartDate.IsZero() {
		r.StartDate = now.AddDate(-1, 0, 0)
	}
	if models.TruncateDay(r.StartDate).After(models.TruncateDay(now)) {
		return errors.Wrapf(ErrInvalidRange, "future start date %s", r.StartDate.Format(models.DateLayout))
	}
	return nil
}

func (r *BacktestRequest) normalize(now time.Time, defaultBenchmark string) error {
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	if r.Ticker == "" {
		return errors.Wrap(ErrInvalidParameter, "ticker is required")
	}
	if r.StartDate.IsZero() {
		return errors.Wrap(ErrInvalidRange, "start date is required")
	}
	if r.EndDate.IsZero() {
		r.EndDate = now
	}
	if !r.StartDate.Before(r.EndDate) {
		return errors.Wrapf(ErrInvalidRange, "start %s is not before end %s",
			r.StartDate.Format(models.DateLayout), r.EndDate.Format(models.DateLayout))
	}
	if r.Benchmark == "" {
		r.Benchmark = defaultBenchmark
	}
	return backtest.ValidateSizing(r.Sizing)
}
