// Package engine turns forecast and backtest requests into results. It
// fetches the inputs concurrently and runs them through the quant packages.
package engine

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/internal/quant/backtest"
	"github.com/dyike/CortexQuant/internal/quant/forecast"
	"github.com/dyike/CortexQuant/internal/quant/market"
	"github.com/dyike/CortexQuant/internal/quant/metrics"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

// PriceSource is satisfied by *dataflows.DataFlowInterface.
type PriceSource interface {
	GetPriceSeries(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
	GetBenchmark(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
}

// SignalSource is satisfied by *dataflows.SignalStore.
type SignalSource interface {
	Signals(ctx context.Context, ticker string, from time.Time) ([]models.SentimentSignal, error)
}

// Recorder persists finished backtests.
type Recorder interface {
	SaveRun(ctx context.Context, req BacktestRequest, result models.BacktestResult) error
}

type Engine struct {
	cfg      *config.Config
	prices   PriceSource
	signals  SignalSource
	recorder Recorder
	log      logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg *config.Config, prices PriceSource, signals SignalSource, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		prices:  prices,
		signals: signals,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	return e
}

// Forecast fetches history from req.StartDate to today and projects
// ForecastDays calendar days of P10/P50/P90 bands.
func (e *Engine) Forecast(ctx context.Context, req ForecastRequest) (models.ForecastResult, error) {
	now := e.now()
	if err := req.normalize(now, e.cfg.DefaultForecastDays); err != nil {
		return models.ForecastResult{}, err
	}
	log := e.log.WithFields(logrus.Fields{"ticker": req.Ticker, "forecast_days": req.ForecastDays})

	prices, err := e.fetchPrices(ctx, req.Ticker, req.StartDate, now)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if prices.Len() < e.minSamples() {
		return models.ForecastResult{}, errors.Wrapf(ErrInsufficientData,
			"insufficient historical data: %d points, need at least %d", prices.Len(), e.minSamples())
	}

	f := forecast.New(
		forecast.WithMinSamples(e.minSamples()),
		forecast.WithKeepCrossing(e.cfg.ForecastKeepCrossing),
		forecast.WithLogger(log),
	)
	bands, err := f.Forecast(prices, req.ForecastDays)
	if err != nil {
		return models.ForecastResult{}, err
	}
	log.WithField("method", bands.Method).Info("forecast generated")

	return models.ForecastResult{
		Historical: models.HistoricalEcho{
			Dates:  prices.DateStrings(),
			Prices: prices.Closes(),
		},
		Forecast: models.ForecastBlock{
			Dates:  models.FormatDates(bands.Dates),
			Bands:  bands,
			Method: bands.Method,
		},
		Metadata: models.ForecastMetadata{
			Ticker:       req.Ticker,
			ForecastDays: req.ForecastDays,
			GeneratedAt:  now.UTC(),
		},
	}, nil
}

// Backtest runs the sentiment strategy for one ticker. Prices, benchmark and
// signals are fetched concurrently. A missing benchmark only disables the
// index comparison.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (models.BacktestResult, error) {
	if err := req.normalize(e.now(), e.cfg.BenchmarkSymbol); err != nil {
		return models.BacktestResult{}, err
	}
	log := e.log.WithFields(logrus.Fields{"ticker": req.Ticker, "mode": req.Sizing.Mode})
	log.Info("starting backtest")

	var (
		prices    models.PriceSeries
		benchmark models.PriceSeries
		signals   = req.Signals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prices, err = e.fetchPrices(gctx, req.Ticker, req.StartDate, req.EndDate)
		return err
	})
	if req.Benchmark != "" {
		g.Go(func() error {
			var err error
			benchmark, err = e.prices.GetBenchmark(gctx, req.Benchmark, req.StartDate, req.EndDate)
			if err != nil && gctx.Err() == nil {
				log.WithError(err).WithField("benchmark", req.Benchmark).Warn("benchmark unavailable")
				benchmark = models.PriceSeries{}
			}
			return nil
		})
	}
	if signals == nil {
		g.Go(func() error {
			var err error
			signals, err = e.fetchSignals(gctx, req.Ticker, req.StartDate)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.BacktestResult{}, err
	}
	if benchmark.Symbol == "" {
		benchmark.Symbol = req.Benchmark
	}

	sim, err := backtest.New(req.Sizing, backtest.WithLogger(log))
	if err != nil {
		return models.BacktestResult{}, err
	}
	inWindow := signalsInWindow(signals, req.StartDate, req.EndDate)
	if dropped := len(signals) - len(inWindow); dropped > 0 {
		log.WithField("dropped", dropped).Debug("signals outside the backtest window")
	}
	run, err := sim.Run(prices, inWindow)
	if err != nil {
		return models.BacktestResult{}, err
	}

	perf, err := metrics.Compute(run.EquityCurve, run.Trades, metrics.Options{
		Mode:           req.Sizing.Mode,
		InitialCapital: req.Sizing.InitialCapital,
		PositionSize:   req.Sizing.PositionSize,
		MarkPrice:      prices.Last().Close,
		RiskFreeRate:   e.cfg.RiskFreeRate,
	})
	if err != nil {
		return models.BacktestResult{}, err
	}

	in := market.Input{
		Curve:          run.EquityCurve,
		Ticker:         prices,
		Benchmark:      benchmark,
		InitialCapital: req.Sizing.InitialCapital,
	}
	if req.Sizing.Mode == models.SizingUnlimited {
		strategy := perf.TotalReturn
		in.StrategyReturn = &strategy
		if in.InitialCapital <= 0 {
			// No starting balance: scale the benchmark to what was invested.
			in.InitialCapital = math.Max(run.Ledger.TotalInvestment, req.Sizing.PositionSize)
		}
	}
	comparison, err := market.Compare(in)
	if err != nil {
		return models.BacktestResult{}, err
	}

	result := models.BacktestResult{
		RunID:              uuid.NewString(),
		Ticker:             req.Ticker,
		PerformanceMetrics: perf,
		Trades:             run.Trades,
		EquityCurve:        run.EquityCurve,
		MarketComparison:   comparison,
	}
	log.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"trades":       len(result.Trades),
		"total_return": perf.TotalReturn,
	}).Info("backtest completed")

	if e.recorder != nil {
		if err := e.recorder.SaveRun(ctx, req, result); err != nil {
			log.WithError(err).Warn("failed to record backtest run")
		}
	}
	return result, nil
}

// signalsInWindow keeps the signals dated within [start, end] by calendar
// day. Earlier signals would otherwise align to the first bar of the window.
func signalsInWindow(signals []models.SentimentSignal, start, end time.Time) []models.SentimentSignal {
	from, to := models.TruncateDay(start), models.TruncateDay(end)
	out := make([]models.SentimentSignal, 0, len(signals))
	for _, sig := range signals {
		day := models.TruncateDay(sig.Date)
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// BatchResult pairs one request of a batch with its outcome.
type BatchResult struct {
	Request BacktestRequest
	Result  models.BacktestResult
	Err     error
}

// BacktestMany runs every request with at most limit in flight. A failing
// ticker does not cancel the others; results keep the order of reqs.
func (e *Engine) BacktestMany(ctx context.Context, reqs []BacktestRequest, limit int) []BatchResult {
	if limit <= 0 {
		limit = e.cfg.MaxConcurrency
	}
	if limit <= 0 {
		limit = 1
	}
	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := e.Backtest(ctx, req)
			out[i] = BatchResult{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) fetchPrices(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error) {
	prices, err := e.prices.GetPriceSeries(ctx, ticker, start, end)
	if stderrors.Is(err, dataflows.ErrNoData) || (err == nil && prices.Empty()) {
		return models.PriceSeries{}, errors.Wrapf(ErrNoPriceData, "%s from %s", ticker, start.Format(models.DateLayout))
	}
	if err != nil {
		return models.PriceSeries{}, errors.Wrapf(err, "fetch prices for %s", ticker)
	}
	if err := prices.Validate(); err != nil {
		return models.PriceSeries{}, errors.Wrapf(ErrInsufficientData, "%s: %v", ticker, err)
	}
	return prices, nil
}

func (e *Engine) fetchSignals(ctx context.Context, ticker string, from time.Time) ([]models.SentimentSignal, error) {
	if e.signals == nil {
		return nil, errors.Wrapf(ErrNoSignalData, "%s: no signal source configured", ticker)
	}
	signals, err := e.signals.Signals(ctx, ticker, from)
	if stderrors.Is(err, dataflows.ErrNoSignals) {
		return nil, errors.Wrap(ErrNoSignalData, ticker)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load signals for %s", ticker)
	}
	return signals, nil
}

func (e *Engine) minSamples() int {
	if e.cfg.ForecastMinSamples > 0 {
		return e.cfg.ForecastMinSamples
	}
	return forecast.DefaultMinSamples
}
