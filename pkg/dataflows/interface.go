package dataflows

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/models"
)

// DataFlowInterface provides high-level access to price data: offline CSV
// files first, then the cached, rate limited and retried online provider.
type DataFlowInterface struct {
	provider  PriceProvider
	benchmark PriceProvider
	offline   *CSVStore
	refresh   bool
	cache     *CacheManager
	retry     *RetryConfig
	config    *Config
	log       logrus.FieldLogger
}

type InterfaceOption func(*DataFlowInterface)

// WithProvider replaces the provider chosen from config.
func WithProvider(p PriceProvider) InterfaceOption {
	return func(d *DataFlowInterface) { d.provider = p }
}

// WithBenchmarkProvider sets the provider used for index series.
func WithBenchmarkProvider(p PriceProvider) InterfaceOption {
	return func(d *DataFlowInterface) { d.benchmark = p }
}

// WithRefresh skips offline files on reads. SavePriceSeries still writes them.
func WithRefresh() InterfaceOption {
	return func(d *DataFlowInterface) { d.refresh = true }
}

func WithRetryConfig(r *RetryConfig) InterfaceOption {
	return func(d *DataFlowInterface) { d.retry = r }
}

func WithLogger(l logrus.FieldLogger) InterfaceOption {
	return func(d *DataFlowInterface) { d.log = l }
}

// NewDataFlowInterface creates a new data flow interface
func NewDataFlowInterface(config *Config, opts ...InterfaceOption) (*DataFlowInterface, error) {
	ttl := time.Duration(config.CacheTTLSeconds) * time.Second
	dfi := &DataFlowInterface{
		offline: NewCSVStore(config.DataDir),
		cache:   NewCacheManager(filepath.Join(config.DataCacheDir, "prices"), ttl, config.CacheEnabled && ttl > 0),
		config:  config,
	}
	for _, opt := range opts {
		opt(dfi)
	}

	if dfi.provider == nil {
		p, err := NewProvider(config)
		if err != nil {
			return nil, err
		}
		dfi.provider = WithRateLimit(p, config.RateLimitPerSecond)
	}
	if dfi.benchmark == nil {
		// Longport and CSV do not carry index symbols.
		switch dfi.provider.Name() {
		case ProviderYahoo, ProviderFMP:
			dfi.benchmark = dfi.provider
		default:
			dfi.benchmark = WithRateLimit(NewYahooFinanceClient(), config.RateLimitPerSecond)
		}
	}
	if dfi.retry == nil {
		dfi.retry = DefaultRetryConfig()
		dfi.retry.MaxRetries = config.MaxRetries
	}
	if dfi.log == nil {
		dfi.log = logrus.StandardLogger()
	}
	dfi.log = dfi.log.WithField("component", "dataflows")
	return dfi, nil
}

// ProviderName reports which online source serves price requests.
func (dfi *DataFlowInterface) ProviderName() string {
	return dfi.provider.Name()
}

// GetPriceSeries returns the ticker's daily bars in [start, end].
func (dfi *DataFlowInterface) GetPriceSeries(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	return dfi.fetch(ctx, dfi.provider, symbol, start, end)
}

// GetBenchmark returns an index series for the same window.
func (dfi *DataFlowInterface) GetBenchmark(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	return dfi.fetch(ctx, dfi.benchmark, symbol, start, end)
}

func (dfi *DataFlowInterface) fetch(ctx context.Context, provider PriceProvider, symbol string, start, end time.Time) (models.PriceSeries, error) {
	symbol, err := dfi.ValidateAndNormalizeSymbol(symbol)
	if err != nil {
		return models.PriceSeries{}, err
	}
	log := dfi.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"provider": provider.Name(),
		"range":    FormatDateRange(start, end),
	})

	// Try offline first
	if !dfi.refresh && provider.Name() != ProviderCSV && FileExists(dfi.offline.Path(symbol)) {
		if bars, err := dfi.offline.GetHistoricalData(ctx, symbol, start, end); err == nil && len(bars) > 0 {
			log.Debug("serving offline price file")
			return ToPriceSeries(symbol, bars), nil
		}
	}

	if !dfi.config.OnlineTools && provider.Name() != ProviderCSV {
		return models.PriceSeries{}, fmt.Errorf("offline data not available for %s and online tools disabled: %w", symbol, ErrNoData)
	}

	cacheKey := map[string]interface{}{
		"symbol":   symbol,
		"provider": provider.Name(),
		"start":    start.Format(models.DateLayout),
		"end":      end.Format(models.DateLayout),
	}
	var cached []*MarketData
	if dfi.cache.Get(provider.Name(), "historical", cacheKey, &cached) && len(cached) > 0 {
		log.Debug("price cache hit")
		return ToPriceSeries(symbol, cached), nil
	}

	var bars []*MarketData
	err = WithRetry(ctx, dfi.retry, func() error {
		var err error
		bars, err = provider.GetHistoricalData(ctx, symbol, start, end)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		log.WithError(err).Warn("price fetch failed")
		return models.PriceSeries{}, fmt.Errorf("fetch %s from %s: %w", symbol, provider.Name(), err)
	}

	series := ToPriceSeries(symbol, bars)
	if series.Empty() {
		return models.PriceSeries{}, fmt.Errorf("%s %s: %w", symbol, FormatDateRange(start, end), ErrNoData)
	}

	if err := dfi.cache.Set(provider.Name(), "historical", cacheKey, bars); err != nil {
		log.WithError(err).Debug("price cache write failed")
	}
	log.WithField("bars", series.Len()).Info("prices fetched")
	return series, nil
}

// ValidateAndNormalizeSymbol validates and normalizes a stock symbol
func (dfi *DataFlowInterface) ValidateAndNormalizeSymbol(symbol string) (string, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return "", err
	}
	return NormalizeSymbol(symbol), nil
}

// SavePriceSeries writes series to the offline CSV store.
func (dfi *DataFlowInterface) SavePriceSeries(series models.PriceSeries) (string, error) {
	return dfi.offline.Save(series)
}
