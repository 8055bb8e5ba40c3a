package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dyike/CortexQuant/config"
)

// ErrNoData is returned when a source has no bars for the requested range.
var ErrNoData = errors.New("no price data")

// PriceProvider fetches daily bars for [start, end].
type PriceProvider interface {
	Name() string
	GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error)
}

// NewProvider builds the provider named in cfg.PriceProvider.
func NewProvider(cfg *Config) (PriceProvider, error) {
	switch cfg.PriceProvider {
	case "", ProviderYahoo:
		return NewYahooFinanceClient(), nil
	case ProviderFMP:
		return NewFMPClient(cfg)
	case ProviderLongport:
		return NewLongportClient(cfg)
	case ProviderCSV:
		return NewCSVStore(cfg.DataDir), nil
	}
	return nil, fmt.Errorf("unknown price provider %q", cfg.PriceProvider)
}

// Provider names, re-exported for callers that only import dataflows.
const (
	ProviderYahoo    = config.ProviderYahoo
	ProviderFMP      = config.ProviderFMP
	ProviderLongport = config.ProviderLongport
	ProviderCSV      = config.ProviderCSV
)

// rateLimited throttles every call to the wrapped provider.
type rateLimited struct {
	PriceProvider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so it is called at most perSecond times a second.
// A non-positive rate disables limiting.
func WithRateLimit(p PriceProvider, perSecond float64) PriceProvider {
	if perSecond <= 0 {
		return p
	}
	return &rateLimited{
		PriceProvider: p,
		limiter:       rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (r *rateLimited) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.PriceProvider.GetHistoricalData(ctx, symbol, start, end)
}
