package dataflows

import (
	"context"
	"errors"
	"math"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"
)

// maxLongportSticks is the largest count the candlestick endpoint accepts.
const maxLongportSticks = 1000

type LongportClient struct {
	quoteCtx *quote.QuoteContext
	now      func() time.Time
}

func NewLongportClient(cfg *Config) (*LongportClient, error) {
	if cfg.LongportAppKey == "" || cfg.LongportAppSecret == "" || cfg.LongportAccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &LongportClient{quoteCtx: quoteContext, now: time.Now}, nil
}

func (lpc *LongportClient) Name() string { return ProviderLongport }

func (lpc *LongportClient) GetSticksWithDay(ctx context.Context, symbol string, count int) (sticks []*quote.Candlestick, err error) {
	if lpc.quoteCtx != nil {
		return lpc.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
	}
	return nil, errors.New("quote context is nil")
}

// GetHistoricalData asks for enough recent daily sticks to reach back to
// start and keeps those inside [start, end]. The endpoint only serves the
// most recent bars, so very old ranges come back truncated.
func (lpc *LongportClient) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	days := int(math.Ceil(lpc.now().Sub(start).Hours() / 24))
	if days <= 0 {
		return nil, nil
	}
	if days > maxLongportSticks {
		days = maxLongportSticks
	}

	sticks, err := lpc.GetSticksWithDay(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	return filterRange(sticksToMarketData(symbol, sticks), start, end), nil
}

func sticksToMarketData(symbol string, sticks []*quote.Candlestick) []*MarketData {
	out := make([]*MarketData, 0, len(sticks))
	for _, s := range sticks {
		if s == nil {
			continue
		}
		closePx := decOrZero(s.Close)
		out = append(out, &MarketData{
			Symbol:   symbol,
			Date:     time.Unix(s.Timestamp, 0).UTC(),
			Open:     decOrZero(s.Open),
			High:     decOrZero(s.High),
			Low:      decOrZero(s.Low),
			Close:    closePx,
			AdjClose: closePx,
			Volume:   s.Volume,
		})
	}
	return out
}

func decOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
