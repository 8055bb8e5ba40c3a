package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// YahooFinanceClient reads daily bars from the Yahoo chart API. It also
// serves index symbols such as ^GSPC.
type YahooFinanceClient struct{}

func NewYahooFinanceClient() *YahooFinanceClient {
	return &YahooFinanceClient{}
}

func (yf *YahooFinanceClient) Name() string { return ProviderYahoo }

// GetHistoricalData gets historical price data for a symbol
func (yf *YahooFinanceClient) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The chart API treats end as exclusive.
	until := end.AddDate(0, 0, 1)
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&until),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)

	result := make([]*MarketData, 0)
	for iter.Next() {
		bar := iter.Bar()
		result = append(result, &MarketData{
			Symbol:   symbol,
			Date:     time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			AdjClose: bar.AdjClose,
			Volume:   int64(bar.Volume),
		})
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}

	return filterRange(result, start, end), nil
}
