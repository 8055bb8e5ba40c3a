// Package market compares a strategy against a market index and against
// buying and holding the traded ticker.
package market

import (
	"github.com/pkg/errors"

	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

const DefaultIndex = "^GSPC"

var indexNames = map[string]string{
	"^GSPC": "S&P 500",
	"^DJI":  "Dow Jones Industrial Average",
	"^IXIC": "NASDAQ Composite",
	"^RUT":  "Russell 2000",
}

// IndexName returns a display name for a known index symbol, or the symbol.
func IndexName(symbol string) string {
	if name, ok := indexNames[symbol]; ok {
		return name
	}
	return symbol
}

// KnownIndexes lists the symbols IndexName can describe.
func KnownIndexes() []string {
	return []string{"^GSPC", "^DJI", "^IXIC", "^RUT"}
}

type Input struct {
	Curve          models.EquityCurve
	Ticker         models.PriceSeries
	Benchmark      models.PriceSeries
	InitialCapital float64
	// StrategyReturn overrides the return derived from Curve, as needed in
	// unlimited mode where the base is total investment.
	StrategyReturn *float64
}

// Compare builds the comparison block. An empty benchmark is not an error:
// BenchmarkAvailable is false, MarketIndex is nil and market_return falls
// back to the ticker's own buy-and-hold return.
func Compare(in Input) (models.MarketComparison, error) {
	if in.InitialCapital <= 0 {
		return models.MarketComparison{}, errors.Wrap(quant.ErrInvalidParameter, "initial capital must be positive")
	}
	if in.Ticker.Empty() && in.Curve.Len() == 0 {
		return models.MarketComparison{}, errors.Wrap(quant.ErrInsufficientData, "nothing to compare")
	}

	out := models.MarketComparison{
		Period:         period(in),
		StrategyReturn: strategyReturn(in),
	}

	if !in.Ticker.Empty() && in.Ticker.First().Close > 0 {
		first, last := in.Ticker.First().Close, in.Ticker.Last().Close
		final := in.InitialCapital / first * last
		out.BuyHold = models.BuyHold{
			InitialValue: in.InitialCapital,
			FinalValue:   final,
			Return:       final/in.InitialCapital - 1,
		}
	}

	if block, ok := Normalize(in.Benchmark, in.InitialCapital); ok {
		out.BenchmarkAvailable = true
		out.MarketIndex = &block
		out.MarketReturn = block.Return
	} else {
		out.MarketReturn = out.BuyHold.Return
	}

	out.Outperformance = out.StrategyReturn - out.MarketReturn
	return out, nil
}

// Normalize rescales benchmark so its first value equals capital. ok is
// false when the benchmark is empty or starts at a non-positive close.
func Normalize(benchmark models.PriceSeries, capital float64) (models.MarketIndexBlock, bool) {
	if benchmark.Empty() || benchmark.First().Close <= 0 {
		return models.MarketIndexBlock{}, false
	}
	base := benchmark.First().Close
	values := make([]float64, benchmark.Len())
	for i, p := range benchmark.Points {
		values[i] = p.Close * capital / base
	}
	return models.MarketIndexBlock{
		Symbol: benchmark.Symbol,
		Name:   IndexName(benchmark.Symbol),
		Dates:  benchmark.DateStrings(),
		Values: values,
		Return: benchmark.Last().Close/base - 1,
	}, true
}

func strategyReturn(in Input) float64 {
	if in.StrategyReturn != nil {
		return *in.StrategyReturn
	}
	if in.Curve.Len() == 0 {
		return 0
	}
	return in.Curve.Values[in.Curve.Len()-1]/in.InitialCapital - 1
}

func period(in Input) models.Period {
	if !in.Ticker.Empty() {
		return models.Period{
			StartDate: in.Ticker.First().Date.Format(models.DateLayout),
			EndDate:   in.Ticker.Last().Date.Format(models.DateLayout),
		}
	}
	dates := in.Curve.Dates
	if len(dates) == 0 {
		return models.Period{}
	}
	return models.Period{
		StartDate: dates[0].Format(models.DateLayout),
		EndDate:   dates[len(dates)-1].Format(models.DateLayout),
	}
}
