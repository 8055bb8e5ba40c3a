// Package metrics derives performance statistics from an equity curve.
package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

const TradingDaysPerYear = 252

// priceTolerance absorbs rounding when the mark price is implied.
const priceTolerance = 1e-9

type Options struct {
	Mode           models.SizingMode
	InitialCapital float64
	PositionSize   float64
	// MarkPrice values open positions for the win rate. When zero it is
	// implied from the final curve value and the trade ledger.
	MarkPrice float64
	// RiskFreeRate is annual; it is de-annualised per period.
	RiskFreeRate   float64
	PeriodsPerYear float64
}

func (o Options) periods() float64 {
	if o.PeriodsPerYear <= 0 {
		return TradingDaysPerYear
	}
	return o.PeriodsPerYear
}

// Compute returns the metrics for curve and trades. Every field of the
// result is finite.
func Compute(curve models.EquityCurve, trades []models.Trade, opts Options) (models.PerformanceMetrics, error) {
	if curve.Len() == 0 {
		return models.PerformanceMetrics{}, errors.Wrap(quant.ErrInsufficientData, "empty equity curve")
	}

	values := curve.Values
	final := values[len(values)-1]
	invested := totalInvestment(trades)

	var total float64
	if opts.Mode == models.SizingUnlimited {
		if invested > 0 {
			total = final/invested - 1
		}
	} else if opts.InitialCapital > 0 {
		total = final/opts.InitialCapital - 1
	}

	returns := Returns(values)
	rf := opts.RiskFreeRate / opts.periods()

	m := models.PerformanceMetrics{
		InitialCapital:   opts.InitialCapital,
		FinalCapital:     final,
		TotalReturn:      finite(total),
		AnnualizedReturn: finite(Annualize(total, len(values), opts.periods())),
		SharpeRatio:      finite(Sharpe(returns, rf, opts.periods())),
		SortinoRatio:     finite(Sortino(returns, rf, opts.periods())),
		MaxDrawdown:      finite(MaxDrawdown(values)),
		WinRate:          finite(WinRate(trades, markPrice(opts, final, trades))),
	}

	if opts.Mode == models.SizingUnlimited {
		size := opts.PositionSize
		count := len(trades)
		m.UnlimitedMode = true
		m.TotalInvestment = &invested
		m.PositionSizePerTrade = &size
		m.NumberOfTrades = &count
	}
	return m, nil
}

// Returns computes simple period returns, skipping periods whose starting
// value is not positive.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Annualize compounds total over n observations to a yearly rate.
func Annualize(total float64, n int, periodsPerYear float64) float64 {
	if n <= 0 {
		return 0
	}
	base := 1 + total
	if base <= 0 {
		return -1
	}
	return math.Pow(base, periodsPerYear/float64(n)) - 1
}

// Sharpe uses the sample standard deviation. rf is per period.
func Sharpe(returns []float64, rf, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (mean - rf) / std * math.Sqrt(periodsPerYear)
}

// Sortino divides by the downside deviation, sqrt(mean(min(r-rf, 0)^2)) over
// every period, so a single losing period is enough to define it.
func Sortino(returns []float64, rf, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sq := make([]float64, len(returns))
	for i, r := range returns {
		if d := r - rf; d < 0 {
			sq[i] = d * d
		}
	}
	dd := math.Sqrt(stat.Mean(sq, nil))
	if dd == 0 || math.IsNaN(dd) {
		return 0
	}
	return (stat.Mean(returns, nil) - rf) / dd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the largest peak-to-trough fall as a positive fraction.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// WinRate is the share of trades bought below mark.
func WinRate(trades []models.Trade, mark float64) float64 {
	if len(trades) == 0 || mark <= 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if mark-t.Price > priceTolerance*t.Price {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

func totalInvestment(trades []models.Trade) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.Value
	}
	return sum
}

// markPrice recovers the last close from the curve: the final value minus
// the remaining cash is the market value of all shares held.
func markPrice(opts Options, final float64, trades []models.Trade) float64 {
	if opts.MarkPrice > 0 {
		return opts.MarkPrice
	}
	var shares float64
	for _, t := range trades {
		shares += t.Shares
	}
	if shares <= 0 {
		return 0
	}
	holdings := final
	if opts.Mode != models.SizingUnlimited {
		holdings = final - (opts.InitialCapital - totalInvestment(trades))
	}
	return holdings / shares
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
