// Package backtest simulates the buy-and-hold earnings sentiment rule.
//
// Every optimistic signal buys at the close of the next trading day. Nothing
// is ever sold. The simulator returns the executed trades and an equity
// curve with one value per price bar.
package backtest

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/internal/quant"
	"github.com/dyike/CortexQuant/models"
)

const cashEpsilon = 1e-9

// Ledger summarises what happened to every input signal.
type Ledger struct {
	Signals         int
	BuySignals      int
	Skipped         []models.SentimentSignal // optimistic but not affordable
	Unmatched       []models.SentimentSignal // no bar after the signal date
	Cash            float64
	Shares          float64
	TotalInvestment float64
}

type Result struct {
	Trades      []models.Trade
	EquityCurve models.EquityCurve
	Ledger      Ledger
}

type Simulator struct {
	sizing models.Sizing
	log    logrus.FieldLogger
}

type Option func(*Simulator)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulator) { s.log = l }
}

// New validates sizing and returns a simulator for it.
func New(sizing models.Sizing, opts ...Option) (*Simulator, error) {
	if err := ValidateSizing(sizing); err != nil {
		return nil, err
	}
	s := &Simulator{sizing: sizing}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s, nil
}

// Simulate is shorthand for New(sizing).Run(prices, signals).
func Simulate(prices models.PriceSeries, signals []models.SentimentSignal, sizing models.Sizing) (Result, error) {
	sim, err := New(sizing)
	if err != nil {
		return Result{}, err
	}
	return sim.Run(prices, signals)
}

func ValidateSizing(s models.Sizing) error {
	switch s.Mode {
	case models.SizingFixed:
		if s.PositionSize <= 0 {
			return errors.Wrap(quant.ErrInvalidParameter, "position size must be positive")
		}
		if s.InitialCapital <= 0 {
			return errors.Wrap(quant.ErrInvalidParameter, "initial capital must be positive")
		}
	case models.SizingUnlimited:
		if s.PositionSize <= 0 {
			return errors.Wrap(quant.ErrInvalidParameter, "position size must be positive")
		}
	case models.SizingPercent:
		if s.InitialCapital <= 0 {
			return errors.Wrap(quant.ErrInvalidParameter, "initial capital must be positive")
		}
		if s.Allocation <= 0 || s.Allocation > 1 {
			return errors.Wrapf(quant.ErrInvalidParameter, "allocation %v outside (0, 1]", s.Allocation)
		}
	default:
		return errors.Wrapf(quant.ErrInvalidParameter, "unknown sizing mode %q", s.Mode)
	}
	if math.IsNaN(s.PositionSize) || math.IsInf(s.PositionSize, 0) ||
		math.IsNaN(s.InitialCapital) || math.IsInf(s.InitialCapital, 0) {
		return errors.Wrap(quant.ErrInvalidParameter, "sizing amounts must be finite")
	}
	return nil
}

func (s *Simulator) Run(prices models.PriceSeries, signals []models.SentimentSignal) (Result, error) {
	if prices.Empty() {
		return Result{}, errors.Wrap(quant.ErrInsufficientData, "no price bars to simulate")
	}

	aligned, unmatched := AlignSignals(prices, signals)
	byBar := make(map[int][]models.SentimentSignal, len(aligned))
	for _, a := range aligned {
		byBar[a.Bar] = append(byBar[a.Bar], a.Signal)
	}

	ledger := Ledger{Signals: len(signals), Unmatched: unmatched}
	if s.sizing.Mode != models.SizingUnlimited {
		ledger.Cash = s.sizing.InitialCapital
	}
	for _, sig := range signals {
		if sig.IsBuy() {
			ledger.BuySignals++
		}
	}

	trades := []models.Trade{}
	curve := models.EquityCurve{
		Dates:  make([]time.Time, 0, prices.Len()),
		Values: make([]float64, 0, prices.Len()),
	}

	for i, bar := range prices.Points {
		for _, sig := range byBar[i] {
			if !sig.IsBuy() {
				continue
			}
			spend := s.spend(ledger.Cash)
			if spend <= 0 {
				ledger.Skipped = append(ledger.Skipped, sig)
				s.log.WithFields(logrus.Fields{
					"signal_date": sig.Date.Format(models.DateLayout),
					"cash":        ledger.Cash,
				}).Debug("insufficient capital, signal skipped")
				continue
			}

			shares := spend / bar.Close
			ledger.Shares += shares
			ledger.TotalInvestment += spend
			if s.sizing.Mode != models.SizingUnlimited {
				ledger.Cash = math.Max(ledger.Cash-spend, 0)
			}
			trades = append(trades, models.Trade{
				Date:       bar.Date,
				SignalDate: sig.Date,
				Action:     models.ActionBuy,
				Price:      bar.Close,
				Shares:     shares,
				Value:      spend,
				Sentiment:  sig.Label,
				Score:      sig.Score,
			})
		}

		curve.Dates = append(curve.Dates, bar.Date)
		curve.Values = append(curve.Values, ledger.Cash+ledger.Shares*bar.Close)
	}

	s.log.WithFields(logrus.Fields{
		"symbol":    prices.Symbol,
		"mode":      s.sizing.Mode,
		"trades":    len(trades),
		"skipped":   len(ledger.Skipped),
		"unmatched": len(ledger.Unmatched),
	}).Info("backtest simulated")

	return Result{Trades: trades, EquityCurve: curve, Ledger: ledger}, nil
}

// spend returns the dollar amount of the next buy, or 0 to skip it.
func (s *Simulator) spend(cash float64) float64 {
	switch s.sizing.Mode {
	case models.SizingUnlimited:
		return s.sizing.PositionSize
	case models.SizingPercent:
		amount := math.Min(s.sizing.Allocation*cash, cash)
		if amount <= cashEpsilon {
			return 0
		}
		return amount
	default:
		if cash+cashEpsilon < s.sizing.PositionSize {
			return 0
		}
		return s.sizing.PositionSize
	}
}
