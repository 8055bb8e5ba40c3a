package models

import (
	"encoding/json"
	"time"
)

type SizingMode string

const (
	SizingFixed     SizingMode = "fixed"
	SizingUnlimited SizingMode = "unlimited"
	SizingPercent   SizingMode = "percent"
)

// Sizing describes how much each buy spends.
type Sizing struct {
	Mode           SizingMode `json:"mode"`
	PositionSize   float64    `json:"position_size"`
	InitialCapital float64    `json:"initial_capital"`
	// Allocation is the fraction of remaining cash spent per trade in percent mode.
	Allocation float64 `json:"allocation,omitempty"`
}

type TradeAction string

const ActionBuy TradeAction = "buy"

type Trade struct {
	Date       time.Time      `json:"date"`
	SignalDate time.Time      `json:"signal_date"`
	Action     TradeAction    `json:"action"`
	Price      float64        `json:"price"`
	Shares     float64        `json:"shares"`
	Value      float64        `json:"value"`
	Sentiment  SentimentLabel `json:"sentiment"`
	Score      float64        `json:"score"`
}

func (t Trade) MarshalJSON() ([]byte, error) {
	type alias Trade
	return json.Marshal(struct {
		alias
		Date       string `json:"date"`
		SignalDate string `json:"signal_date"`
	}{
		alias:      alias(t),
		Date:       t.Date.Format(DateLayout),
		SignalDate: t.SignalDate.Format(DateLayout),
	})
}

func (t *Trade) UnmarshalJSON(data []byte) error {
	type alias Trade
	aux := struct {
		*alias
		Date       string `json:"date"`
		SignalDate string `json:"signal_date"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if t.Date, err = ParseDate(aux.Date); err != nil {
		return err
	}
	if aux.SignalDate != "" {
		if t.SignalDate, err = ParseDate(aux.SignalDate); err != nil {
			return err
		}
	}
	return nil
}

// EquityCurve holds one portfolio valuation per trading day.
type EquityCurve struct {
	Dates  []time.Time
	Values []float64
}

func (c EquityCurve) Len() int {
	return len(c.Values)
}

func (c EquityCurve) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Dates  []string  `json:"dates"`
		Values []float64 `json:"values"`
	}{
		Dates:  FormatDates(c.Dates),
		Values: c.Values,
	})
}

func (c *EquityCurve) UnmarshalJSON(data []byte) error {
	var aux struct {
		Dates  []string  `json:"dates"`
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	dates := make([]time.Time, len(aux.Dates))
	for i, d := range aux.Dates {
		t, err := ParseDate(d)
		if err != nil {
			return err
		}
		dates[i] = t
	}
	c.Dates, c.Values = dates, aux.Values
	return nil
}

type PerformanceMetrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalCapital     float64 `json:"final_capital"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`

	// Set only in unlimited-capital mode.
	UnlimitedMode        bool     `json:"unlimited_mode,omitempty"`
	TotalInvestment      *float64 `json:"total_investment,omitempty"`
	PositionSizePerTrade *float64 `json:"position_size_per_trade,omitempty"`
	NumberOfTrades       *int     `json:"number_of_trades,omitempty"`
}

type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type BuyHold struct {
	InitialValue float64 `json:"initial_value"`
	FinalValue   float64 `json:"final_value"`
	Return       float64 `json:"return"`
}

// MarketIndexBlock is the benchmark normalised to the strategy's starting capital.
type MarketIndexBlock struct {
	Symbol string    `json:"symbol"`
	Name   string    `json:"name"`
	Dates  []string  `json:"dates"`
	Values []float64 `json:"values"`
	Return float64   `json:"return"`
}

type MarketComparison struct {
	Period             Period            `json:"period"`
	MarketReturn       float64           `json:"market_return"`
	StrategyReturn     float64           `json:"strategy_return"`
	Outperformance     float64           `json:"outperformance"`
	BuyHold            BuyHold           `json:"buy_hold"`
	BenchmarkAvailable bool              `json:"benchmark_available"`
	MarketIndex        *MarketIndexBlock `json:"market_index,omitempty"`
}

type BacktestResult struct {
	RunID              string             `json:"run_id,omitempty"`
	Ticker             string             `json:"ticker"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	Trades             []Trade            `json:"trades"`
	EquityCurve        EquityCurve        `json:"equity_curve"`
	MarketComparison   MarketComparison   `json:"market_comparison"`
}
