package models

import (
	"fmt"
	"math"
	"time"
)

const DateLayout = "2006-01-02"

// PricePoint is a single daily bar. Open/High/Low are optional and zero when unknown.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open,omitempty"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
}

// PriceSeries is ordered by strictly increasing, unique dates.
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

func NewPriceSeries(symbol string, points []PricePoint) PriceSeries {
	return PriceSeries{Symbol: symbol, Points: points}
}

func (s PriceSeries) Len() int {
	return len(s.Points)
}

func (s PriceSeries) Empty() bool {
	return len(s.Points) == 0
}

func (s PriceSeries) First() PricePoint {
	return s.Points[0]
}

func (s PriceSeries) Last() PricePoint {
	return s.Points[len(s.Points)-1]
}

// Closes returns a fresh slice of close prices.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// DateStrings formats every bar date with DateLayout.
func (s PriceSeries) DateStrings() []string {
	return FormatDates(s.Dates())
}

// Since returns the bars dated on or after start. The returned series shares
// the backing array with s.
func (s PriceSeries) Since(start time.Time) PriceSeries {
	day := TruncateDay(start)
	for i, p := range s.Points {
		if !TruncateDay(p.Date).Before(day) {
			return PriceSeries{Symbol: s.Symbol, Points: s.Points[i:]}
		}
	}
	return PriceSeries{Symbol: s.Symbol}
}

// Validate checks ordering, uniqueness and that closes are finite and positive.
func (s PriceSeries) Validate() error {
	for i, p := range s.Points {
		if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) || p.Close <= 0 {
			return fmt.Errorf("invalid close %v at %s", p.Close, p.Date.Format(DateLayout))
		}
		if i > 0 && !TruncateDay(p.Date).After(TruncateDay(s.Points[i-1].Date)) {
			return fmt.Errorf("dates not strictly increasing at %s", p.Date.Format(DateLayout))
		}
	}
	return nil
}

// TruncateDay drops the clock part, keeping the calendar day in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(DateLayout)
	}
	return out
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}
