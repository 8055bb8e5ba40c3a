package dataflows

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/models"
)

// Config is an alias for the main application config
type Config = config.Config

// MarketData is one daily bar as delivered by a provider.
type MarketData struct {
	Symbol   string          `json:"symbol"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// ToPriceSeries converts provider bars into a models.PriceSeries. Bars are
// sorted by day, later duplicates of a day replace earlier ones, and bars
// without a positive close are dropped.
func ToPriceSeries(symbol string, bars []*MarketData) models.PriceSeries {
	byDay := make(map[time.Time]models.PricePoint, len(bars))
	for _, b := range bars {
		if b == nil || !b.Close.IsPositive() {
			continue
		}
		day := models.TruncateDay(b.Date)
		byDay[day] = models.PricePoint{
			Date:   day,
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: b.Volume,
		}
	}

	points := make([]models.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return models.NewPriceSeries(symbol, points)
}

// FromPriceSeries is the inverse of ToPriceSeries.
func FromPriceSeries(series models.PriceSeries) []*MarketData {
	out := make([]*MarketData, 0, series.Len())
	for _, p := range series.Points {
		out = append(out, &MarketData{
			Symbol:   series.Symbol,
			Date:     p.Date,
			Open:     decimal.NewFromFloat(p.Open),
			High:     decimal.NewFromFloat(p.High),
			Low:      decimal.NewFromFloat(p.Low),
			Close:    decimal.NewFromFloat(p.Close),
			AdjClose: decimal.NewFromFloat(p.Close),
			Volume:   p.Volume,
		})
	}
	return out
}

// filterRange keeps bars whose day lies in [start, end].
func filterRange(bars []*MarketData, start, end time.Time) []*MarketData {
	from, to := models.TruncateDay(start), models.TruncateDay(end)
	out := bars[:0:0]
	for _, b := range bars {
		day := models.TruncateDay(b.Date)
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}
