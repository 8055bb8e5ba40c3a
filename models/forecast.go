package models

import "time"

// ForecastMethod records which code path produced a set of bands.
type ForecastMethod string

const (
	ForecastQuantile    ForecastMethod = "quantile"
	ForecastOLSFallback ForecastMethod = "ols_fallback"
	ForecastConstant    ForecastMethod = "constant"
)

// ForecastBands holds one value per horizon day for each band.
type ForecastBands struct {
	Dates          []time.Time    `json:"-"`
	P10            []float64      `json:"P10"`
	P50            []float64      `json:"P50"`
	P90            []float64      `json:"P90"`
	Method         ForecastMethod `json:"-"`
	FallbackReason string         `json:"-"`
}

func (b ForecastBands) Len() int {
	return len(b.P50)
}

type HistoricalEcho struct {
	Dates  []string  `json:"dates"`
	Prices []float64 `json:"prices"`
}

type ForecastBlock struct {
	Dates  []string       `json:"dates"`
	Bands  ForecastBands  `json:"bands"`
	Method ForecastMethod `json:"method"`
}

type ForecastMetadata struct {
	Ticker       string    `json:"ticker"`
	ForecastDays int       `json:"forecast_days"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// ForecastResult is the response shape consumed by the API layer.
type ForecastResult struct {
	Historical HistoricalEcho   `json:"historical"`
	Forecast   ForecastBlock    `json:"forecast"`
	Metadata   ForecastMetadata `json:"metadata"`
}
