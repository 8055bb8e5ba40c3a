package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexQuant/models"
)

// FMPClient reads daily bars from Financial Modeling Prep.
type FMPClient struct {
	client *resty.Client
	apiKey string
}

func NewFMPClient(cfg *Config) (*FMPClient, error) {
	if cfg.FMPAPIKey == "" {
		return nil, fmt.Errorf("FMP API key not configured")
	}

	timeout := time.Duration(cfg.APITimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.FMPBaseURL)
	client.SetTimeout(timeout)

	return &FMPClient{
		client: client,
		apiKey: cfg.FMPAPIKey,
	}, nil
}

func (fc *FMPClient) Name() string { return ProviderFMP }

type fmpHistorical struct {
	Symbol     string   `json:"symbol"`
	Historical []fmpBar `json:"historical"`
}

type fmpBar struct {
	Date     string          `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adjClose"`
	Volume   float64         `json:"volume"`
}

func (fc *FMPClient) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	resp, err := fc.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"from":   start.Format(models.DateLayout),
			"to":     end.Format(models.DateLayout),
			"apikey": fc.apiKey,
		}).
		Get("/historical-price-full/{symbol}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices for %s: %w", symbol, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusTooManyRequests || code >= 500:
		return nil, fmt.Errorf("API error %d: %s", code, resp.String())
	default:
		return nil, Permanent(fmt.Errorf("API error %d: %s", code, resp.String()))
	}

	// FMP answers {} for unknown symbols.
	var payload fmpHistorical
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, Permanent(fmt.Errorf("failed to parse price response: %w", err))
	}

	result := make([]*MarketData, 0, len(payload.Historical))
	for _, bar := range payload.Historical {
		date, err := time.Parse(models.DateLayout, bar.Date)
		if err != nil {
			continue
		}
		result = append(result, &MarketData{
			Symbol:   symbol,
			Date:     date,
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			AdjClose: bar.AdjClose,
			Volume:   int64(bar.Volume),
		})
	}
	return result, nil
}
