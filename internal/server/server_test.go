package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/internal/storage"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type stubPrices map[string]models.PriceSeries

func (s stubPrices) GetPriceSeries(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	series, ok := s[symbol]
	if !ok {
		return models.PriceSeries{}, fmt.Errorf("%s: %w", symbol, dataflows.ErrNoData)
	}
	return series, nil
}

func (s stubPrices) GetBenchmark(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	return s.GetPriceSeries(ctx, symbol, start, end)
}

type stubSignals map[string][]models.SentimentSignal

func (s stubSignals) Signals(ctx context.Context, ticker string, from time.Time) ([]models.SentimentSignal, error) {
	sig, ok := s[ticker]
	if !ok {
		return nil, dataflows.ErrNoSignals
	}
	return sig, nil
}

func seriesOf(symbol string, closes ...float64) models.PriceSeries {
	points := make([]models.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: c}
	}
	return models.NewPriceSeries(symbol, points)
}

func newTestServer(t *testing.T, withStore bool) (*Server, *storage.Store) {
	t.Helper()
	cfg := &config.Config{
		BenchmarkSymbol:     "^GSPC",
		ForecastMinSamples:  10,
		DefaultForecastDays: 30,
		SizingMode:          "fixed",
		InitialCapital:      10000,
		PositionSize:        10000,
	}

	trend := make([]float64, 100)
	for i := range trend {
		trend[i] = 100 + float64(i) + float64(i%5)
	}
	prices := stubPrices{
		"AAPL":  seriesOf("AAPL", trend...),
		"TINY":  seriesOf("TINY", 100, 101, 102, 103, 104),
		"BT":    seriesOf("BT", 100, 102, 101, 105, 110),
		"^GSPC": seriesOf("^GSPC", 4000, 4040, 4020, 4100, 4200),
	}
	signals := stubSignals{"BT": {{Date: day0, Label: models.SentimentOptimistic, Score: 0.8}}}

	var (
		store *storage.Store
		opts  []engine.Option
	)
	if withStore {
		var err error
		store, err = storage.Open(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		opts = append(opts, engine.WithRecorder(store))
	}
	opts = append(opts, engine.WithClock(func() time.Time { return day0.AddDate(0, 6, 0) }))
	eng := engine.New(cfg, prices, signals, opts...)

	srv := New(cfg, eng, WithStore(store))
	return srv, store
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w, body := do(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = do(t, srv.Router(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operational", body["status"])
}

func TestForecastEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w, body := do(t, srv.Router(), http.MethodGet, "/api/forecast/AAPL?start_date=2024-01-02&forecast_days=30", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	hist := body["historical"].(map[string]any)
	assert.Len(t, hist["dates"], 100)
	assert.Len(t, hist["prices"], 100)

	fc := body["forecast"].(map[string]any)
	assert.Len(t, fc["dates"], 30)
	bands := fc["bands"].(map[string]any)
	for _, name := range []string{"P10", "P50", "P90"} {
		assert.Len(t, bands[name], 30, name)
	}
	p10, p50, p90 := bands["P10"].([]any), bands["P50"].([]any), bands["P90"].([]any)
	for i := range p50 {
		assert.LessOrEqual(t, p10[i].(float64), p50[i].(float64))
		assert.LessOrEqual(t, p50[i].(float64), p90[i].(float64))
	}

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "AAPL", meta["ticker"])
	assert.Equal(t, float64(30), meta["forecast_days"])
}

func TestForecastEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Router()

	tests := []struct {
		name   string
		target string
		status int
		detail string
	}{
		{"insufficient", "/api/forecast/TINY?start_date=2024-01-02", http.StatusBadRequest, "insufficient historical data"},
		{"no data", "/api/forecast/NONE?start_date=2024-01-02", http.StatusNotFound, "no price data found"},
		{"bad date", "/api/forecast/AAPL?start_date=invalid-date", http.StatusUnprocessableEntity, "invalid date"},
		{"future", "/api/forecast/AAPL?start_date=2030-01-01", http.StatusBadRequest, "future start date"},
		{"horizon", "/api/forecast/AAPL?forecast_days=-1", http.StatusBadRequest, "forecast_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, body["detail"], tt.detail)
			assert.Equal(t, float64(tt.status), body["status_code"])
		})
	}
}

func TestBacktestRun(t *testing.T) {
	srv, store := newTestServer(t, true)
	w, body := do(t, srv.Router(), http.MethodPost, "/api/backtest/run",
		`{"ticker":"BT","start_date":"2024-01-02","initial_capital":10000,"position_size":10000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Backtest completed for BT", body["message"])
	data := body["data"].(map[string]any)
	for _, key := range []string{"performance_metrics", "trades", "equity_curve", "market_comparison"} {
		assert.Contains(t, data, key)
	}
	perf := data["performance_metrics"].(map[string]any)
	assert.InDelta(t, 0.0784, perf["total_return"], 1e-4)
	assert.NotContains(t, perf, "total_investment")

	cmp := data["market_comparison"].(map[string]any)
	assert.Equal(t, true, cmp["benchmark_available"])
	idx := cmp["market_index"].(map[string]any)
	assert.Equal(t, []any{10000.0, 10100.0, 10050.0, 10250.0, 10500.0}, idx["values"])

	runs, err := store.ListRuns(context.Background(), "BT", 0, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, data["run_id"], runs[0].ID)

	w, body = do(t, srv.Router(), http.MethodGet, "/api/runs/"+runs[0].ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BT", body["data"].(map[string]any)["ticker"])

	w, body = do(t, srv.Router(), http.MethodGet, "/api/runs?ticker=bt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = do(t, srv.Router(), http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBacktestTickerUnlimited(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w, body := do(t, srv.Router(), http.MethodGet, "/api/backtest/BT?start_year=2024&unlimited_capital=true&position_size=5000", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	perf := body["data"].(map[string]any)["performance_metrics"].(map[string]any)
	assert.Equal(t, true, perf["unlimited_mode"])
	assert.Equal(t, 5000.0, perf["total_investment"])
	assert.Equal(t, 1.0, perf["number_of_trades"])
}

func TestBacktestErrors(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Router()

	w, _ := do(t, h, http.MethodPost, "/api/backtest/run", `{"start_year":2024}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/backtest/run", `{"ticker":"BT"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/backtest/BT", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body := do(t, h, http.MethodPost, "/api/backtest/run", `{"ticker":"BT","start_year":2024,"sizing_mode":"percent","allocation":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["detail"], "allocation")

	w, _ = do(t, h, http.MethodGet, "/api/backtest/AAPL?start_year=2024", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "AAPL has prices but no signals")

	w, _ = do(t, h, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "history disabled without a store")
}

func TestEngineSource(t *testing.T) {
	cfg := &config.Config{BenchmarkSymbol: "^GSPC", ForecastMinSamples: 10}
	var current *engine.Engine
	srv := New(cfg, nil, WithEngineSource(func() *engine.Engine { return current }))

	w, body := do(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, body["detail"], "engine not initialized")

	current = engine.New(cfg, stubPrices{}, stubSignals{})
	w, _ = do(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
