package dataflows

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexQuant/models"
)

var (
	rangeStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

type fakeProvider struct {
	name  string
	calls atomic.Int32
	fails int32
	bars  []*MarketData
	err   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if n <= f.fails {
		return nil, errors.New("temporary outage")
	}
	return f.bars, nil
}

func bar(day int, closePx string) *MarketData {
	return &MarketData{
		Date:  rangeStart.AddDate(0, 0, day),
		Close: decimal.RequireFromString(closePx),
	}
}

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	return &Config{
		DataDir:         filepath.Join(dir, "data"),
		DataCacheDir:    filepath.Join(dir, "cache"),
		OnlineTools:     true,
		CacheEnabled:    true,
		CacheTTLSeconds: 60,
		PriceProvider:   ProviderYahoo,
	}
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func newTestInterface(t *testing.T, cfg *Config, p PriceProvider) *DataFlowInterface {
	t.Helper()
	dfi, err := NewDataFlowInterface(cfg,
		WithProvider(p),
		WithBenchmarkProvider(p),
		WithRetryConfig(fastRetry()),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return dfi
}

func TestGetPriceSeriesRetriesAndCaches(t *testing.T) {
	cfg := testConfig(t)
	p := &fakeProvider{name: "fake", fails: 1, bars: []*MarketData{bar(1, "101"), bar(0, "100")}}
	dfi := newTestInterface(t, cfg, p)

	series, err := dfi.GetPriceSeries(context.Background(), " aapl ", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", series.Symbol)
	assert.Equal(t, []float64{100, 101}, series.Closes())
	assert.Equal(t, int32(2), p.calls.Load())

	_, err = dfi.GetPriceSeries(context.Background(), "AAPL", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load(), "second call should hit the cache")
}

func TestGetPriceSeriesNoData(t *testing.T) {
	dfi := newTestInterface(t, testConfig(t), &fakeProvider{name: "fake"})

	_, err := dfi.GetPriceSeries(context.Background(), "ZZZZ", rangeStart, rangeEnd)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestGetPriceSeriesPermanentErrorNotRetried(t *testing.T) {
	p := &fakeProvider{name: "fake", err: Permanent(errors.New("bad key"))}
	dfi := newTestInterface(t, testConfig(t), p)

	_, err := dfi.GetPriceSeries(context.Background(), "AAPL", rangeStart, rangeEnd)
	require.Error(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGetPriceSeriesOfflineFirst(t *testing.T) {
	cfg := testConfig(t)
	p := &fakeProvider{name: "fake"}
	dfi := newTestInterface(t, cfg, p)

	offline := models.NewPriceSeries("MSFT", []models.PricePoint{
		{Date: rangeStart, Close: 370.5, Volume: 10},
		{Date: rangeStart.AddDate(0, 0, 1), Close: 372},
	})
	_, err := dfi.SavePriceSeries(offline)
	require.NoError(t, err)

	series, err := dfi.GetPriceSeries(context.Background(), "MSFT", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Equal(t, []float64{370.5, 372}, series.Closes())
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestGetPriceSeriesRefreshSkipsOffline(t *testing.T) {
	cfg := testConfig(t)
	p := &fakeProvider{name: "fake", bars: []*MarketData{bar(0, "380")}}
	dfi, err := NewDataFlowInterface(cfg,
		WithProvider(p),
		WithRetryConfig(fastRetry()),
		WithLogger(quietLogger()),
		WithRefresh(),
	)
	require.NoError(t, err)

	_, err = dfi.SavePriceSeries(models.NewPriceSeries("MSFT", []models.PricePoint{{Date: rangeStart, Close: 370.5}}))
	require.NoError(t, err)

	series, err := dfi.GetPriceSeries(context.Background(), "MSFT", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Equal(t, []float64{380}, series.Closes())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGetPriceSeriesOnlineDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.OnlineTools = false
	dfi := newTestInterface(t, cfg, &fakeProvider{name: "fake", bars: []*MarketData{bar(0, "1")}})

	_, err := dfi.GetPriceSeries(context.Background(), "AAPL", rangeStart, rangeEnd)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestGetPriceSeriesRejectsBadSymbol(t *testing.T) {
	dfi := newTestInterface(t, testConfig(t), &fakeProvider{name: "fake"})
	_, err := dfi.GetPriceSeries(context.Background(), "not a symbol", rangeStart, rangeEnd)
	assert.Error(t, err)
}

func TestToPriceSeriesSortsAndDedupes(t *testing.T) {
	later := bar(0, "99")
	later.Date = later.Date.Add(20 * time.Hour)
	series := ToPriceSeries("X", []*MarketData{bar(2, "102"), bar(0, "100"), later, bar(1, "0"), nil})
	// later replaces the earlier bar for the same day

	assert.Equal(t, []float64{99, 102}, series.Closes())
	assert.NoError(t, series.Validate())
}

func TestCSVStoreRoundTrip(t *testing.T) {
	store := NewCSVStore(t.TempDir())
	in := models.NewPriceSeries("^GSPC", []models.PricePoint{
		{Date: rangeStart, Open: 4700, High: 4750.5, Low: 4690, Close: 4742.83, Volume: 12345},
		{Date: rangeStart.AddDate(0, 0, 1), Close: 4704.81},
	})
	path, err := store.Save(in)
	require.NoError(t, err)
	assert.Equal(t, "_GSPC.csv", filepath.Base(path))

	bars, err := store.GetHistoricalData(context.Background(), "^GSPC", rangeStart, rangeEnd)
	require.NoError(t, err)
	out := ToPriceSeries("^GSPC", bars)
	assert.Equal(t, in.Closes(), out.Closes())
	assert.Equal(t, int64(12345), out.Points[0].Volume)
	assert.Equal(t, 4750.5, out.Points[0].High)

	_, err = store.GetHistoricalData(context.Background(), "NOPE", rangeStart, rangeEnd)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestReadBarsCSVRequiresClose(t *testing.T) {
	_, err := ReadBarsCSV(strings.NewReader("date,open\n2024-01-02,1\n"), "X")
	assert.Error(t, err)

	bars, err := ReadBarsCSV(strings.NewReader("Date,Close\n2024-01-02,10.5\n"), "X")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "10.5", bars[0].Close.String())
}

func TestFMPClient(t *testing.T) {
	var gotPath, gotKey, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("apikey")
		gotFrom = r.URL.Query().Get("from")
		if r.URL.Query().Get("apikey") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","historical":[
			{"date":"2024-01-03","open":184.2,"high":185.9,"low":183.4,"close":184.25,"adjClose":184.25,"volume":58414500},
			{"date":"2024-01-02","open":187.15,"high":188.44,"low":183.89,"close":185.64,"adjClose":185.64,"volume":82488700}
		]}`))
	}))
	defer srv.Close()

	cfg := &Config{FMPAPIKey: "secret", FMPBaseURL: srv.URL, APITimeoutSeconds: 5}
	client, err := NewFMPClient(cfg)
	require.NoError(t, err)

	bars, err := client.GetHistoricalData(context.Background(), "AAPL", rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Equal(t, "/historical-price-full/AAPL", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "2024-01-02", gotFrom)

	series := ToPriceSeries("AAPL", bars)
	assert.Equal(t, []float64{185.64, 184.25}, series.Closes())

	cfg.FMPAPIKey = "wrong"
	bad, err := NewFMPClient(cfg)
	require.NoError(t, err)
	_, err = bad.GetHistoricalData(context.Background(), "AAPL", rangeStart, rangeEnd)
	require.Error(t, err)
	var perm permanentError
	assert.True(t, errors.As(err, &perm), "4xx should not be retried")

	_, err = NewFMPClient(&Config{})
	assert.Error(t, err)
}

func TestCacheManager(t *testing.T) {
	dir := t.TempDir()
	cm := NewCacheManager(dir, time.Minute, true)

	key := map[string]string{"symbol": "AAPL"}
	require.NoError(t, cm.Set("src", "m", key, []int{1, 2}))

	var got []int
	assert.True(t, cm.Get("src", "m", key, &got))
	assert.Equal(t, []int{1, 2}, got)
	assert.False(t, cm.Get("src", "m", map[string]string{"symbol": "MSFT"}, &got))

	// Expire the entry by backdating it.
	path := filepath.Join(dir, cm.getCacheKey("src", "m", key))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	assert.False(t, cm.Get("src", "m", key, &got))
	assert.False(t, FileExists(path))

	disabled := NewCacheManager(dir, time.Minute, false)
	require.NoError(t, disabled.Set("src", "m", key, []int{3}))
	assert.False(t, disabled.Get("src", "m", key, &got))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		return errors.New("down")
	})
	assert.ErrorContains(t, err, "max retries exceeded")
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithRetry(ctx, fastRetry(), func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateSymbol(t *testing.T) {
	for _, ok := range []string{"AAPL", "brk.b", "^GSPC", "700.HK", "BTC-USD"} {
		assert.NoError(t, ValidateSymbol(ok), ok)
	}
	for _, bad := range []string{"", "   ", "A B", "TOOLONGSYMBOL1", "$AAPL"} {
		assert.Error(t, ValidateSymbol(bad), bad)
	}
}

func TestWithRateLimit(t *testing.T) {
	p := &fakeProvider{name: "fake", bars: []*MarketData{bar(0, "1")}}
	assert.Same(t, PriceProvider(p), WithRateLimit(p, 0))

	limited := WithRateLimit(p, 1000)
	assert.Equal(t, "fake", limited.Name())
	_, err := limited.GetHistoricalData(context.Background(), "A", rangeStart, rangeEnd)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithRateLimit(p, 0.001).GetHistoricalData(ctx, "A", rangeStart, rangeEnd)
	assert.Error(t, err)
}
