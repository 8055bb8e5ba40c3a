package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func seriesOf(symbol string, closes ...float64) models.PriceSeries {
	points := make([]models.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: c}
	}
	return models.NewPriceSeries(symbol, points)
}

// offlineEnv points the default config at a temp dir holding CSV prices and
// a signals file, with network access disabled.
func offlineEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	for k, v := range map[string]string{
		"PROJECT_DIR":         root,
		"RESULTS_DIR":         filepath.Join(root, "results"),
		"DATA_DIR":            dataDir,
		"DATA_CACHE_DIR":      filepath.Join(root, "cache"),
		"CORTEXQUANT_DB_PATH": filepath.Join(root, "runs.db"),
		"PRICE_PROVIDER":      config.ProviderCSV,
		"ONLINE_TOOLS":        "false",
		"LOG_LEVEL":           "error",
		"SIZING_MODE":         "fixed",
		"INITIAL_CAPITAL":     "10000",
		"POSITION_SIZE":       "10000",
		"FMP_API_KEY":         "secret-key",
	} {
		t.Setenv(k, v)
	}

	store := dataflows.NewCSVStore(dataDir)
	_, err := store.Save(seriesOf("BT", 100, 102, 101, 105, 110))
	require.NoError(t, err)
	_, err = store.Save(seriesOf("^GSPC", 4000, 4040, 4020, 4100, 4200))
	require.NoError(t, err)

	sigDir := dataflows.NewSignalStore(dataDir).Dir()
	require.NoError(t, os.MkdirAll(sigDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, "BT.json"),
		[]byte(`[{"date":"2024-01-02","sentiment":"optimistic","score":0.8}]`), 0o644))
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBacktestCommandRecordsRun(t *testing.T) {
	offlineEnv(t)

	out, err := execute(t, "backtest", "BT", "--start-year", "2024", "--json")
	require.NoError(t, err, out)

	var res models.BacktestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, "BT", res.Ticker)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 102.0, res.Trades[0].Price)
	assert.InDelta(t, 10784.31, res.PerformanceMetrics.FinalCapital, 0.01)
	assert.True(t, res.MarketComparison.BenchmarkAvailable)
	assert.NotEmpty(t, res.RunID)

	out, err = execute(t, "history", "--ticker", "bt")
	require.NoError(t, err, out)
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "10784.31")

	out, err = execute(t, "history", "show", res.RunID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Backtest BT")
	assert.Contains(t, out, "2024-01-03")

	_, err = execute(t, "history", "show", "missing")
	assert.Error(t, err)
}

func TestBacktestCommandSignalsFileAndBatch(t *testing.T) {
	root := offlineEnv(t)
	sigFile := filepath.Join(root, "signals.csv")
	require.NoError(t, os.WriteFile(sigFile, []byte("date,label,score\n2024-01-03,optimistic,0.9\n"), 0o644))

	out, err := execute(t, "backtest", "BT", "--start", "2024-01-02", "--signals", sigFile, "--no-record", "--json")
	require.NoError(t, err, out)
	var res models.BacktestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 101.0, res.Trades[0].Price, "executes on the bar after the signal")

	out, err = execute(t, "backtest", "BT", "NOPE", "--start-year", "2024", "--no-record")
	require.Error(t, err)
	assert.Contains(t, out, "BT")
	assert.Contains(t, out, "NOPE")
}

func TestForecastCommandNeedsHistory(t *testing.T) {
	offlineEnv(t)
	_, err := execute(t, "forecast", "BT", "--start", "2024-01-02", "--days", "5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInsufficientData))
}

func TestConfigCommands(t *testing.T) {
	offlineEnv(t)

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "price_provider: csv")
	assert.Contains(t, out, "****")
	assert.NotContains(t, out, "secret-key")

	out, err = execute(t, "config", "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "config: ok")
	assert.Contains(t, out, "signals: ok")

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "CortexQuant v"+version)
}

func TestBacktestRequests(t *testing.T) {
	cfg := &config.Config{SizingMode: "fixed", InitialCapital: 100000, PositionSize: 10000, Allocation: 0.1}

	_, err := backtestRequests(cfg, []string{"AAPL"}, backtestFlags{})
	assert.Error(t, err, "start is required")

	reqs, err := backtestRequests(cfg, []string{" aapl", "msft"}, backtestFlags{startYear: 2023, end: "2023-06-30", mode: "unlimited", positionSize: 5000})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "AAPL", reqs[0].Ticker)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), reqs[0].StartDate)
	assert.Equal(t, "2023-06-30", reqs[0].EndDate.Format(models.DateLayout))
	assert.Equal(t, models.SizingUnlimited, reqs[1].Sizing.Mode)
	assert.Equal(t, 5000.0, reqs[1].Sizing.PositionSize)
	assert.Nil(t, reqs[0].Signals)

	_, err = backtestRequests(cfg, []string{"A", "B"}, backtestFlags{startYear: 2023, signalsFile: "x.json"})
	assert.Error(t, err)

	_, err = backtestRequests(cfg, []string{"A"}, backtestFlags{start: "2023-13-01"})
	assert.Error(t, err)
}

func TestPromptValidators(t *testing.T) {
	assert.NoError(t, validateTicker("brk.b"))
	assert.NoError(t, validateTicker("^GSPC"))
	assert.Error(t, validateTicker(" "))
	assert.Error(t, validateTicker("TOOLONGTICKER"))
	assert.Error(t, validateTicker("a b"))

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	year, err := parseYear(" 2024 ", now)
	require.NoError(t, err)
	assert.Equal(t, 2024, year)
	_, err = parseYear("2027", now)
	assert.Error(t, err)
	_, err = parseYear("abc", now)
	assert.Error(t, err)
}

func TestSampleIndexes(t *testing.T) {
	assert.Nil(t, sampleIndexes(0, 10))
	assert.Equal(t, []int{0, 1, 2}, sampleIndexes(3, 10))

	idx := sampleIndexes(30, 10)
	require.Len(t, idx, 10)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 29, idx[9])
}

func TestRenderBacktestUnlimited(t *testing.T) {
	inv, n := 5000.0, 1
	res := models.BacktestResult{
		Ticker: "BT",
		PerformanceMetrics: models.PerformanceMetrics{
			FinalCapital:    5392.16,
			TotalReturn:     0.0784,
			UnlimitedMode:   true,
			TotalInvestment: &inv,
			NumberOfTrades:  &n,
		},
		MarketComparison: models.MarketComparison{Period: models.Period{StartDate: "2024-01-02", EndDate: "2024-01-06"}},
	}
	out := RenderBacktest(res)
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "$5000.00 over 1 trades")
	assert.Contains(t, out, "+7.84%")
	assert.Contains(t, out, "buy and hold")
	assert.Contains(t, out, "No trades.")
	assert.True(t, strings.Contains(out, "2024-01-02"))
}

func TestResultsManager(t *testing.T) {
	dir := t.TempDir()
	rm := NewResultsManager(&config.Config{ResultsDir: filepath.Join(dir, "results")})
	rm.now = func() time.Time { return day0 }

	empty, err := rm.ListResults("date", false)
	require.NoError(t, err)
	assert.Empty(t, empty)

	res := models.BacktestResult{
		Ticker: "BRK.B",
		Trades: []models.Trade{{Date: day0.AddDate(0, 0, 1), SignalDate: day0, Price: 102, Shares: 1, Value: 102}},
		EquityCurve: models.EquityCurve{
			Dates:  []time.Time{day0, day0.AddDate(0, 0, 1)},
			Values: []float64{10000, 10000},
		},
	}
	path, err := rm.SaveBacktest(res)
	require.NoError(t, err)
	assert.Equal(t, "BRK_B_2024-01-02_backtest.json", filepath.Base(path))

	equity, err := os.ReadFile(strings.TrimSuffix(path, ".json") + "_equity.csv")
	require.NoError(t, err)
	assert.Equal(t, "date,value\n2024-01-02,10000.00\n2024-01-03,10000.00\n", string(equity))

	report, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".md")
	require.NoError(t, err)
	assert.Contains(t, string(report), "# Backtest BRK.B")
	assert.Contains(t, string(report), "| 2024-01-02 | 2024-01-03 | 102.00 |")

	fc := models.ForecastResult{
		Forecast: models.ForecastBlock{
			Dates: []string{"2024-01-03"},
			Bands: models.ForecastBands{P10: []float64{1}, P50: []float64{2}, P90: []float64{3}},
		},
		Metadata: models.ForecastMetadata{Ticker: "AAPL", ForecastDays: 1},
	}
	_, err = rm.SaveForecast(fc)
	require.NoError(t, err)

	list, err := rm.ListResults("symbol", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AAPL", list[0].Symbol)
	assert.Equal(t, kindForecast, list[0].Kind)
	assert.Equal(t, "BRK_B", list[1].Symbol)
	assert.Equal(t, "2024-01-02", list[1].Date)
	assert.Contains(t, RenderResults(list), "BRK_B")

	// Files written now are far newer than day0, so nothing is old enough.
	n, err := rm.CleanupResults(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rm.now = time.Now
	n, err = rm.CleanupResults(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list, err = rm.ListResults("date", false)
	require.NoError(t, err)
	assert.Empty(t, list)
}
