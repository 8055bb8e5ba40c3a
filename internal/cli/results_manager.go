package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/utils"
)

const (
	kindBacktest = "backtest"
	kindForecast = "forecast"
)

// ResultsManager exports results under cfg.ResultsDir as
// TICKER_DATE_KIND.json plus a CSV and a markdown report.
type ResultsManager struct {
	resultsDir string
	now        func() time.Time
}

// ResultSummary represents one exported result file
type ResultSummary struct {
	Symbol    string    `json:"symbol"`
	Date      string    `json:"date"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	FilePath  string    `json:"file_path"`
	FileSize  int64     `json:"file_size"`
}

// NewResultsManager creates a new results manager
func NewResultsManager(cfg *config.Config) *ResultsManager {
	return &ResultsManager{resultsDir: cfg.ResultsDir, now: time.Now}
}

func (rm *ResultsManager) baseName(symbol, kind string) string {
	safe := strings.NewReplacer("^", "_", "/", "_", ".", "_").Replace(symbol)
	return fmt.Sprintf("%s_%s_%s", safe, rm.now().Format(models.DateLayout), kind)
}

// SaveBacktest writes the JSON result, the equity curve as CSV and a
// markdown summary. It returns the JSON path.
func (rm *ResultsManager) SaveBacktest(res models.BacktestResult) (string, error) {
	base := rm.baseName(res.Ticker, kindBacktest)
	jsonPath, err := rm.writeJSON(base, res)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, res.EquityCurve.Len()+1)
	rows = append(rows, []string{"date", "value"})
	for i, d := range res.EquityCurve.Dates {
		rows = append(rows, []string{d.Format(models.DateLayout), strconv.FormatFloat(res.EquityCurve.Values[i], 'f', 2, 64)})
	}
	if err := rm.writeCSV(base+"_equity.csv", rows); err != nil {
		return "", err
	}

	if _, err := utils.WriteMarkdown(rm.resultsDir, base+".md", backtestMarkdown(res)); err != nil {
		return "", err
	}
	return jsonPath, nil
}

// SaveForecast writes the JSON result and the bands as CSV.
func (rm *ResultsManager) SaveForecast(res models.ForecastResult) (string, error) {
	base := rm.baseName(res.Metadata.Ticker, kindForecast)
	jsonPath, err := rm.writeJSON(base, res)
	if err != nil {
		return "", err
	}

	b := res.Forecast.Bands
	rows := make([][]string, 0, len(res.Forecast.Dates)+1)
	rows = append(rows, []string{"date", "p10", "p50", "p90"})
	for i, d := range res.Forecast.Dates {
		rows = append(rows, []string{d,
			strconv.FormatFloat(b.P10[i], 'f', 4, 64),
			strconv.FormatFloat(b.P50[i], 'f', 4, 64),
			strconv.FormatFloat(b.P90[i], 'f', 4, 64),
		})
	}
	if err := rm.writeCSV(base+"_bands.csv", rows); err != nil {
		return "", err
	}
	return jsonPath, nil
}

func (rm *ResultsManager) writeJSON(base string, v any) (string, error) {
	if err := os.MkdirAll(rm.resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(rm.resultsDir, base+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func (rm *ResultsManager) writeCSV(name string, rows [][]string) error {
	f, err := os.Create(filepath.Join(rm.resultsDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Sync()
}

// ListResults lists exported JSON results. sortBy is date, symbol or size.
func (rm *ResultsManager) ListResults(sortBy string, reverse bool) ([]ResultSummary, error) {
	if _, err := os.Stat(rm.resultsDir); os.IsNotExist(err) {
		return nil, nil
	}
	var results []ResultSummary
	err := filepath.WalkDir(rm.resultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		// SYMBOL_DATE_KIND.json, where SYMBOL may itself contain underscores
		parts := strings.Split(strings.TrimSuffix(d.Name(), ".json"), "_")
		if len(parts) < 3 {
			return nil
		}
		kind := parts[len(parts)-1]
		if kind != kindBacktest && kind != kindForecast {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		results = append(results, ResultSummary{
			Symbol:    strings.Join(parts[:len(parts)-2], "_"),
			Date:      parts[len(parts)-2],
			Kind:      kind,
			CreatedAt: info.ModTime(),
			FilePath:  path,
			FileSize:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan results directory: %w", err)
	}

	sortResults(results, sortBy, reverse)
	return results, nil
}

func sortResults(results []ResultSummary, sortBy string, reverse bool) {
	var less func(i, j int) bool
	switch strings.ToLower(sortBy) {
	case "symbol":
		less = func(i, j int) bool { return results[i].Symbol < results[j].Symbol }
	case "size":
		less = func(i, j int) bool { return results[i].FileSize < results[j].FileSize }
	default:
		// newest first unless reversed
		less = func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) }
	}
	sort.SliceStable(results, func(i, j int) bool {
		if reverse {
			return less(j, i)
		}
		return less(i, j)
	})
}

// CleanupResults removes exports older than maxAge together with their
// sibling CSV and markdown files.
func (rm *ResultsManager) CleanupResults(maxAge time.Duration) (int, error) {
	results, err := rm.ListResults("date", false)
	if err != nil {
		return 0, err
	}
	cutoff := rm.now().Add(-maxAge)
	removed := 0
	for _, r := range results {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		base := strings.TrimSuffix(r.FilePath, ".json")
		for _, p := range []string{base + ".json", base + ".md", base + "_equity.csv", base + "_bands.csv"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
		}
		removed++
	}
	return removed, nil
}

func backtestMarkdown(res models.BacktestResult) string {
	pm := res.PerformanceMetrics
	mc := res.MarketComparison
	var b strings.Builder
	fmt.Fprintf(&b, "# Backtest %s\n\n", res.Ticker)
	fmt.Fprintf(&b, "Period: %s to %s\n\n", mc.Period.StartDate, mc.Period.EndDate)
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Initial capital | %.2f |\n", pm.InitialCapital)
	fmt.Fprintf(&b, "| Final capital | %.2f |\n", pm.FinalCapital)
	fmt.Fprintf(&b, "| Total return | %.2f%% |\n", pm.TotalReturn*100)
	fmt.Fprintf(&b, "| Annualized return | %.2f%% |\n", pm.AnnualizedReturn*100)
	fmt.Fprintf(&b, "| Sharpe ratio | %.2f |\n", pm.SharpeRatio)
	fmt.Fprintf(&b, "| Sortino ratio | %.2f |\n", pm.SortinoRatio)
	fmt.Fprintf(&b, "| Max drawdown | %.2f%% |\n", pm.MaxDrawdown*100)
	fmt.Fprintf(&b, "| Win rate | %.0f%% |\n", pm.WinRate*100)
	fmt.Fprintf(&b, "| Market return | %.2f%% |\n", mc.MarketReturn*100)
	fmt.Fprintf(&b, "| Outperformance | %.2f%% |\n", mc.Outperformance*100)

	if len(res.Trades) > 0 {
		b.WriteString("\n## Trades\n\n| Signal | Executed | Price | Shares | Value |\n|---|---|---|---|---|\n")
		for _, t := range res.Trades {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %.4f | %.2f |\n",
				t.SignalDate.Format(models.DateLayout), t.Date.Format(models.DateLayout), t.Price, t.Shares, t.Value)
		}
	}
	return b.String()
}
