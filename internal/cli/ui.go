package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/internal/storage"
	"github.com/dyike/CortexQuant/models"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1).
			MarginBottom(1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(72)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(24)

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// DisplayWelcomeBanner shows the banner for interactive mode.
func DisplayWelcomeBanner() {
	banner := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true).
		Align(lipgloss.Center).
		Width(72).
		Render("CortexQuant")
	tagline := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#3B82F6")).
		Italic(true).
		Align(lipgloss.Center).
		Width(72).
		MarginBottom(1).
		Render("Earnings sentiment forecasting and backtesting")

	fmt.Println(banner)
	fmt.Println(tagline)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func pct(v float64) string {
	s := fmt.Sprintf("%+.2f%%", v*100)
	if v < 0 {
		return lossStyle.Render(s)
	}
	return gainStyle.Render(s)
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// RenderForecast formats the forecast bands as a table.
func RenderForecast(res models.ForecastResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Forecast %s (%d days)", res.Metadata.Ticker, res.Metadata.ForecastDays)))
	b.WriteString("\n")

	var body strings.Builder
	n := len(res.Historical.Prices)
	if n > 0 {
		body.WriteString(row("Last close", fmt.Sprintf("%.2f on %s", res.Historical.Prices[n-1], res.Historical.Dates[n-1])))
	}
	body.WriteString(row("History", fmt.Sprintf("%d trading days", n)))
	body.WriteString(row("Method", string(res.Forecast.Method)))
	body.WriteString("\n")
	body.WriteString(mutedStyle.Render(fmt.Sprintf("%-12s %10s %10s %10s", "Date", "P10", "P50", "P90")))
	body.WriteString("\n")

	bands := res.Forecast.Bands
	for _, i := range sampleIndexes(len(res.Forecast.Dates), 10) {
		body.WriteString(fmt.Sprintf("%-12s %10.2f %10.2f %10.2f\n",
			res.Forecast.Dates[i], bands.P10[i], bands.P50[i], bands.P90[i]))
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(body.String(), "\n")))
	return b.String()
}

// sampleIndexes picks at most max evenly spaced indexes of [0, n), always
// including the last one.
func sampleIndexes(n, max int) []int {
	if n <= 0 {
		return nil
	}
	if n <= max {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, max)
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		out = append(out, int(float64(i)*step+0.5))
	}
	return out
}

// RenderBacktest formats the metrics, trades and market comparison of a run.
func RenderBacktest(res models.BacktestResult) string {
	pm := res.PerformanceMetrics
	mc := res.MarketComparison

	var b strings.Builder
	b.WriteString(titleStyle.Render("Backtest " + res.Ticker))
	b.WriteString("\n")

	var perf strings.Builder
	if res.RunID != "" {
		perf.WriteString(row("Run", mutedStyle.Render(res.RunID)))
	}
	perf.WriteString(row("Period", mc.Period.StartDate+" → "+mc.Period.EndDate))
	if pm.UnlimitedMode && pm.TotalInvestment != nil && pm.NumberOfTrades != nil {
		perf.WriteString(row("Mode", "unlimited"))
		perf.WriteString(row("Total investment", fmt.Sprintf("%s over %d trades", money(*pm.TotalInvestment), *pm.NumberOfTrades)))
	} else {
		perf.WriteString(row("Initial capital", money(pm.InitialCapital)))
	}
	perf.WriteString(row("Final capital", money(pm.FinalCapital)))
	perf.WriteString(row("Total return", pct(pm.TotalReturn)))
	perf.WriteString(row("Annualized return", pct(pm.AnnualizedReturn)))
	perf.WriteString(row("Sharpe ratio", fmt.Sprintf("%.2f", pm.SharpeRatio)))
	perf.WriteString(row("Sortino ratio", fmt.Sprintf("%.2f", pm.SortinoRatio)))
	perf.WriteString(row("Max drawdown", lossStyle.Render(fmt.Sprintf("%.2f%%", pm.MaxDrawdown*100))))
	perf.WriteString(row("Win rate", fmt.Sprintf("%.0f%%", pm.WinRate*100)))
	b.WriteString(panelStyle.Render(strings.TrimRight(perf.String(), "\n")))
	b.WriteString("\n")

	var cmp strings.Builder
	name := "buy and hold"
	if mc.BenchmarkAvailable && mc.MarketIndex != nil {
		name = mc.MarketIndex.Name
	}
	cmp.WriteString(row("Market ("+name+")", pct(mc.MarketReturn)))
	cmp.WriteString(row("Strategy", pct(mc.StrategyReturn)))
	cmp.WriteString(row("Outperformance", pct(mc.Outperformance)))
	cmp.WriteString(row("Buy and hold", fmt.Sprintf("%s → %s", money(mc.BuyHold.InitialValue), money(mc.BuyHold.FinalValue))))
	b.WriteString(panelStyle.Render(strings.TrimRight(cmp.String(), "\n")))
	b.WriteString("\n")

	if len(res.Trades) == 0 {
		b.WriteString(mutedStyle.Render("No trades."))
		return b.String()
	}
	var trades strings.Builder
	trades.WriteString(mutedStyle.Render(fmt.Sprintf("%-12s %-12s %10s %12s %12s", "Signal", "Executed", "Price", "Shares", "Value")))
	trades.WriteString("\n")
	for _, t := range res.Trades {
		trades.WriteString(fmt.Sprintf("%-12s %-12s %10.2f %12.4f %12.2f\n",
			t.SignalDate.Format(models.DateLayout), t.Date.Format(models.DateLayout), t.Price, t.Shares, t.Value))
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(trades.String(), "\n")))
	return b.String()
}

// RenderBatch summarises a multi-ticker run, one line per ticker.
func RenderBatch(results []engine.BatchResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Batch backtest (%d tickers)", len(results))))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-10s %12s %12s %10s %8s", "Ticker", "Return", "vs Market", "Sharpe", "Trades")))
	b.WriteString("\n")
	for _, r := range results {
		if r.Err != nil {
			b.WriteString(fmt.Sprintf("%-10s %s\n", r.Request.Ticker, errorStyle.Render(r.Err.Error())))
			continue
		}
		pm := r.Result.PerformanceMetrics
		b.WriteString(fmt.Sprintf("%-10s %12s %12s %10.2f %8d\n",
			r.Result.Ticker,
			fmt.Sprintf("%+.2f%%", pm.TotalReturn*100),
			fmt.Sprintf("%+.2f%%", r.Result.MarketComparison.Outperformance*100),
			pm.SharpeRatio,
			len(r.Result.Trades)))
	}
	return b.String()
}

// RenderRuns lists stored runs, newest first.
func RenderRuns(runs []storage.RunWithMeta) string {
	if len(runs) == 0 {
		return mutedStyle.Render("No runs recorded yet.")
	}
	var b strings.Builder
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-6s %-36s %-8s %-10s %-12s %12s %10s", "#", "Run", "Ticker", "Mode", "Start", "Final", "Return")))
	b.WriteString("\n")
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("%-6d %-36s %-8s %-10s %-12s %12s %10s\n",
			r.RowID, r.ID, r.Ticker, r.Mode, r.StartDate,
			r.FinalCapital.StringFixed(2),
			fmt.Sprintf("%+.2f%%", r.TotalReturn*100)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderResults lists exported result files.
func RenderResults(results []ResultSummary) string {
	if len(results) == 0 {
		return mutedStyle.Render("No exported results.")
	}
	var b strings.Builder
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-10s %-12s %-10s %-20s %s", "Symbol", "Date", "Kind", "Created", "File")))
	b.WriteString("\n")
	for _, r := range results {
		b.WriteString(fmt.Sprintf("%-10s %-12s %-10s %-20s %s\n",
			r.Symbol, r.Date, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05"), r.FilePath))
	}
	return strings.TrimRight(b.String(), "\n")
}
