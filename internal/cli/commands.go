package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/internal/server"
	"github.com/dyike/CortexQuant/internal/storage"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/app"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

const version = "0.1.0"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := newApp()
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "cortexquant",
		Short: "CortexQuant - earnings sentiment forecasting and backtesting",
		Long: `CortexQuant forecasts price bands with quantile regression and backtests
a strategy that buys after optimistic earnings-call sentiment.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(configPath, debug)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start interactive mode
			return runInteractiveMode(cmd.Context(), a)
		},
	}

	rootCmd.AddCommand(newForecastCmd(a))
	rootCmd.AddCommand(newBacktestCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newResultsCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (yaml or json)")

	return rootCmd
}

func newForecastCmd(a *application) *cobra.Command {
	var (
		start  string
		days   int
		asJSON bool
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "forecast SYMBOL",
		Short: "Forecast P10/P50/P90 price bands",
		Long: `Fit quantile regressions on the closing prices since --start and project them
--days calendar days ahead.
Example: cortexquant forecast AAPL --start=2024-01-01 --days=30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.ForecastRequest{Ticker: args[0], ForecastDays: days}
			if start != "" {
				t, err := models.ParseDate(start)
				if err != nil {
					return err
				}
				req.StartDate = t
			}
			eng, _, err := a.newEngine(nil)
			if err != nil {
				return err
			}
			res, err := eng.Forecast(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("forecast failed: %w", err)
			}
			if save {
				path, err := NewResultsManager(a.cfg).SaveForecast(res)
				if err != nil {
					return err
				}
				a.log.WithField("path", path).Info("forecast saved")
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderForecast(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "History start date in YYYY-MM-DD format (one year ago if not provided)")
	cmd.Flags().IntVar(&days, "days", 0, "Forecast horizon in days (config default if not provided)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON result")
	cmd.Flags().BoolVar(&save, "save", false, "Export the result to the results directory")
	return cmd
}

type backtestFlags struct {
	startYear    int
	start        string
	end          string
	mode         string
	capital      float64
	positionSize float64
	allocation   float64
	benchmark    string
	signalsFile  string
	parallel     int
	noRecord     bool
	save         bool
	asJSON       bool
}

func newBacktestCmd(a *application) *cobra.Command {
	var f backtestFlags
	cmd := &cobra.Command{
		Use:   "backtest SYMBOL [SYMBOL...]",
		Short: "Backtest the sentiment strategy",
		Long: `Replay sentiment signals against daily prices and compare the result with
the market.
Example: cortexquant backtest AAPL MSFT --start-year=2023 --mode=unlimited`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktestCommand(cmd.Context(), cmd.OutOrStdout(), a, args, f)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.startYear, "start-year", 0, "First year of the backtest (January 1st)")
	fl.StringVar(&f.start, "start", "", "Start date in YYYY-MM-DD format, overrides --start-year")
	fl.StringVar(&f.end, "end", "", "End date in YYYY-MM-DD format (today if not provided)")
	fl.StringVar(&f.mode, "mode", "", "Sizing mode: fixed, unlimited or percent")
	fl.Float64Var(&f.capital, "capital", 0, "Initial capital")
	fl.Float64Var(&f.positionSize, "position-size", 0, "Amount spent per trade")
	fl.Float64Var(&f.allocation, "allocation", 0, "Fraction of cash per trade in percent mode")
	fl.StringVar(&f.benchmark, "benchmark", "", "Benchmark index symbol")
	fl.StringVar(&f.signalsFile, "signals", "", "Sentiment signals file (json or csv), single ticker only")
	fl.IntVar(&f.parallel, "parallel", 0, "Tickers to run concurrently")
	fl.BoolVar(&f.noRecord, "no-record", false, "Do not save the run to history")
	fl.BoolVar(&f.save, "save", false, "Export results to the results directory")
	fl.BoolVar(&f.asJSON, "json", false, "Print the raw JSON result")
	return cmd
}

// backtestRequests turns flags into one request per ticker.
func backtestRequests(cfg *config.Config, tickers []string, f backtestFlags) ([]engine.BacktestRequest, error) {
	var start, end time.Time
	switch {
	case f.start != "":
		t, err := models.ParseDate(f.start)
		if err != nil {
			return nil, err
		}
		start = t
	case f.startYear > 0:
		start = engine.StartOfYear(f.startYear)
	default:
		return nil, fmt.Errorf("--start-year or --start is required")
	}
	if f.end != "" {
		t, err := models.ParseDate(f.end)
		if err != nil {
			return nil, err
		}
		end = t.Add(24*time.Hour - time.Nanosecond)
	}

	sizing := engine.SizingFromConfig(cfg, f.mode == string(models.SizingUnlimited))
	if f.mode != "" {
		sizing.Mode = models.SizingMode(f.mode)
	}
	if f.capital > 0 {
		sizing.InitialCapital = f.capital
	}
	if f.positionSize > 0 {
		sizing.PositionSize = f.positionSize
	}
	if f.allocation > 0 {
		sizing.Allocation = f.allocation
	}

	var signals []models.SentimentSignal
	if f.signalsFile != "" {
		if len(tickers) > 1 {
			return nil, fmt.Errorf("--signals applies to a single ticker")
		}
		loaded, err := dataflows.LoadSignals(f.signalsFile)
		if err != nil {
			return nil, err
		}
		signals = loaded
	}

	reqs := make([]engine.BacktestRequest, 0, len(tickers))
	for _, t := range tickers {
		reqs = append(reqs, engine.BacktestRequest{
			Ticker:    strings.ToUpper(strings.TrimSpace(t)),
			StartDate: start,
			EndDate:   end,
			Sizing:    sizing,
			Benchmark: f.benchmark,
			Signals:   signals,
		})
	}
	return reqs, nil
}

func runBacktestCommand(ctx context.Context, out io.Writer, a *application, tickers []string, f backtestFlags) error {
	reqs, err := backtestRequests(a.cfg, tickers, f)
	if err != nil {
		return err
	}

	var rec engine.Recorder
	if !f.noRecord {
		st, err := a.openStore()
		if err != nil {
			a.log.WithError(err).Warn("run history unavailable")
		} else if st != nil {
			rec = st
		}
	}
	eng, _, err := a.newEngine(rec)
	if err != nil {
		return err
	}

	export := func(res models.BacktestResult) {
		if !f.save {
			return
		}
		path, err := NewResultsManager(a.cfg).SaveBacktest(res)
		if err != nil {
			a.log.WithError(err).WithField("ticker", res.Ticker).Warn("export failed")
			return
		}
		a.log.WithField("path", path).Info("backtest saved")
	}

	if len(reqs) == 1 {
		res, err := eng.Backtest(ctx, reqs[0])
		if err != nil {
			return fmt.Errorf("backtest failed: %w", err)
		}
		export(res)
		if f.asJSON {
			return writeJSON(out, res)
		}
		fmt.Fprintln(out, RenderBacktest(res))
		return nil
	}

	results := eng.BacktestMany(ctx, reqs, f.parallel)
	for _, r := range results {
		if r.Err == nil {
			export(r.Result)
		}
	}
	if f.asJSON {
		return writeJSON(out, batchJSON(results))
	}
	fmt.Fprintln(out, RenderBatch(results))
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d backtests failed", countFailed(results), len(results))
		}
	}
	return nil
}

type batchItem struct {
	Ticker string                 `json:"ticker"`
	Result *models.BacktestResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func batchJSON(results []engine.BatchResult) []batchItem {
	out := make([]batchItem, len(results))
	for i, r := range results {
		out[i].Ticker = r.Request.Ticker
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			continue
		}
		res := r.Result
		out[i].Result = &res
	}
	return out
}

func countFailed(results []engine.BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func newServeCmd(a *application) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.ServerAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				rec  engine.Recorder
				opts []server.Option
			)
			st, err := a.openStore()
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			if st != nil {
				async, err := storage.NewAsyncRecorder(st, a.log)
				if err != nil {
					return err
				}
				defer async.Close()
				rec = async
				opts = append(opts, server.WithStore(st))
			}

			eng, dfi, err := a.newEngine(rec)
			if err != nil {
				return err
			}
			if a.manager != nil {
				rt, err := app.NewRuntime(ctx, a.manager, func(c config.Config) (*engine.Engine, error) {
					if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
						a.log.SetLevel(lvl)
					}
					return buildEngine(&c, a.log, rec)
				}, app.WithLogger(a.log))
				if err != nil {
					return err
				}
				defer rt.Close()
				opts = append(opts, server.WithEngineSource(rt.Engine))
			}

			a.log.WithFields(logrus.Fields{
				"provider": dfi.ProviderName(),
				"history":  st != nil,
				"reload":   a.manager != nil,
			}).Info("starting server")
			opts = append(opts, server.WithLogger(a.log))
			return server.New(a.cfg, eng, opts...).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (config server_addr if not provided)")
	return cmd
}

func newHistoryCmd(a *application) *cobra.Command {
	var (
		ticker string
		cursor int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireStore()
			if err != nil {
				return err
			}
			runs, err := st.ListRuns(cmd.Context(), ticker, cursor, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderRuns(runs))
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "Only runs for this ticker")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "Show runs older than this row number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireStore()
			if err != nil {
				return err
			}
			res, err := st.LoadResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderBacktest(*res))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireStore()
			if err != nil {
				return err
			}
			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func (a *application) requireStore() (*storage.Store, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("run history is disabled, set db_path")
	}
	return st, nil
}

func newResultsCmd(a *application) *cobra.Command {
	var (
		sortBy  string
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List exported result files",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := NewResultsManager(a.cfg).ListResults(sortBy, reverse)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderResults(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "date", "Sort by date, symbol or size")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "Reverse the sort order")

	var olderThan time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Delete exported results older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := NewResultsManager(a.cfg).CleanupResults(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d results\n", n)
			return nil
		},
	}
	clean.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of results to delete")
	cmd.AddCommand(clean)
	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "CortexQuant v%s\n", version)
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(a *application) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.OutOrStdout(), a.cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and data sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), a.cfg)
		},
	})

	return configCmd
}

// showConfig prints the configuration as YAML with secrets masked.
func showConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	for _, s := range []*string{&masked.FMPAPIKey, &masked.LongportAppKey, &masked.LongportAppSecret, &masked.LongportAccessToken} {
		if *s != "" {
			*s = "****"
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(masked); err != nil {
		return err
	}
	return enc.Close()
}

func validateConfig(w io.Writer, cfg *config.Config) error {
	fmt.Fprintln(w, "Validating CortexQuant configuration...")
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(w, errorStyle.Render("config: "+err.Error()))
		return err
	}
	fmt.Fprintln(w, gainStyle.Render("config: ok"))

	if _, err := dataflows.NewProvider(cfg); err != nil {
		fmt.Fprintln(w, errorStyle.Render("provider "+cfg.PriceProvider+": "+err.Error()))
		return err
	}
	fmt.Fprintln(w, gainStyle.Render("provider "+cfg.PriceProvider+": ok"))

	if _, err := os.Stat(dataflows.NewSignalStore(cfg.DataDir).Dir()); err != nil {
		fmt.Fprintln(w, mutedStyle.Render("signals: no sentiment directory yet, backtests need --signals"))
	} else {
		fmt.Fprintln(w, gainStyle.Render("signals: ok"))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
