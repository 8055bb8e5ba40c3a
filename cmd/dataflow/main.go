// Command dataflow downloads daily bars from the configured provider into the
// offline CSV store, so later runs can work without network access.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

func main() {
	var (
		from      string
		benchmark bool
	)
	cmd := &cobra.Command{
		Use:          "dataflow SYMBOL [SYMBOL...]",
		Short:        "Download daily bars into the offline CSV store",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			log, err := logging.New(logging.Config{Level: cfg.LogLevel})
			if err != nil {
				return err
			}
			start, err := models.ParseDate(from)
			if err != nil {
				return err
			}

			cfg.PriceProvider = onlineProvider(cfg.PriceProvider)
			cfg.OnlineTools = true
			dfi, err := dataflows.NewDataFlowInterface(cfg, dataflows.WithLogger(log), dataflows.WithRefresh())
			if err != nil {
				return err
			}
			symbols := args
			if benchmark {
				symbols = append(symbols, cfg.BenchmarkSymbol)
			}
			return download(cmd.Context(), dfi, log, symbols, start, time.Now())
		},
	}
	cmd.Flags().StringVar(&from, "from", time.Now().AddDate(-5, 0, 0).Format(models.DateLayout), "First day to download (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&benchmark, "benchmark", false, "Also download the configured benchmark index")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func onlineProvider(name string) string {
	if name == config.ProviderCSV {
		return config.ProviderYahoo
	}
	return name
}

func download(ctx context.Context, dfi *dataflows.DataFlowInterface, log logrus.FieldLogger, symbols []string, start, end time.Time) error {
	failed := 0
	for _, symbol := range symbols {
		var (
			series models.PriceSeries
			err    error
		)
		if strings.HasPrefix(symbol, "^") {
			series, err = dfi.GetBenchmark(ctx, symbol, start, end)
		} else {
			series, err = dfi.GetPriceSeries(ctx, symbol, start, end)
		}
		if err != nil {
			log.WithError(err).WithField("symbol", symbol).Error("download failed")
			failed++
			continue
		}
		path, err := dfi.SavePriceSeries(series)
		if err != nil {
			log.WithError(err).WithField("symbol", symbol).Error("save failed")
			failed++
			continue
		}
		log.WithFields(logrus.Fields{"symbol": symbol, "bars": series.Len(), "path": path}).Info("saved")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(symbols))
	}
	return nil
}
