package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/dyike/CortexQuant/internal/engine"
)

const (
	actionBacktest = "Backtest the sentiment strategy"
	actionForecast = "Forecast price bands"
)

// runInteractiveMode asks for a ticker and a task, runs it, and repeats
// until the user declines or presses Ctrl-C.
func runInteractiveMode(ctx context.Context, a *application) error {
	DisplayWelcomeBanner()
	for {
		err := runInteractiveOnce(ctx, a)
		if errors.Is(err, terminal.InterruptErr) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		}

		again, err := PromptForRestartOrExit()
		if err != nil || !again {
			return nil
		}
	}
}

func runInteractiveOnce(ctx context.Context, a *application) error {
	ticker, err := PromptForTicker()
	if err != nil {
		return err
	}
	action, err := PromptForAction()
	if err != nil {
		return err
	}

	if action == actionForecast {
		days, err := PromptForForecastDays(a.cfg.DefaultForecastDays)
		if err != nil {
			return err
		}
		eng, _, err := a.newEngine(nil)
		if err != nil {
			return err
		}
		res, err := eng.Forecast(ctx, engine.ForecastRequest{Ticker: ticker, ForecastDays: days})
		if err != nil {
			return err
		}
		fmt.Println(RenderForecast(res))
		return nil
	}

	year, err := PromptForStartYear()
	if err != nil {
		return err
	}
	sizing, err := PromptForSizing(engine.SizingFromConfig(a.cfg, false))
	if err != nil {
		return err
	}
	return runBacktestCommand(ctx, os.Stdout, a, []string{ticker}, backtestFlags{
		startYear:    year,
		mode:         string(sizing.Mode),
		capital:      sizing.InitialCapital,
		positionSize: sizing.PositionSize,
		allocation:   sizing.Allocation,
	})
}
