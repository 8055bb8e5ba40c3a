package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/CortexQuant/models"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.^=-]+$`)

func validateTicker(val interface{}) error {
	str := strings.TrimSpace(strings.ToUpper(val.(string)))
	if len(str) == 0 {
		return fmt.Errorf("ticker symbol cannot be empty")
	}
	if len(str) > 10 {
		return fmt.Errorf("ticker symbol too long (max 10 characters)")
	}
	if !tickerPattern.MatchString(str) {
		return fmt.Errorf("invalid ticker format (use letters, numbers, dots, and hyphens only)")
	}
	return nil
}

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, NVDA):",
		Help:    "Sentiment signals are read from the data directory for this ticker",
	}
	if err := survey.AskOne(prompt, &ticker, survey.WithValidator(validateTicker)); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// PromptForAction asks whether to forecast or backtest.
func PromptForAction() (string, error) {
	var choice string
	prompt := &survey.Select{
		Message: "What would you like to run?",
		Options: []string{actionBacktest, actionForecast},
		Default: actionBacktest,
	}
	err := survey.AskOne(prompt, &choice)
	return choice, err
}

// PromptForStartYear asks for the first year of the backtest window.
func PromptForStartYear() (int, error) {
	var raw string
	prompt := &survey.Input{
		Message: "Start year:",
		Default: strconv.Itoa(time.Now().Year() - 1),
	}
	err := survey.AskOne(prompt, &raw, survey.WithValidator(func(val interface{}) error {
		_, err := parseYear(val.(string), time.Now())
		return err
	}))
	if err != nil {
		return 0, err
	}
	return parseYear(raw, time.Now())
}

func parseYear(raw string, now time.Time) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", raw)
	}
	if year < 1970 || year > now.Year() {
		return 0, fmt.Errorf("year must be between 1970 and %d", now.Year())
	}
	return year, nil
}

// PromptForSizing asks for the sizing mode and its amount.
func PromptForSizing(def models.Sizing) (models.Sizing, error) {
	var mode string
	modePrompt := &survey.Select{
		Message: "Position sizing:",
		Options: []string{string(models.SizingFixed), string(models.SizingUnlimited), string(models.SizingPercent)},
		Default: string(def.Mode),
		Description: func(value string, _ int) string {
			switch models.SizingMode(value) {
			case models.SizingFixed:
				return "fixed amount per trade from a capital pool"
			case models.SizingUnlimited:
				return "fixed amount per trade, no pool"
			case models.SizingPercent:
				return "fraction of remaining cash per trade"
			}
			return ""
		},
	}
	if err := survey.AskOne(modePrompt, &mode); err != nil {
		return def, err
	}
	out := def
	out.Mode = models.SizingMode(mode)

	if out.Mode != models.SizingUnlimited {
		v, err := askFloat("Initial capital:", out.InitialCapital)
		if err != nil {
			return def, err
		}
		out.InitialCapital = v
	}
	if out.Mode == models.SizingPercent {
		v, err := askFloat("Allocation per trade (0-1]:", out.Allocation)
		if err != nil {
			return def, err
		}
		out.Allocation = v
		return out, nil
	}
	v, err := askFloat("Position size per trade:", out.PositionSize)
	if err != nil {
		return def, err
	}
	out.PositionSize = v
	return out, nil
}

func askFloat(msg string, def float64) (float64, error) {
	var raw string
	prompt := &survey.Input{Message: msg, Default: strconv.FormatFloat(def, 'f', -1, 64)}
	err := survey.AskOne(prompt, &raw, survey.WithValidator(func(val interface{}) error {
		v, err := strconv.ParseFloat(strings.TrimSpace(val.(string)), 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("enter a positive number")
		}
		return nil
	}))
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// PromptForForecastDays asks for the forecast horizon.
func PromptForForecastDays(def int) (int, error) {
	var raw string
	prompt := &survey.Input{Message: "Forecast horizon (days):", Default: strconv.Itoa(def)}
	err := survey.AskOne(prompt, &raw, survey.WithValidator(func(val interface{}) error {
		v, err := strconv.Atoi(strings.TrimSpace(val.(string)))
		if err != nil || v < 1 || v > 365 {
			return fmt.Errorf("enter a number between 1 and 365")
		}
		return nil
	}))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

// PromptForRestartOrExit prompts user when a run completes
func PromptForRestartOrExit() (bool, error) {
	var again bool
	prompt := &survey.Confirm{
		Message: "Run another?",
		Default: false,
	}
	err := survey.AskOne(prompt, &again)
	return again, err
}
