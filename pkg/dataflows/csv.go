package dataflows

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexQuant/models"
)

var csvHeader = []string{"date", "open", "high", "low", "close", "volume"}

// CSVStore keeps one CSV file of daily bars per symbol under
// <dataDir>/market_data/price_data. It is the offline provider and the
// target of cmd/dataflow.
type CSVStore struct {
	dir string
}

func NewCSVStore(dataDir string) *CSVStore {
	return &CSVStore{dir: filepath.Join(dataDir, "market_data", "price_data")}
}

func (s *CSVStore) Name() string { return ProviderCSV }

func (s *CSVStore) Path(symbol string) string {
	return filepath.Join(s.dir, fileSafe(NormalizeSymbol(symbol))+".csv")
}

func (s *CSVStore) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]*MarketData, error) {
	f, err := os.Open(s.Path(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Permanent(fmt.Errorf("%s has no offline file: %w", symbol, ErrNoData))
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadBarsCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path(symbol), err)
	}
	return filterRange(bars, start, end), nil
}

// Save writes the series, replacing any existing file.
func (s *CSVStore) Save(series models.PriceSeries) (string, error) {
	path := s.Path(series.Symbol)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := WriteBarsCSV(f, FromPriceSeries(series)); err != nil {
		return "", err
	}
	return path, f.Sync()
}

// ReadBarsCSV parses a header row followed by date,open,high,low,close,volume
// records. Only date and close are required; the header decides column order.
func ReadBarsCSV(r io.Reader, symbol string) ([]*MarketData, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("missing date column")
	}
	closeCol, ok := cols["close"]
	if !ok {
		return nil, fmt.Errorf("missing close column")
	}

	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	dec := func(v string) decimal.Decimal {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	var bars []*MarketData
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := models.ParseDate(strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		closePx, err := decimal.NewFromString(strings.TrimSpace(rec[closeCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid close: %w", line, err)
		}
		volume, _ := strconv.ParseInt(field(rec, "volume"), 10, 64)

		bars = append(bars, &MarketData{
			Symbol:   symbol,
			Date:     date,
			Open:     dec(field(rec, "open")),
			High:     dec(field(rec, "high")),
			Low:      dec(field(rec, "low")),
			Close:    closePx,
			AdjClose: closePx,
			Volume:   volume,
		})
	}
	return bars, nil
}

func WriteBarsCSV(w io.Writer, bars []*MarketData) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		if err := writer.Write([]string{
			b.Date.Format(models.DateLayout),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			strconv.FormatInt(b.Volume, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func fileSafe(symbol string) string {
	return strings.NewReplacer("^", "_", "/", "_", "\\", "_").Replace(symbol)
}
