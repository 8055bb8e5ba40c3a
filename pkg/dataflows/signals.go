package dataflows

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dyike/CortexQuant/models"
)

// ErrNoSignals is returned when no sentiment file exists for a ticker.
var ErrNoSignals = errors.New("no sentiment signals")

// SignalStore serves per-ticker signal files from <dataDir>/sentiment, named
// <TICKER>.json or <TICKER>.csv. The files are produced upstream by the
// transcript classifier.
type SignalStore struct {
	dir string
}

func NewSignalStore(dataDir string) *SignalStore {
	return &SignalStore{dir: filepath.Join(dataDir, "sentiment")}
}

func (s *SignalStore) Dir() string { return s.dir }

// Signals returns the ticker's signals dated on or after from.
func (s *SignalStore) Signals(ctx context.Context, ticker string, from time.Time) ([]models.SentimentSignal, error) {
	base := fileSafe(NormalizeSymbol(ticker))
	for _, ext := range []string{".json", ".csv"} {
		path := filepath.Join(s.dir, base+ext)
		if !FileExists(path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		all, err := LoadSignals(path)
		if err != nil {
			return nil, err
		}
		day := models.TruncateDay(from)
		out := all[:0:0]
		for _, sig := range all {
			if !sig.Date.Before(day) {
				out = append(out, sig)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w in %s", ticker, ErrNoSignals, s.dir)
}

type signalRecord struct {
	Date      string  `json:"date"`
	Sentiment string  `json:"sentiment"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Summary   string  `json:"summary"`
}

// LoadSignals reads sentiment signals from a .json or .csv file, sorted by
// date.
func LoadSignals(path string) ([]models.SentimentSignal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var signals []models.SentimentSignal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		signals, err = ParseSignalsJSON(f)
	case ".csv":
		signals, err = ParseSignalsCSV(f)
	default:
		return nil, fmt.Errorf("unsupported signals file %s, use .json or .csv", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load signals %s: %w", path, err)
	}
	return signals, nil
}

// ParseSignalsJSON accepts an array of {date, sentiment|label, score, summary}.
func ParseSignalsJSON(r io.Reader) ([]models.SentimentSignal, error) {
	var records []signalRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	out := make([]models.SentimentSignal, 0, len(records))
	for i, rec := range records {
		label := rec.Sentiment
		if label == "" {
			label = rec.Label
		}
		sig, err := buildSignal(rec.Date, label, rec.Score, rec.Summary)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, sig)
	}
	sortSignals(out)
	return out, nil
}

// ParseSignalsCSV accepts date,label,score[,summary] with a header row. The
// label column may also be called sentiment.
func ParseSignalsCSV(r io.Reader) ([]models.SentimentSignal, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["label"]; !ok {
		if i, ok := cols["sentiment"]; ok {
			cols["label"] = i
		}
	}
	for _, required := range []string{"date", "label"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}
	get := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []models.SentimentSignal
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var score float64
		if raw := get(rec, "score"); raw != "" {
			if score, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid score %q", line, raw)
			}
		}
		sig, err := buildSignal(get(rec, "date"), get(rec, "label"), score, get(rec, "summary"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, sig)
	}
	sortSignals(out)
	return out, nil
}

func buildSignal(date, label string, score float64, summary string) (models.SentimentSignal, error) {
	d, err := models.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return models.SentimentSignal{}, err
	}
	l, err := models.ParseSentimentLabel(label)
	if err != nil {
		return models.SentimentSignal{}, err
	}
	return models.SentimentSignal{Date: d, Label: l, Score: score, Summary: summary}, nil
}

func sortSignals(s []models.SentimentSignal) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
}
