package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/models"
	"github.com/dyike/CortexQuant/pkg/sqlite"
)

const (
	StatusDone  = "done"
	StatusError = "error"
)

// Store keeps the history of backtest runs and their trades.
type Store struct {
	db *sql.DB
}

// RunRecord is the summary row of one backtest.
type RunRecord struct {
	ID             string
	Ticker         string
	Mode           models.SizingMode
	StartDate      string
	EndDate        string
	Benchmark      string
	InitialCapital decimal.Decimal
	PositionSize   decimal.Decimal
	FinalCapital   decimal.Decimal
	TotalReturn    float64
	SharpeRatio    float64
	MaxDrawdown    float64
	WinRate        float64
	NumTrades      int
	Status         string
}

type RunWithMeta struct {
	RunRecord
	RowID     int64
	CreatedAt string
}

type TradeRecord struct {
	RunID      string
	Seq        int
	TradeDate  string
	SignalDate string
	Price      decimal.Decimal
	Shares     decimal.Decimal
	Value      decimal.Decimal
	Sentiment  models.SentimentLabel
	Score      float64
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    ticker TEXT NOT NULL,
    mode TEXT NOT NULL,
    start_date TEXT,
    end_date TEXT,
    benchmark TEXT,
    initial_capital TEXT NOT NULL DEFAULT '0',
    position_size TEXT NOT NULL DEFAULT '0',
    final_capital TEXT NOT NULL DEFAULT '0',
    total_return REAL NOT NULL DEFAULT 0,
    sharpe_ratio REAL NOT NULL DEFAULT 0,
    max_drawdown REAL NOT NULL DEFAULT 0,
    win_rate REAL NOT NULL DEFAULT 0,
    num_trades INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    result_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    trade_date TEXT NOT NULL,
    signal_date TEXT,
    price TEXT NOT NULL,
    shares TEXT NOT NULL,
    value TEXT NOT NULL,
    sentiment TEXT,
    score REAL,
    PRIMARY KEY(run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_ticker_created ON runs(ticker, created_at);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// SaveRun stores the summary, the trades and the full result document in
// one transaction. It satisfies engine.Recorder.
func (s *Store) SaveRun(ctx context.Context, req engine.BacktestRequest, result models.BacktestResult) error {
	if strings.TrimSpace(result.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	rec := runRecordFrom(req, result)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, ticker, mode, start_date, end_date, benchmark, initial_capital, position_size,
    final_capital, total_return, sharpe_ratio, max_drawdown, win_rate, num_trades, status, result_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, rec.ID, rec.Ticker, string(rec.Mode), rec.StartDate, rec.EndDate, rec.Benchmark,
		rec.InitialCapital.String(), rec.PositionSize.String(), rec.FinalCapital.String(),
		rec.TotalReturn, rec.SharpeRatio, rec.MaxDrawdown, rec.WinRate, rec.NumTrades, rec.Status, string(doc))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trades (run_id, seq, trade_date, signal_date, price, shares, value, sentiment, score)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO NOTHING
`)
	if err != nil {
		return fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for i, tr := range result.Trades {
		_, err := stmt.ExecContext(ctx, result.RunID, i+1,
			tr.Date.Format(models.DateLayout), tr.SignalDate.Format(models.DateLayout),
			decimal.NewFromFloat(tr.Price).String(),
			decimal.NewFromFloat(tr.Shares).String(),
			decimal.NewFromFloat(tr.Value).String(),
			string(tr.Sentiment), tr.Score)
		if err != nil {
			return fmt.Errorf("insert trade %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// ListRuns pages through runs newest first. cursor is the RowID of the last
// row of the previous page, or 0. ticker filters when not empty.
func (s *Store) ListRuns(ctx context.Context, ticker string, cursor int64, limit int) ([]RunWithMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, ticker, mode, start_date, end_date, benchmark, initial_capital, position_size,
    final_capital, total_return, sharpe_ratio, max_drawdown, win_rate, num_trades, status, created_at
FROM runs
WHERE (? = 0 OR rowid < ?) AND (? = '' OR ticker = ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, ticker, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunWithMeta
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

// GetRun returns nil, nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunWithMeta, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT rowid, id, ticker, mode, start_date, end_date, benchmark, initial_capital, position_size,
    final_capital, total_return, sharpe_ratio, max_drawdown, win_rate, num_trades, status, created_at
FROM runs
WHERE id = ?
LIMIT 1
`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadResult returns the stored result document, or nil, nil.
func (s *Store) LoadResult(ctx context.Context, runID string) (*models.BacktestResult, error) {
	var doc sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if !doc.Valid {
		return nil, nil
	}
	var res models.BacktestResult
	if err := json.Unmarshal([]byte(doc.String), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

func (s *Store) ListTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, trade_date, signal_date, price, shares, value, sentiment, score
FROM trades
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var (
			rec                  TradeRecord
			price, shares, value string
			sentiment            string
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.TradeDate, &rec.SignalDate,
			&price, &shares, &value, &sentiment, &rec.Score); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Price = parseDecimal(price)
		rec.Shares = parseDecimal(shares)
		rec.Value = parseDecimal(value)
		rec.Sentiment = models.SentimentLabel(sentiment)
		trades = append(trades, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trades rows: %w", err)
	}
	return trades, nil
}

// DeleteRun removes a run and its trades.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunWithMeta, error) {
	var (
		rec                           RunWithMeta
		mode                          string
		initial, position, finalValue string
	)
	err := row.Scan(&rec.RowID, &rec.ID, &rec.Ticker, &mode, &rec.StartDate, &rec.EndDate, &rec.Benchmark,
		&initial, &position, &finalValue, &rec.TotalReturn, &rec.SharpeRatio, &rec.MaxDrawdown,
		&rec.WinRate, &rec.NumTrades, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan run: %w", err)
	}
	rec.Mode = models.SizingMode(mode)
	rec.InitialCapital = parseDecimal(initial)
	rec.PositionSize = parseDecimal(position)
	rec.FinalCapital = parseDecimal(finalValue)
	return rec, nil
}

func runRecordFrom(req engine.BacktestRequest, result models.BacktestResult) RunRecord {
	m := result.PerformanceMetrics
	return RunRecord{
		ID:             result.RunID,
		Ticker:         result.Ticker,
		Mode:           req.Sizing.Mode,
		StartDate:      result.MarketComparison.Period.StartDate,
		EndDate:        result.MarketComparison.Period.EndDate,
		Benchmark:      req.Benchmark,
		InitialCapital: decimal.NewFromFloat(req.Sizing.InitialCapital),
		PositionSize:   decimal.NewFromFloat(req.Sizing.PositionSize),
		FinalCapital:   decimal.NewFromFloat(m.FinalCapital).Round(2),
		TotalReturn:    m.TotalReturn,
		SharpeRatio:    m.SharpeRatio,
		MaxDrawdown:    m.MaxDrawdown,
		WinRate:        m.WinRate,
		NumTrades:      len(result.Trades),
		Status:         StatusDone,
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
