// Package store persists signals and trades to a local SQLite journal.
package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evdnx/gofx/types"
)

// Signal journal statuses.
const (
	StatusPending      = "pending"
	StatusExecuted     = "executed"
	StatusRejected     = "rejected"
	StatusInvalidStops = "invalid_stops"
	StatusDuplicate    = "duplicate"
	StatusError        = "error"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry       REAL NOT NULL,
	stop_loss   REAL NOT NULL,
	take_profit REAL NOT NULL,
	confidence  REAL NOT NULL,
	reasons     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_dedup
	ON signals (symbol, timeframe, side, created_at);

CREATE TABLE IF NOT EXISTS trades (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id  TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	volume     REAL NOT NULL,
	entry      REAL NOT NULL,
	exit_price REAL,
	pnl        REAL,
	result     TEXT,
	opened_at  TIMESTAMP NOT NULL,
	closed_at  TIMESTAMP
);
`

// Store wraps the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The journal is accessed from the engine loop only.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveSignal records a freshly generated signal with the given status.
func (s *Store) SaveSignal(ctx context.Context, sig *types.Signal, status, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, timeframe, side, entry, stop_loss, take_profit, confidence, reasons, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, sig.Timeframe, string(sig.Side),
		sig.Entry, sig.StopLoss, sig.TakeProfit, sig.Confidence,
		strings.Join(sig.Reasons, ";"), status, detail, sig.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("store: save signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalStatus moves a signal to a new status.
func (s *Store) UpdateSignalStatus(ctx context.Context, id, status, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, detail = ? WHERE id = ?`, status, detail, id)
	if err != nil {
		return fmt.Errorf("store: update signal %s: %w", id, err)
	}
	return nil
}

// IsDuplicate reports whether a non-duplicate signal for the same
// symbol, timeframe and side was journaled within window of now.
func (s *Store) IsDuplicate(ctx context.Context, sig *types.Signal, window time.Duration) (bool, error) {
	cutoff := sig.Timestamp.UTC().Add(-window)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signals
		WHERE symbol = ? AND timeframe = ? AND side = ?
		  AND status != ? AND created_at >= ?`,
		sig.Symbol, sig.Timeframe, string(sig.Side), StatusDuplicate, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: duplicate check %s: %w", sig.Symbol, err)
	}
	return n > 0, nil
}

// SaveTrade records an executed order.
func (s *Store) SaveTrade(ctx context.Context, signalID, orderID, symbol string, side types.Side, volume, entry float64, openedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (signal_id, order_id, symbol, side, volume, entry, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		signalID, orderID, symbol, string(side), volume, entry, openedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: save trade %s: %w", orderID, err)
	}
	return nil
}

// CloseTrade marks the trade for orderID closed with its exit and pnl.
func (s *Store) CloseTrade(ctx context.Context, orderID string, exit, pnl float64, result string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET exit_price = ?, pnl = ?, result = ?, closed_at = ?
		WHERE order_id = ? AND closed_at IS NULL`,
		exit, pnl, result, closedAt.UTC(), orderID)
	if err != nil {
		return fmt.Errorf("store: close trade %s: %w", orderID, err)
	}
	return nil
}

// SignalRow is one journaled signal.
type SignalRow struct {
	ID         string
	Symbol     string
	Timeframe  string
	Side       string
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Reasons    string
	Status     string
	Detail     string
	CreatedAt  time.Time
}

// Signals returns the most recent limit signals, newest first.
func (s *Store) Signals(ctx context.Context, limit int) ([]SignalRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, side, entry, stop_loss, take_profit,
		       confidence, reasons, status, detail, created_at
		FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRow
	for rows.Next() {
		var r SignalRow
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Timeframe, &r.Side, &r.Entry,
			&r.StopLoss, &r.TakeProfit, &r.Confidence, &r.Reasons,
			&r.Status, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan signal: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExportSignalsCSV writes the full signal journal to w as CSV.
func (s *Store) ExportSignalsCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.Signals(ctx, 1<<31-1)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "symbol", "timeframe", "side", "entry",
		"stop_loss", "take_profit", "confidence", "reasons", "status", "detail", "created_at"}); err != nil {
		return fmt.Errorf("store: export csv: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.ID, r.Symbol, r.Timeframe, r.Side,
			strconv.FormatFloat(r.Entry, 'f', -1, 64),
			strconv.FormatFloat(r.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(r.TakeProfit, 'f', -1, 64),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			r.Reasons, r.Status, r.Detail,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("store: export csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
