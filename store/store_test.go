package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evdnx/gofx/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(id, symbol string, side types.Side, at time.Time) *types.Signal {
	return &types.Signal{
		ID:         id,
		Symbol:     symbol,
		Timeframe:  "M15",
		Side:       side,
		Entry:      1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
		Confidence: 0.75,
		Reasons:    []string{"trend_ema200", "volume_surge"},
		Timestamp:  at,
	}
}

func TestSaveAndListSignals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveSignal(ctx, testSignal("sig-1", "EURUSD", types.Buy, now), StatusPending, ""); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	rows, err := s.Signals(ctx, 10)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.ID != "sig-1" || r.Symbol != "EURUSD" || r.Status != StatusPending {
		t.Fatalf("unexpected row: %+v", r)
	}
	if r.Reasons != "trend_ema200;volume_surge" {
		t.Fatalf("unexpected reasons: %q", r.Reasons)
	}
}

func TestUpdateSignalStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveSignal(ctx, testSignal("sig-1", "EURUSD", types.Buy, now), StatusPending, ""); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	if err := s.UpdateSignalStatus(ctx, "sig-1", StatusExecuted, "order paper-1"); err != nil {
		t.Fatalf("UpdateSignalStatus: %v", err)
	}
	rows, _ := s.Signals(ctx, 1)
	if rows[0].Status != StatusExecuted || rows[0].Detail != "order paper-1" {
		t.Fatalf("status not applied: %+v", rows[0])
	}
}

func TestDuplicateDetectionWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := testSignal("sig-1", "EURUSD", types.Buy, now.Add(-time.Hour))
	if err := s.SaveSignal(ctx, first, StatusExecuted, ""); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}

	// same symbol, timeframe and side inside the window
	dup, err := s.IsDuplicate(ctx, testSignal("sig-2", "EURUSD", types.Buy, now), 4*time.Hour)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected duplicate inside the window")
	}

	// opposite side is not a duplicate
	dup, _ = s.IsDuplicate(ctx, testSignal("sig-3", "EURUSD", types.Sell, now), 4*time.Hour)
	if dup {
		t.Fatal("opposite side must not count as duplicate")
	}

	// other symbol is not a duplicate
	dup, _ = s.IsDuplicate(ctx, testSignal("sig-4", "GBPUSD", types.Buy, now), 4*time.Hour)
	if dup {
		t.Fatal("other symbol must not count as duplicate")
	}

	// outside the window
	dup, _ = s.IsDuplicate(ctx, testSignal("sig-5", "EURUSD", types.Buy, now), 30*time.Minute)
	if dup {
		t.Fatal("signal older than the window must not count")
	}
}

func TestDuplicateRowsDoNotChainDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// only a discarded duplicate exists in the window
	if err := s.SaveSignal(ctx, testSignal("sig-1", "EURUSD", types.Buy, now.Add(-time.Hour)), StatusDuplicate, ""); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	dup, err := s.IsDuplicate(ctx, testSignal("sig-2", "EURUSD", types.Buy, now), 4*time.Hour)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("discarded duplicates must not extend the window")
	}
}

func TestTradeRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	opened := time.Now().UTC().Add(-time.Hour)

	if err := s.SaveTrade(ctx, "sig-1", "paper-1", "EURUSD", types.Buy, 0.10, 1.1000, opened); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if err := s.CloseTrade(ctx, "paper-1", 1.1100, 100, "WIN", time.Now().UTC()); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
}

func TestExportSignalsCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveSignal(ctx, testSignal("sig-1", "EURUSD", types.Buy, now), StatusExecuted, ""); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	var buf bytes.Buffer
	if err := s.ExportSignalsCSV(ctx, &buf); err != nil {
		t.Fatalf("ExportSignalsCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,symbol,timeframe") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "EURUSD") || !strings.Contains(lines[1], StatusExecuted) {
		t.Fatalf("unexpected row: %q", lines[1])
	}
}
