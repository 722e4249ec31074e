package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/store"
	"github.com/evdnx/gofx/testutils"
	"github.com/evdnx/gofx/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"EURUSD"}
	return cfg
}

func testSpec() types.SymbolSpec {
	return types.SymbolSpec{
		Symbol:       "EURUSD",
		Digits:       5,
		Point:        0.00001,
		ContractSize: 100000,
		MinVolume:    0.01,
		MaxVolume:    100,
		VolumeStep:   0.01,
		TickValue:    10,
		Leverage:     100,
	}
}

func testAccount() types.AccountInfo {
	return types.AccountInfo{Balance: 10000, Equity: 10000, FreeMargin: 10000, Leverage: 100}
}

func newTestEngine(t *testing.T, cfg config.Config, source *testutils.MockSource, exec *testutils.MockExecutor) *Engine {
	t.Helper()
	e, err := New(cfg, source, exec, nil, nil, nil, nil, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func buySignal() *types.Signal {
	return &types.Signal{
		ID:         "sig-1",
		Symbol:     "EURUSD",
		Timeframe:  "M15",
		Side:       types.Buy,
		Entry:      1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
		Confidence: 0.75,
		ATR:        0.0020,
		Timestamp:  time.Now().UTC(),
	}
}

func TestProcessSignalDispatchesOrder(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	e.ProcessSignal(context.Background(), buySignal(), testSpec(), testAccount())

	if len(exec.Orders) != 1 {
		t.Fatalf("expected one order, got %d", len(exec.Orders))
	}
	req := exec.Orders[0]
	if req.Symbol != "EURUSD" || req.Side != types.Buy {
		t.Fatalf("unexpected order: %+v", req)
	}
	// 1% of 10k over 50 pips at $10/pip/lot -> 0.20 lots
	if req.Volume != 0.20 {
		t.Fatalf("expected 0.20 lots, got %v", req.Volume)
	}
	if !(req.StopLoss < req.Price && req.Price < req.TakeProfit) {
		t.Fatalf("stops on wrong side: %+v", req)
	}
	if e.state.OpenCount() != 1 {
		t.Fatalf("state not updated: %d open", e.state.OpenCount())
	}
}

func TestProcessSignalRespectsPerSymbolCap(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	e.ProcessSignal(context.Background(), buySignal(), testSpec(), testAccount())
	sig := buySignal()
	sig.ID = "sig-2"
	e.ProcessSignal(context.Background(), sig, testSpec(), testAccount())

	if len(exec.Orders) != 1 {
		t.Fatalf("second signal on an open symbol must be rejected, got %d orders", len(exec.Orders))
	}
}

func TestProcessSignalRejectedByBroker(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	exec.Reject = true
	e := newTestEngine(t, testConfig(), source, exec)

	e.ProcessSignal(context.Background(), buySignal(), testSpec(), testAccount())
	if e.state.OpenCount() != 0 {
		t.Fatal("broker rejection must not register an open position")
	}
}

func TestMonitorClosesPositionAndFeedsRiskState(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	e.ProcessSignal(context.Background(), buySignal(), testSpec(), testAccount())
	if len(exec.Orders) != 1 {
		t.Fatal("setup failed: no order")
	}
	open, _ := exec.OpenPositions()
	id := open[0].ID

	// price reaches the take profit
	exec.SetPrice(id, open[0].TakeProfit)
	e.Monitor(context.Background())

	if len(exec.Closes) != 1 {
		t.Fatalf("expected one close, got %+v", exec.Closes)
	}
	if e.state.OpenCount() != 0 {
		t.Fatalf("close must free the slot, %d still open", e.state.OpenCount())
	}
	pnl, trades := e.state.DailyStats()
	if trades != 1 || pnl <= 0 {
		t.Fatalf("expected one winning trade, got pnl=%v trades=%d", pnl, trades)
	}
}

func TestScanSkipsWhenDailyLossExceeded(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	source.SetSpec(testSpec())
	source.SetBars("EURUSD", testutils.TrendingBars("EURUSD", "M15", 500, 1.0, 0.001))
	exec := testutils.NewMockExecutor()

	cfg := testConfig()
	cfg.Scorer.ConfidenceThreshold = 0.10 // make the uptrend tradeable
	e := newTestEngine(t, cfg, source, exec)

	e.state.AddDailyPnL(-1000) // 10% loss against the 4% cap
	e.Scan(context.Background())
	if len(exec.Orders) != 0 {
		t.Fatalf("scan must stand down after the daily loss cap, got %d orders", len(exec.Orders))
	}
}

func TestScanGeneratesAndExecutes(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	source.SetSpec(testSpec())
	source.SetBars("EURUSD", testutils.TrendingBars("EURUSD", "M15", 500, 1.0, 0.001))
	exec := testutils.NewMockExecutor()

	cfg := testConfig()
	cfg.Scorer.ConfidenceThreshold = 0.10
	e := newTestEngine(t, cfg, source, exec)

	e.Scan(context.Background())
	if len(exec.Orders) != 1 {
		t.Fatalf("expected one order from the scan, got %d", len(exec.Orders))
	}
}

func TestDispatchLogsWhenCapFilledUnderneath(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	log := testutils.NewMockLogger()
	e, err := New(testConfig(), source, exec, nil, nil, nil, nil, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// fill the per-symbol slot after the guard would have passed
	e.state.RegisterOpen("EURUSD")
	e.dispatch(context.Background(), buySignal(), testSpec(), types.PositionSize{Volume: 0.10})

	if len(exec.Orders) != 1 {
		t.Fatalf("order should still reach the broker, got %d", len(exec.Orders))
	}
	if !log.HasMessage("position opened past the configured cap") {
		t.Fatal("exceeding the cap after dispatch must be logged")
	}
}

func TestScanJournalsBelowThresholdSignals(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	source.SetSpec(testSpec())
	source.SetBars("EURUSD", testutils.TrendingBars("EURUSD", "M15", 500, 1.0, 0.001))
	exec := testutils.NewMockExecutor()

	journal, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer journal.Close()

	cfg := testConfig()
	cfg.Scorer.ConfidenceThreshold = 0.99 // nothing synthetic reaches this
	e, err := New(cfg, source, exec, journal, nil, nil, nil, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Scan(context.Background())
	if len(exec.Orders) != 0 {
		t.Fatalf("below-threshold candidate must not trade, got %d orders", len(exec.Orders))
	}
	rows, err := journal.Signals(context.Background(), 10)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one journaled rejection, got %d rows", len(rows))
	}
	if rows[0].Status != store.StatusRejected {
		t.Fatalf("expected status %q, got %q", store.StatusRejected, rows[0].Status)
	}
	if rows[0].Detail != "confidence_below_threshold" {
		t.Fatalf("expected reason confidence_below_threshold, got %q", rows[0].Detail)
	}
}

func TestMonitorBooksPartialLegBeforeFinalClose(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	e.ProcessSignal(context.Background(), buySignal(), testSpec(), testAccount())
	if len(exec.Orders) != 1 {
		t.Fatal("setup failed: no order")
	}
	open, _ := exec.OpenPositions()
	id := open[0].ID

	// +1R: half of the 0.20 lots realized at 1.1050 for +50 usd
	exec.SetPrice(id, 1.1050)
	e.Monitor(context.Background())
	if len(exec.Partials) != 1 {
		t.Fatalf("expected one partial fill, got %+v", exec.Partials)
	}
	pnl, _ := e.state.DailyStats()
	if math.Abs(pnl-50) > 1e-6 {
		t.Fatalf("partial leg not booked, daily pnl %v", pnl)
	}

	// target: the remaining 0.10 lots close at 1.1100 for +100 usd
	exec.SetPrice(id, 1.1100)
	e.Monitor(context.Background())
	pnl, trades := e.state.DailyStats()
	if trades != 1 {
		t.Fatalf("expected one completed trade, got %d", trades)
	}
	if math.Abs(pnl-150) > 1e-6 {
		t.Fatalf("expected 150 usd total, got %v", pnl)
	}
}

func TestScanBackoffAfterConsecutiveFailures(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	base := e.scanWait()
	for i := 0; i < backoffThreshold; i++ {
		e.noteFailure("bars")
	}
	stretched := e.scanWait()
	if stretched <= base {
		t.Fatalf("expected stretched wait, got %v vs %v", stretched, base)
	}

	e.clearFailure("bars")
	if e.scanWait() != base {
		t.Fatal("recovery must restore the base interval")
	}
}

func TestScanBackoffIsCapped(t *testing.T) {
	source := testutils.NewMockSource(testAccount())
	exec := testutils.NewMockExecutor()
	e := newTestEngine(t, testConfig(), source, exec)

	for i := 0; i < 50; i++ {
		e.noteFailure("bars")
	}
	if max := e.cfg.ScanInterval * maxBackoffFactor; e.scanWait() > max {
		t.Fatalf("backoff exceeded cap: %v > %v", e.scanWait(), max)
	}
}
