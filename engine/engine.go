// Package engine drives the trading loop: scanning symbols for signals,
// routing accepted orders to the executor and monitoring live positions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/evdnx/gofx/blackout"
	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/executor"
	"github.com/evdnx/gofx/license"
	"github.com/evdnx/gofx/lifecycle"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/marketdata"
	"github.com/evdnx/gofx/metrics"
	"github.com/evdnx/gofx/notify"
	"github.com/evdnx/gofx/risk"
	"github.com/evdnx/gofx/signal"
	"github.com/evdnx/gofx/store"
	"github.com/evdnx/gofx/types"
)

// failure backoff kicks in after this many consecutive errors of one kind.
const backoffThreshold = 3

// maxBackoffFactor caps how far the scan interval stretches.
const maxBackoffFactor = 8

// tradeMeta remembers what the engine knows about a live order so close
// events can be journaled with a realized pnl.
type tradeMeta struct {
	signalID     string
	symbol       string
	side         types.Side
	volume       float64
	entry        float64
	contractSize float64
}

// Engine wires every component together and owns the run loop.
type Engine struct {
	cfg    config.Config
	log    logger.Logger
	source marketdata.Source
	exec   executor.Executor

	scorer   *signal.Scorer
	sizer    *risk.Sizer
	adjuster *risk.Adjuster
	state    *risk.State
	guard    *risk.Guard
	manager  *lifecycle.Manager

	journal  *store.Store
	notifier notify.Notifier
	lic      *license.Checker
	calendar *blackout.Calendar

	mu         sync.Mutex
	calibrated map[string]bool
	trades     map[string]tradeMeta // keyed by position/order id
	failures   map[string]int
	day        int // UTC year-day of the last scan, for the daily reset
}

// New assembles an engine from its collaborators. journal, notifier,
// lic and calendar may be nil; the corresponding feature is skipped.
func New(cfg config.Config, source marketdata.Source, exec executor.Executor,
	journal *store.Store, notifier notify.Notifier, lic *license.Checker,
	calendar *blackout.Calendar, log logger.Logger) (*Engine, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, err := signal.NewScorer(cfg.Scorer, log)
	if err != nil {
		return nil, err
	}
	sizer, err := risk.NewSizer(cfg.Risk, log)
	if err != nil {
		return nil, err
	}
	state := risk.NewState(cfg.Risk)
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		cfg:        cfg,
		log:        log,
		source:     source,
		exec:       exec,
		scorer:     scorer,
		sizer:      sizer,
		adjuster:   risk.NewAdjuster(cfg.Risk, log),
		state:      state,
		guard:      risk.NewGuard(cfg.Risk, state, log),
		manager:    lifecycle.NewManager(exec, cfg.Risk, log),
		journal:    journal,
		notifier:   notifier,
		lic:        lic,
		calendar:   calendar,
		calibrated: make(map[string]bool),
		trades:     make(map[string]tradeMeta),
		failures:   make(map[string]int),
		day:        -1,
	}, nil
}

// Run blocks until ctx is cancelled. An immediate scan runs first, then
// scans repeat on ScanInterval (stretched while a data source keeps
// failing) with position monitoring on MonitorInterval in between.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting",
		logger.Int("symbols", len(e.cfg.Symbols)),
		logger.String("timeframe", e.cfg.Timeframe))

	if e.lic != nil {
		go e.lic.Run(ctx, e.cfg.LicenseInterval)
	}

	monitor := time.NewTicker(e.cfg.MonitorInterval)
	defer monitor.Stop()

	e.Scan(ctx)
	scan := time.NewTimer(e.scanWait())
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return ctx.Err()
		case <-monitor.C:
			e.Monitor(ctx)
		case <-scan.C:
			e.Scan(ctx)
			scan.Reset(e.scanWait())
		}
	}
}

// scanWait returns the next scan delay, doubled per backoffThreshold
// consecutive failures of the worst failing kind, capped.
func (e *Engine) scanWait() time.Duration {
	e.mu.Lock()
	worst := 0
	for _, n := range e.failures {
		if n > worst {
			worst = n
		}
	}
	e.mu.Unlock()

	wait := e.cfg.ScanInterval
	if worst >= backoffThreshold {
		factor := 1 << uint(worst-backoffThreshold+1)
		if factor > maxBackoffFactor {
			factor = maxBackoffFactor
		}
		wait *= time.Duration(factor)
		e.log.Warn("scan backoff active",
			logger.Int("consecutive_failures", worst),
			logger.String("wait", wait.String()))
	}
	return wait
}

func (e *Engine) noteFailure(kind string) {
	e.mu.Lock()
	e.failures[kind]++
	e.mu.Unlock()
}

func (e *Engine) clearFailure(kind string) {
	e.mu.Lock()
	delete(e.failures, kind)
	e.mu.Unlock()
}

// Scan runs one pass over the configured symbols.
func (e *Engine) Scan(ctx context.Context) {
	e.rolloverDay()

	if e.lic != nil && !e.lic.Valid() {
		e.log.Warn("license invalid, scan skipped")
		return
	}

	acct, err := e.source.AccountInfo(ctx)
	if err != nil {
		e.noteFailure("account")
		e.log.Error("account fetch failed", logger.Err(err))
		return
	}
	e.clearFailure("account")
	metrics.EquityGauge.Set(acct.Equity)

	if e.state.DailyLossExceeded(acct.Balance) {
		pnl, _ := e.state.DailyStats()
		e.log.Warn("daily loss limit reached, scan skipped",
			logger.Float64("daily_pnl", pnl))
		return
	}

	for _, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		e.scanSymbol(ctx, symbol, acct)
	}
}

func (e *Engine) scanSymbol(ctx context.Context, symbol string, acct types.AccountInfo) {
	spec, err := e.source.SymbolSpec(ctx, symbol)
	if err != nil {
		e.noteFailure("spec")
		e.log.Error("spec fetch failed", logger.String("symbol", symbol), logger.Err(err))
		return
	}
	e.clearFailure("spec")

	e.mu.Lock()
	if !e.calibrated[symbol] {
		e.scorer.Calibrate(spec)
		e.calibrated[symbol] = true
	}
	e.mu.Unlock()

	bars, err := e.source.Bars(ctx, symbol, e.cfg.Timeframe, e.cfg.BarCount)
	if err != nil {
		e.noteFailure("bars")
		e.log.Error("bars fetch failed", logger.String("symbol", symbol), logger.Err(err))
		return
	}
	e.clearFailure("bars")

	sig, ok := e.scorer.Generate(&bars, spec)
	if sig == nil {
		return
	}
	if !ok {
		metrics.SignalsScored.WithLabelValues("rejected").Inc()
		e.saveSignal(ctx, sig, store.StatusRejected, "confidence_below_threshold")
		e.log.Info("signal below threshold",
			logger.String("symbol", sig.Symbol),
			logger.Float64("confidence", sig.Confidence))
		return
	}
	e.ProcessSignal(ctx, sig, spec, acct)
}

// ProcessSignal runs one signal through the full entry pipeline:
// blackout, dedup, stop repair, sizing, exposure guard, dispatch.
func (e *Engine) ProcessSignal(ctx context.Context, sig *types.Signal, spec types.SymbolSpec, acct types.AccountInfo) {
	if e.calendar != nil {
		if ev, blocked := e.calendar.Active(sig.Symbol, sig.Timestamp); blocked {
			metrics.SignalsScored.WithLabelValues("blackout").Inc()
			e.log.Info("signal blocked by calendar",
				logger.String("symbol", sig.Symbol),
				logger.String("event", ev.Title))
			return
		}
	}

	if e.journal != nil {
		dup, err := e.journal.IsDuplicate(ctx, sig, e.cfg.DedupWindow)
		if err != nil {
			e.log.Error("duplicate check failed", logger.Err(err))
		} else if dup {
			metrics.SignalsScored.WithLabelValues("duplicate").Inc()
			e.saveSignal(ctx, sig, store.StatusDuplicate, "recent signal for same symbol and side")
			e.log.Info("duplicate signal discarded", logger.String("symbol", sig.Symbol))
			return
		}
		e.saveSignal(ctx, sig, store.StatusPending, "")
	}

	sl, tp := e.adjuster.Adjust(sig.Side, sig.Entry, sig.StopLoss, sig.TakeProfit, spec, sig.ATR)
	if sl <= 0 || tp <= 0 {
		metrics.SignalsScored.WithLabelValues("invalid_stops").Inc()
		e.updateSignal(ctx, sig.ID, store.StatusInvalidStops, "stop repair produced non-positive levels")
		return
	}
	sig.StopLoss, sig.TakeProfit = sl, tp

	size := e.sizer.Size(sig, spec, acct)
	if size.Volume <= 0 {
		metrics.SignalsScored.WithLabelValues("rejected").Inc()
		e.updateSignal(ctx, sig.ID, store.StatusRejected, "position size is zero")
		return
	}

	dec := e.guard.Check(sig.Symbol, size, spec, sig.Entry, acct)
	switch dec.Action {
	case risk.Reject:
		metrics.SignalsScored.WithLabelValues("rejected").Inc()
		metrics.OrdersRejected.WithLabelValues(reasonLabel(dec.Reason)).Inc()
		e.updateSignal(ctx, sig.ID, store.StatusRejected, dec.Reason)
		e.log.Info("signal rejected", logger.String("symbol", sig.Symbol),
			logger.String("reason", dec.Reason))
		return
	case risk.Shrink:
		size.Volume = dec.Volume
	}

	e.dispatch(ctx, sig, spec, size)
}

func (e *Engine) dispatch(ctx context.Context, sig *types.Signal, spec types.SymbolSpec, size types.PositionSize) {
	req := types.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Volume:     size.Volume,
		Price:      sig.Entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Comment:    fmt.Sprintf("gofx %.0f%%", sig.Confidence*100),
	}
	res, err := e.exec.SendOrder(req)
	if err != nil {
		e.noteFailure("order")
		metrics.SignalsScored.WithLabelValues("error").Inc()
		e.updateSignal(ctx, sig.ID, store.StatusError, err.Error())
		e.log.Error("order send failed", logger.String("symbol", sig.Symbol), logger.Err(err))
		return
	}
	e.clearFailure("order")
	if !res.Accepted {
		metrics.SignalsScored.WithLabelValues("rejected").Inc()
		metrics.OrdersRejected.WithLabelValues("broker").Inc()
		e.updateSignal(ctx, sig.ID, store.StatusRejected,
			fmt.Sprintf("broker retcode %d", res.RetCode))
		e.log.Warn("order rejected by broker",
			logger.String("symbol", sig.Symbol), logger.Int("retcode", res.RetCode))
		return
	}

	metrics.SignalsScored.WithLabelValues("executed").Inc()
	metrics.OrdersSubmitted.Inc()
	if !e.state.RegisterOpen(sig.Symbol) {
		// The guard checked the caps earlier in this same sequential pass,
		// so a refusal here means they changed underneath us. The broker
		// position exists either way; log it loudly.
		e.log.Error("position opened past the configured cap",
			logger.String("symbol", sig.Symbol))
	}

	e.mu.Lock()
	e.trades[res.OrderID] = tradeMeta{
		signalID:     sig.ID,
		symbol:       sig.Symbol,
		side:         sig.Side,
		volume:       size.Volume,
		entry:        sig.Entry,
		contractSize: spec.ContractSize,
	}
	e.mu.Unlock()

	e.updateSignal(ctx, sig.ID, store.StatusExecuted, "order "+res.OrderID)
	if e.journal != nil {
		if err := e.journal.SaveTrade(ctx, sig.ID, res.OrderID, sig.Symbol,
			sig.Side, size.Volume, sig.Entry, time.Now().UTC()); err != nil {
			e.log.Error("trade journal failed", logger.Err(err))
		}
	}
	e.notifier.Notify(ctx, signal.Describe(sig))
	e.log.Info("order executed",
		logger.String("symbol", sig.Symbol),
		logger.String("order_id", res.OrderID),
		logger.Float64("volume", size.Volume))
}

// Monitor runs one lifecycle pass over the open positions.
func (e *Engine) Monitor(ctx context.Context) {
	open, err := e.exec.OpenPositions()
	if err != nil {
		e.noteFailure("positions")
		e.log.Error("open positions fetch failed", logger.Err(err))
		return
	}
	e.clearFailure("positions")
	metrics.PositionsOpen.Set(float64(len(open)))

	for _, ev := range e.manager.Sync(open) {
		e.handleEvent(ctx, ev)
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev lifecycle.Event) {
	switch ev.Kind {
	case lifecycle.EventClosed:
		e.state.RegisterClose(ev.Symbol)
		e.state.RecordResult(ev.Result)

		e.mu.Lock()
		meta, ok := e.trades[ev.PositionID]
		delete(e.trades, ev.PositionID)
		e.mu.Unlock()

		pnl := 0.0
		if ok {
			dir := 1.0
			if meta.side == types.Sell {
				dir = -1
			}
			contract := meta.contractSize
			if contract <= 0 {
				contract = 100000
			}
			pnl = (ev.Price - meta.entry) * dir * meta.volume * contract
			e.state.AddDailyPnL(pnl)
			if e.journal != nil {
				if err := e.journal.CloseTrade(ctx, ev.PositionID, ev.Price, pnl,
					string(ev.Result), time.Now().UTC()); err != nil {
					e.log.Error("trade close journal failed", logger.Err(err))
				}
			}
		}
		e.notifier.Notify(ctx, fmt.Sprintf("%s closed %s pnl %.2f", ev.Symbol, ev.Result, pnl))
	case lifecycle.EventPartialClose:
		// Half the position was realized at ev.Price. Book that leg now and
		// halve the remembered volume so the final close prices only the
		// remaining runner.
		partial := 0.0
		e.mu.Lock()
		if meta, ok := e.trades[ev.PositionID]; ok {
			dir := 1.0
			if meta.side == types.Sell {
				dir = -1
			}
			contract := meta.contractSize
			if contract <= 0 {
				contract = 100000
			}
			closed := meta.volume / 2
			partial = (ev.Price - meta.entry) * dir * closed * contract
			meta.volume -= closed
			e.trades[ev.PositionID] = meta
		}
		e.mu.Unlock()
		e.state.AddPartialPnL(partial)
		e.notifier.Notify(ctx, fmt.Sprintf("%s partial close at %.5f pnl %.2f, stop to breakeven", ev.Symbol, ev.Price, partial))
	case lifecycle.EventTrailed:
		e.log.Info("stop trailed",
			logger.String("symbol", ev.Symbol),
			logger.Float64("stop_loss", ev.StopLoss))
	}
}

// reasonLabel keeps metric labels bounded: guard reasons embed amounts,
// only the prefix identifies the rule.
func reasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

// rolloverDay resets daily counters when the UTC day changes.
func (e *Engine) rolloverDay() {
	today := time.Now().UTC().YearDay()
	e.mu.Lock()
	changed := e.day != -1 && e.day != today
	e.day = today
	e.mu.Unlock()
	if changed {
		pnl, trades := e.state.DailyStats()
		e.log.Info("daily reset",
			logger.Float64("pnl", pnl), logger.Int("trades", trades))
		e.state.ResetDaily()
	}
}

func (e *Engine) saveSignal(ctx context.Context, sig *types.Signal, status, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveSignal(ctx, sig, status, detail); err != nil {
		e.log.Error("signal journal failed", logger.Err(err))
	}
}

func (e *Engine) updateSignal(ctx context.Context, id, status, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.UpdateSignalStatus(ctx, id, status, detail); err != nil {
		e.log.Error("signal journal failed", logger.Err(err))
	}
}
