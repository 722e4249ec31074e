// Package lifecycle manages open positions through partial take-profit,
// break-even moves and structural trailing stops.
package lifecycle

import (
	"math"
	"sync"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/executor"
	"github.com/evdnx/gofx/indicator"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/risk"
	"github.com/evdnx/gofx/types"
)

// Phase is the lifecycle state of one tracked position.
type Phase string

const (
	PhaseOpen   Phase = "open"
	PhaseRunner Phase = "runner"
	PhaseClosed Phase = "closed"
)

// EventKind classifies what the manager did to a position in one cycle.
type EventKind string

const (
	EventPartialClose EventKind = "partial_close"
	EventBreakeven    EventKind = "breakeven"
	EventTrailed      EventKind = "trailed"
	EventClosed       EventKind = "closed"
)

// Event reports one lifecycle action so the engine can update risk state
// and the journal.
type Event struct {
	PositionID string
	Symbol     string
	Kind       EventKind
	Price      float64
	StopLoss   float64
	Result     risk.TradeResult // set for EventClosed
}

type track struct {
	phase       Phase
	symbol      string
	entry       float64
	initialRisk float64 // 1R in price terms, captured on first sight
	bePending   bool    // partial filled but breakeven modify still owed
}

// Manager drives the per-position state machine. It holds no persistent
// position data: positions arrive from the execution sink each cycle, and
// only the phase plus the initial stop distance are remembered in memory.
type Manager struct {
	exec   executor.Executor
	params config.RiskParams
	log    logger.Logger

	mu      sync.Mutex
	tracked map[string]*track
}

// NewManager returns a manager bound to the execution sink.
func NewManager(exec executor.Executor, params config.RiskParams, log logger.Logger) *Manager {
	return &Manager{
		exec:    exec,
		params:  params,
		log:     log,
		tracked: make(map[string]*track),
	}
}

// Sync processes the current open-position snapshot and returns the events
// of this cycle. Positions no longer reported by the broker are treated as
// closed externally.
func (m *Manager) Sync(open []types.OpenPosition) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	seen := make(map[string]bool, len(open))
	for i := range open {
		pos := open[i]
		seen[pos.ID] = true
		if ev := m.step(pos); ev != nil {
			events = append(events, *ev)
		}
	}

	// Anything we tracked that the broker no longer reports was closed by
	// SL/TP server-side or manually. Seen entries keep their track so the
	// phase and breakeven bookkeeping survive across cycles.
	for id, tr := range m.tracked {
		if tr.phase == PhaseClosed {
			delete(m.tracked, id)
			continue
		}
		if seen[id] {
			continue
		}
		events = append(events, Event{
			PositionID: id,
			Symbol:     tr.symbol,
			Kind:       EventClosed,
			Result:     risk.ResultBreakeven, // unknown outcome, neutral for cooldown
		})
		delete(m.tracked, id)
	}
	return events
}

func (m *Manager) step(pos types.OpenPosition) *Event {
	tr, ok := m.tracked[pos.ID]
	if !ok {
		r := math.Abs(pos.Entry - pos.StopLoss)
		tr = &track{phase: PhaseOpen, symbol: pos.Symbol, entry: pos.Entry, initialRisk: r}
		m.tracked[pos.ID] = tr
	}
	if tr.initialRisk <= 0 {
		// no usable stop distance; fall back to ATR so the R logic works
		tr.initialRisk = pos.ATR
		if tr.initialRisk <= 0 {
			return nil
		}
	}

	favorable := pos.CurrentPrice - pos.Entry
	if pos.Side == types.Sell {
		favorable = -favorable
	}
	// A touch of slack so a move of exactly 1R is not missed when the
	// float subtraction lands a hair short.
	r := favorable / tr.initialRisk * (1 + 1e-9)

	// Final exit first: a runner whose stop or target was crossed.
	if crossedExit(pos) {
		if err := m.exec.ClosePosition(pos.ID); err != nil {
			m.log.Warn("lifecycle_close_failed",
				logger.String("position", pos.ID),
				logger.Err(err),
			)
			return nil // retry next cycle
		}
		tr.phase = PhaseClosed
		return &Event{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Kind:       EventClosed,
			Price:      pos.CurrentPrice,
			Result:     closeResult(favorable, tr.initialRisk),
		}
	}

	switch tr.phase {
	case PhaseOpen:
		if tr.bePending {
			return m.moveBreakeven(pos, tr)
		}
		if r >= m.params.BreakevenR {
			half := pos.Volume / 2
			if err := m.exec.ClosePartial(pos.ID, half); err != nil {
				m.log.Warn("lifecycle_partial_failed",
					logger.String("position", pos.ID),
					logger.Err(err),
				)
				return nil
			}
			tr.bePending = true
			ev := m.moveBreakeven(pos, tr)
			if ev != nil && ev.Kind == EventBreakeven {
				return &Event{
					PositionID: pos.ID,
					Symbol:     pos.Symbol,
					Kind:       EventPartialClose,
					Price:      pos.CurrentPrice,
					StopLoss:   pos.Entry,
				}
			}
			return &Event{
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Kind:       EventPartialClose,
				Price:      pos.CurrentPrice,
				StopLoss:   pos.StopLoss,
			}
		}

	case PhaseRunner:
		if r >= m.params.TrailingR {
			if level, ok := m.trailingStop(pos, tr); ok {
				if err := m.exec.ModifyStops(pos.ID, level, pos.TakeProfit); err != nil {
					m.log.Warn("lifecycle_trail_failed",
						logger.String("position", pos.ID),
						logger.Err(err),
					)
					return nil
				}
				return &Event{
					PositionID: pos.ID,
					Symbol:     pos.Symbol,
					Kind:       EventTrailed,
					Price:      pos.CurrentPrice,
					StopLoss:   level,
				}
			}
		}
	}
	return nil
}

// moveBreakeven moves the stop to entry after a successful partial close.
// On failure the move stays owed and is retried next cycle.
func (m *Manager) moveBreakeven(pos types.OpenPosition, tr *track) *Event {
	if err := m.exec.ModifyStops(pos.ID, tr.entry, pos.TakeProfit); err != nil {
		m.log.Warn("lifecycle_breakeven_failed",
			logger.String("position", pos.ID),
			logger.Err(err),
		)
		return nil
	}
	tr.bePending = false
	tr.phase = PhaseRunner
	return &Event{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Kind:       EventBreakeven,
		Price:      pos.CurrentPrice,
		StopLoss:   tr.entry,
	}
}

// trailingStop derives the structural trailing level: the most conservative
// of the nearest fractal behind price, a short EMA, and a minimum offset
// from entry. It reports false unless the new level tightens the stop.
func (m *Manager) trailingStop(pos types.OpenPosition, tr *track) (float64, bool) {
	var candidates []float64

	offset := tr.initialRisk * 0.1
	if pos.Side == types.Buy {
		candidates = append(candidates, tr.entry+offset)
	} else {
		candidates = append(candidates, tr.entry-offset)
	}

	if len(pos.Closes) >= 5 {
		highs, lows := indicator.Fractals(pos.Closes)
		if pos.Side == types.Buy {
			var levels []float64
			for _, i := range lows {
				if pos.Closes[i] < pos.CurrentPrice {
					levels = append(levels, pos.Closes[i])
				}
			}
			if l := indicator.NearestLevel(pos.CurrentPrice, levels); l > 0 {
				candidates = append(candidates, l)
			}
		} else {
			var levels []float64
			for _, i := range highs {
				if pos.Closes[i] > pos.CurrentPrice {
					levels = append(levels, pos.Closes[i])
				}
			}
			if l := indicator.NearestLevel(pos.CurrentPrice, levels); l > 0 {
				candidates = append(candidates, l)
			}
		}
	}

	if len(pos.Closes) > 0 {
		ema := indicator.EMA(pos.Closes, 20)
		candidates = append(candidates, ema[len(ema)-1])
	}

	var level float64
	if pos.Side == types.Buy {
		level = candidates[0]
		for _, c := range candidates[1:] {
			if c > level {
				level = c
			}
		}
		// never trail below entry once at breakeven
		if level < tr.entry {
			level = tr.entry
		}
		if level <= pos.StopLoss || level >= pos.CurrentPrice {
			return 0, false
		}
	} else {
		level = candidates[0]
		for _, c := range candidates[1:] {
			if c < level {
				level = c
			}
		}
		if level > tr.entry {
			level = tr.entry
		}
		if level >= pos.StopLoss || level <= pos.CurrentPrice {
			return 0, false
		}
	}
	return level, true
}

func crossedExit(pos types.OpenPosition) bool {
	if pos.Side == types.Buy {
		return (pos.StopLoss > 0 && pos.CurrentPrice <= pos.StopLoss) ||
			(pos.TakeProfit > 0 && pos.CurrentPrice >= pos.TakeProfit)
	}
	return (pos.StopLoss > 0 && pos.CurrentPrice >= pos.StopLoss) ||
		(pos.TakeProfit > 0 && pos.CurrentPrice <= pos.TakeProfit)
}

func closeResult(favorable, initialRisk float64) risk.TradeResult {
	eps := initialRisk * 0.05
	switch {
	case favorable > eps:
		return risk.ResultWin
	case favorable < -eps:
		return risk.ResultLoss
	default:
		return risk.ResultBreakeven
	}
}
