package risk

import (
	"fmt"
	"sync"

	"github.com/evdnx/gofx/config"
)

// TradeResult classifies a closed trade for the cooldown tracker.
type TradeResult string

const (
	ResultWin       TradeResult = "WIN"
	ResultLoss      TradeResult = "LOSS"
	ResultBreakeven TradeResult = "BE"
)

// State owns the mutable risk counters: open positions per symbol and
// globally, the daily P&L accumulator, and the consecutive-loss cooldown.
// All checks are check-then-act, so every mutation goes through the mutex.
type State struct {
	params config.RiskParams

	mu           sync.Mutex
	openBySymbol map[string]int
	openTotal    int
	dailyPnL     float64
	dailyTrades  int
	lossStreak   int
	cooldown     bool
}

// NewState returns an empty state bound to the policy's caps.
func NewState(params config.RiskParams) *State {
	return &State{
		params:       params,
		openBySymbol: make(map[string]int),
	}
}

// CanOpen reports whether policy permits a new position on symbol, with an
// audit reason when it does not.
func (s *State) CanOpen(symbol string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldown {
		return false, fmt.Sprintf("cooldown_active: %d consecutive losses", s.lossStreak)
	}
	if s.openBySymbol[symbol] >= s.params.MaxOpenSymbol {
		return false, fmt.Sprintf("max_positions_symbol: %s already has an open position", symbol)
	}
	if s.openTotal >= s.params.MaxOpenGlobal {
		return false, fmt.Sprintf("max_positions_global: %d open", s.openTotal)
	}
	return true, "permitted"
}

// RegisterOpen records a newly opened position. It re-checks the caps so a
// racing caller cannot exceed them; false means the position must not be
// opened.
func (s *State) RegisterOpen(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBySymbol[symbol] >= s.params.MaxOpenSymbol || s.openTotal >= s.params.MaxOpenGlobal {
		return false
	}
	s.openBySymbol[symbol]++
	s.openTotal++
	return true
}

// RegisterClose records a position close. Unknown symbols are ignored;
// counters never go negative.
func (s *State) RegisterClose(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBySymbol[symbol] > 0 {
		s.openBySymbol[symbol]--
		if s.openTotal > 0 {
			s.openTotal--
		}
	}
}

// OpenCount returns the global number of tracked open positions.
func (s *State) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTotal
}

// RecordResult feeds the cooldown tracker. Two consecutive losses pause new
// entries until a win or breakeven resets the streak.
func (s *State) RecordResult(r TradeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r {
	case ResultLoss:
		s.lossStreak++
		if s.lossStreak >= s.params.CooldownLosses {
			s.cooldown = true
		}
	case ResultWin, ResultBreakeven:
		s.lossStreak = 0
		s.cooldown = false
	}
}

// InCooldown reports whether the loss cooldown is active.
func (s *State) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldown
}

// AddDailyPnL accumulates realized profit for the current day and counts
// a completed trade.
func (s *State) AddDailyPnL(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL += delta
	s.dailyTrades++
}

// AddPartialPnL books a realized partial fill against the daily total
// without counting a completed trade.
func (s *State) AddPartialPnL(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL += delta
}

// DailyLossExceeded reports whether today's realized loss has reached the
// policy limit relative to balance.
func (s *State) DailyLossExceeded(balance float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance <= 0 || s.dailyPnL >= 0 {
		return false
	}
	return -s.dailyPnL/balance >= s.params.MaxDailyLoss
}

// DailyStats returns today's realized P&L and trade count.
func (s *State) DailyStats() (pnl float64, trades int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPnL, s.dailyTrades
}

// ResetDaily zeroes the daily accumulators at day rollover.
func (s *State) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL = 0
	s.dailyTrades = 0
}
