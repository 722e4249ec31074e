package risk

import (
	"testing"

	"github.com/evdnx/gofx/config"
)

func TestStateCapsOpenPositions(t *testing.T) {
	params := config.DefaultRiskParams() // 1 per symbol, 3 global
	s := NewState(params)

	if ok, _ := s.CanOpen("EURUSD"); !ok {
		t.Fatal("fresh state should permit")
	}
	if !s.RegisterOpen("EURUSD") {
		t.Fatal("first open should register")
	}
	if ok, reason := s.CanOpen("EURUSD"); ok {
		t.Fatalf("second position on one symbol should be denied (%s)", reason)
	}
	if s.RegisterOpen("EURUSD") {
		t.Fatal("register must enforce the per-symbol cap")
	}

	s.RegisterOpen("GBPUSD")
	s.RegisterOpen("USDJPY")
	if ok, _ := s.CanOpen("XAUUSD"); ok {
		t.Fatal("global cap of 3 should deny a fourth symbol")
	}

	s.RegisterClose("EURUSD")
	if ok, _ := s.CanOpen("EURUSD"); !ok {
		t.Fatal("close should free the slot")
	}
	if s.OpenCount() != 2 {
		t.Fatalf("expected 2 open, got %d", s.OpenCount())
	}
}

func TestStateCloseNeverGoesNegative(t *testing.T) {
	s := NewState(config.DefaultRiskParams())
	s.RegisterClose("EURUSD")
	s.RegisterClose("EURUSD")
	if s.OpenCount() != 0 {
		t.Fatalf("count went negative: %d", s.OpenCount())
	}
}

func TestStateCooldownAfterConsecutiveLosses(t *testing.T) {
	s := NewState(config.DefaultRiskParams()) // cooldown at 2 losses

	s.RecordResult(ResultLoss)
	if s.InCooldown() {
		t.Fatal("one loss must not trigger cooldown")
	}
	s.RecordResult(ResultLoss)
	if !s.InCooldown() {
		t.Fatal("two consecutive losses must trigger cooldown")
	}
	if ok, reason := s.CanOpen("EURUSD"); ok {
		t.Fatalf("cooldown must deny entries (%s)", reason)
	}

	s.RecordResult(ResultWin)
	if s.InCooldown() {
		t.Fatal("a win must clear the cooldown")
	}
}

func TestStateWinBetweenLossesResetsStreak(t *testing.T) {
	s := NewState(config.DefaultRiskParams())
	s.RecordResult(ResultLoss)
	s.RecordResult(ResultBreakeven)
	s.RecordResult(ResultLoss)
	if s.InCooldown() {
		t.Fatal("non-consecutive losses must not trigger cooldown")
	}
}

func TestStateDailyLoss(t *testing.T) {
	s := NewState(config.DefaultRiskParams()) // 4% daily loss cap

	s.AddDailyPnL(-200)
	if s.DailyLossExceeded(10000) {
		t.Fatal("2% drawdown should not trip the 4% limit")
	}
	s.AddDailyPnL(-250)
	if !s.DailyLossExceeded(10000) {
		t.Fatal("4.5% drawdown should trip the limit")
	}

	pnl, trades := s.DailyStats()
	if pnl != -450 || trades != 2 {
		t.Fatalf("unexpected daily stats: pnl=%v trades=%d", pnl, trades)
	}

	s.ResetDaily()
	if s.DailyLossExceeded(10000) {
		t.Fatal("reset should clear the daily loss")
	}
}

func TestStatePartialPnLCountsMoneyNotTrades(t *testing.T) {
	s := NewState(config.DefaultRiskParams())

	s.AddPartialPnL(-300)
	s.AddDailyPnL(-200)
	pnl, trades := s.DailyStats()
	if pnl != -500 || trades != 1 {
		t.Fatalf("unexpected daily stats: pnl=%v trades=%d", pnl, trades)
	}
	if !s.DailyLossExceeded(10000) {
		t.Fatal("partial losses must count toward the daily limit")
	}
}

func TestStateProfitNeverTripsDailyLoss(t *testing.T) {
	s := NewState(config.DefaultRiskParams())
	s.AddDailyPnL(5000)
	if s.DailyLossExceeded(10000) {
		t.Fatal("profit must not trip the loss limit")
	}
}
