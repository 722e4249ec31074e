package testutils

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/evdnx/gofx/types"
)

// MockSource serves canned bars, specs and account snapshots.
type MockSource struct {
	mu      sync.RWMutex
	bars    map[string]types.Bars
	specs   map[string]types.SymbolSpec
	account types.AccountInfo

	BarsErr error
}

// NewMockSource creates an empty source with the given account state.
func NewMockSource(account types.AccountInfo) *MockSource {
	return &MockSource{
		bars:    make(map[string]types.Bars),
		specs:   make(map[string]types.SymbolSpec),
		account: account,
	}
}

// SetBars installs the bar window returned for symbol.
func (m *MockSource) SetBars(symbol string, bars types.Bars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// SetSpec installs the specification returned for symbol.
func (m *MockSource) SetSpec(spec types.SymbolSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.Symbol] = spec
}

// SetAccount replaces the account snapshot.
func (m *MockSource) SetAccount(account types.AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = account
}

func (m *MockSource) Bars(_ context.Context, symbol, _ string, _ int) (types.Bars, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.BarsErr != nil {
		return types.Bars{}, m.BarsErr
	}
	b, ok := m.bars[symbol]
	if !ok {
		return types.Bars{}, fmt.Errorf("mock: no bars for %s", symbol)
	}
	return b, nil
}

func (m *MockSource) SymbolSpec(_ context.Context, symbol string) (types.SymbolSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[symbol]
	if !ok {
		return types.SymbolSpec{}, fmt.Errorf("mock: no spec for %s", symbol)
	}
	return s, nil
}

func (m *MockSource) AccountInfo(context.Context) (types.AccountInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account, nil
}

// TrendingBars builds n bars drifting from start by step per bar, with
// a small oscillation so indicators have something to chew on.
func TrendingBars(symbol, timeframe string, n int, start, step float64) types.Bars {
	b := types.Bars{Symbol: symbol, Timeframe: timeframe}
	t0 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		mid := start + step*float64(i)
		wobble := math.Sin(float64(i)/4) * math.Abs(step)
		open := mid - step/2
		close := mid + wobble*0.2
		high := math.Max(open, close) + math.Abs(step)
		low := math.Min(open, close) - math.Abs(step)
		b.Time = append(b.Time, t0.Add(time.Duration(i)*15*time.Minute))
		b.Open = append(b.Open, open)
		b.High = append(b.High, high)
		b.Low = append(b.Low, low)
		b.Close = append(b.Close, close)
		b.Volume = append(b.Volume, 1000+float64(i%20)*50)
	}
	return b
}
