package testutils

import (
	"fmt"
	"sync"

	"github.com/evdnx/gofx/types"
)

// MockExecutor implements the Executor interface in-memory and records
// every broker call for assertions. Individual calls can be made to
// fail via the Fail* switches.
type MockExecutor struct {
	mu        sync.RWMutex
	nextID    int
	positions map[string]*types.OpenPosition

	Orders   []types.OrderRequest
	Modifies []StopModify
	Partials []PartialClose
	Closes   []string

	FailSend    bool
	FailModify  bool
	FailPartial bool
	FailClose   bool
	Reject      bool // accept the call but return a broker rejection
}

// StopModify is one recorded ModifyStops call.
type StopModify struct {
	PositionID string
	StopLoss   float64
	TakeProfit float64
}

// PartialClose is one recorded ClosePartial call.
type PartialClose struct {
	PositionID string
	Volume     float64
}

// NewMockExecutor creates an empty mock.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{positions: make(map[string]*types.OpenPosition)}
}

// Seed inserts an open position without going through SendOrder.
func (m *MockExecutor) Seed(pos types.OpenPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pos
	m.positions[p.ID] = &p
}

// SendOrder records the request and opens a position.
func (m *MockExecutor) SendOrder(req types.OrderRequest) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)
	if m.FailSend {
		return types.OrderResult{}, fmt.Errorf("mock: send failed")
	}
	if m.Reject {
		return types.OrderResult{Accepted: false, RetCode: 10014}, nil
	}
	m.nextID++
	id := fmt.Sprintf("mock-%d", m.nextID)
	m.positions[id] = &types.OpenPosition{
		ID:           id,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		Entry:        req.Price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		CurrentPrice: req.Price,
	}
	return types.OrderResult{Accepted: true, OrderID: id, RetCode: 10009}, nil
}

// ModifyStops records the call and updates the position.
func (m *MockExecutor) ModifyStops(positionID string, stopLoss, takeProfit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Modifies = append(m.Modifies, StopModify{positionID, stopLoss, takeProfit})
	if m.FailModify {
		return fmt.Errorf("mock: modify failed")
	}
	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("mock: no position %s", positionID)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

// ClosePartial records the call and reduces the position volume.
func (m *MockExecutor) ClosePartial(positionID string, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Partials = append(m.Partials, PartialClose{positionID, volume})
	if m.FailPartial {
		return fmt.Errorf("mock: partial close failed")
	}
	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("mock: no position %s", positionID)
	}
	pos.Volume -= volume
	if pos.Volume <= 0 {
		delete(m.positions, positionID)
	}
	return nil
}

// ClosePosition records the call and removes the position.
func (m *MockExecutor) ClosePosition(positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes = append(m.Closes, positionID)
	if m.FailClose {
		return fmt.Errorf("mock: close failed")
	}
	if _, ok := m.positions[positionID]; !ok {
		return fmt.Errorf("mock: no position %s", positionID)
	}
	delete(m.positions, positionID)
	return nil
}

// OpenPositions returns a snapshot of the open positions.
func (m *MockExecutor) OpenPositions() ([]types.OpenPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.OpenPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out, nil
}

// SetPrice updates the mark price (and rolling closes) of a position.
func (m *MockExecutor) SetPrice(positionID string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[positionID]; ok {
		pos.CurrentPrice = price
		pos.Closes = append(pos.Closes, price)
	}
}
