// Package executor defines the order-execution collaborator and a paper
// implementation used for dry runs and tests.
package executor

import (
	"fmt"
	"sync"

	"github.com/evdnx/gofx/types"
)

// Executor is the narrow surface the engine needs from a broker session.
type Executor interface {
	SendOrder(req types.OrderRequest) (types.OrderResult, error)
	ModifyStops(positionID string, sl, tp float64) error
	ClosePartial(positionID string, volume float64) error
	ClosePosition(positionID string) error
	OpenPositions() ([]types.OpenPosition, error)
}

// PaperExecutor fills every order instantly at the requested price with no
// slippage. Positions live in memory only.
type PaperExecutor struct {
	mu        sync.Mutex
	nextID    int
	positions map[string]*types.OpenPosition
	closed    []types.OpenPosition
}

// NewPaperExecutor returns an empty paper broker.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{positions: make(map[string]*types.OpenPosition)}
}

// SendOrder opens a position at the requested price.
func (p *PaperExecutor) SendOrder(req types.OrderRequest) (types.OrderResult, error) {
	if req.Volume <= 0 {
		return types.OrderResult{RetCode: 10014}, fmt.Errorf("invalid volume %f", req.Volume)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("paper-%d", p.nextID)
	p.positions[id] = &types.OpenPosition{
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

// ModifyStops updates the stop levels of an open position.
func (p *PaperExecutor) ModifyStops(positionID string, sl, tp float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	pos.StopLoss = sl
	if tp > 0 {
		pos.TakeProfit = tp
	}
	return nil
}

// ClosePartial reduces an open position by volume; closing the full volume
// removes it.
func (p *PaperExecutor) ClosePartial(positionID string, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	if volume <= 0 || volume > pos.Volume {
		return fmt.Errorf("invalid partial volume %f for position %s", volume, positionID)
	}
	pos.Volume -= volume
	if pos.Volume <= 0 {
		p.closed = append(p.closed, *pos)
		delete(p.positions, positionID)
	}
	return nil
}

// ClosePosition flattens an open position.
func (p *PaperExecutor) ClosePosition(positionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	p.closed = append(p.closed, *pos)
	delete(p.positions, positionID)
	return nil
}

// OpenPositions returns a snapshot of all open positions.
func (p *PaperExecutor) OpenPositions() ([]types.OpenPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.OpenPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// MarkPrice updates the mark price of an open position, for dry-run
// monitoring cycles.
func (p *PaperExecutor) MarkPrice(positionID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[positionID]; ok {
		pos.CurrentPrice = price
	}
}
