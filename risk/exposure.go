package risk

import (
	"fmt"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/types"
)

// exposure ceilings as a fraction of the margin reference, by instrument
// category. Majors carry the highest tolerance, metals and indices less.
var categoryExposurePct = map[types.SymbolCategory]float64{
	types.CategoryForex:  0.40,
	types.CategoryMetal:  0.25,
	types.CategoryIndex:  0.20,
	types.CategoryCrypto: 0.20,
	types.CategoryStock:  0.20,
}

// Action is the guard's verdict on an order.
type Action string

const (
	Accept Action = "accept"
	Shrink Action = "shrink"
	Reject Action = "reject"
)

// Decision reports the verdict plus the volume to use and an audit reason.
type Decision struct {
	Action Action
	Volume float64
	Margin float64
	Reason string
}

// Guard blocks or shrinks orders that would breach margin or exposure
// limits. It never drops silently: every decision carries a reason.
type Guard struct {
	params config.RiskParams
	state  *State
	log    logger.Logger
}

// NewGuard returns a guard bound to the shared risk state.
func NewGuard(params config.RiskParams, state *State, log logger.Logger) *Guard {
	return &Guard{params: params, state: state, log: log}
}

// RequiredMargin computes the margin the broker will lock for the order.
func RequiredMargin(spec types.SymbolSpec, volume, price float64) float64 {
	leverage := spec.Leverage
	if leverage <= 0 {
		leverage = 100
	}
	contract := spec.ContractSize
	if contract <= 0 {
		contract = 100000
	}
	return contract * volume * price / leverage
}

// ExposureLimit returns the maximum margin the policy allows committing to
// the symbol's category, based on the current free margin.
func ExposureLimit(spec types.SymbolSpec, acct types.AccountInfo) float64 {
	ref := acct.FreeMargin
	if ref <= 0 {
		ref = acct.Balance
	}
	pct := categoryExposurePct[spec.Category()]
	if pct == 0 {
		pct = 0.20
	}
	return ref * pct
}

// Check evaluates a sized order against the free-margin floor, the
// per-symbol and global position caps, and the category exposure ceiling.
// When the requested volume breaches the ceiling it shrinks toward the
// symbol minimum once; only an infeasible minimum is rejected.
func (g *Guard) Check(symbol string, size types.PositionSize, spec types.SymbolSpec, price float64, acct types.AccountInfo) Decision {
	if acct.FreeMargin < g.params.MinFreeMargin {
		return Decision{
			Action: Reject,
			Reason: fmt.Sprintf("free_margin_floor: %.2f < %.2f", acct.FreeMargin, g.params.MinFreeMargin),
		}
	}

	if ok, reason := g.state.CanOpen(symbol); !ok {
		return Decision{Action: Reject, Reason: reason}
	}

	limit := ExposureLimit(spec, acct)
	margin := RequiredMargin(spec, size.Volume, price)
	if margin <= limit {
		return Decision{Action: Accept, Volume: size.Volume, Margin: margin, Reason: "within_exposure"}
	}

	// Shrink to the largest step-aligned volume the limit can carry.
	leverage := spec.Leverage
	if leverage <= 0 {
		leverage = 100
	}
	contract := spec.ContractSize
	if contract <= 0 {
		contract = 100000
	}
	feasible := limit * leverage / (contract * price)
	shrunk := SnapVolumeFloor(feasible, spec)
	shrunkMargin := RequiredMargin(spec, shrunk, price)
	if shrunk < size.Volume && shrunkMargin <= limit {
		g.log.Warn("exposure_shrink",
			logger.String("symbol", symbol),
			logger.Float64("requested", size.Volume),
			logger.Float64("granted", shrunk),
			logger.String("size", describeSize(size)),
		)
		return Decision{
			Action: Shrink,
			Volume: shrunk,
			Margin: shrunkMargin,
			Reason: fmt.Sprintf("exposure_shrink: margin %.2f > limit %.2f", margin, limit),
		}
	}

	return Decision{
		Action: Reject,
		Reason: fmt.Sprintf("exposure_exceeded: margin %.2f > limit %.2f at minimum volume", margin, limit),
	}
}
