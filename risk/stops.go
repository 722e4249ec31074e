package risk

import (
	"math"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/types"
)

// category floors, in points. Broker stops levels are often missing or
// nonsense, so every instrument class carries its own minimum.
var categoryFloorPoints = map[types.SymbolCategory]float64{
	types.CategoryForex:  5,
	types.CategoryMetal:  30,
	types.CategoryIndex:  50,
	types.CategoryCrypto: 100,
	types.CategoryStock:  10,
}

// Adjuster validates and repairs SL/TP levels. Adjust never fails: whatever
// it is handed, it returns executable stops on the correct side of entry
// with the minimum reward:risk ratio enforced.
type Adjuster struct {
	params config.RiskParams
	log    logger.Logger
}

// NewAdjuster returns an adjuster using the given risk policy.
func NewAdjuster(params config.RiskParams, log logger.Logger) *Adjuster {
	return &Adjuster{params: params, log: log}
}

// Adjust repairs the proposed stops. atr may be zero when unknown. Calling
// Adjust again on its own output is a no-op.
func (a *Adjuster) Adjust(side types.Side, entry, sl, tp float64, spec types.SymbolSpec, atr float64) (float64, float64) {
	if entry <= 0 {
		a.log.Error("adjust_invalid_entry", logger.Float64("entry", entry))
		entry = 1
	}

	minDist := a.minStopDistance(spec, atr)
	long := side == types.Buy

	// Repair SL: missing, zero, or wrong side of entry.
	if long {
		if sl <= 0 || sl >= entry {
			sl = entry - minDist
		}
		if entry-sl < minDist {
			sl = entry - minDist
		}
	} else {
		if sl <= 0 || sl <= entry {
			sl = entry + minDist
		}
		if sl-entry < minDist {
			sl = entry + minDist
		}
	}

	// Repair TP the same way.
	if long {
		if tp <= 0 || tp <= entry {
			tp = entry + minDist
		}
		if tp-entry < minDist {
			tp = entry + minDist
		}
	} else {
		if tp <= 0 || tp >= entry {
			tp = entry - minDist
		}
		if entry-tp < minDist {
			tp = entry - minDist
		}
	}

	// Enforce the reward:risk floor by widening TP to 1.5x the stop
	// distance.
	slDist := math.Abs(entry - sl)
	tpDist := math.Abs(tp - entry)
	if tpDist < slDist*a.params.MinRiskReward {
		if long {
			tp = entry + slDist*1.5
		} else {
			tp = entry - slDist*1.5
		}
	}

	// Percentage-of-price fallback if anything still ended up non-positive.
	if sl <= 0 {
		if long {
			sl = entry * 0.95
		} else {
			sl = entry * 1.05
		}
		a.log.Error("adjust_sl_fallback", logger.Float64("sl", sl))
	}
	if tp <= 0 {
		if long {
			tp = entry * 1.05
		} else {
			tp = entry * 0.95
		}
		a.log.Error("adjust_tp_fallback", logger.Float64("tp", tp))
	}

	digits := spec.Digits
	if digits <= 0 {
		digits = 5
	}
	return RoundPrice(sl, digits), RoundPrice(tp, digits)
}

// minStopDistance is max(broker stops level, category floor) scaled by the
// safety multiplier, with an ATR-based floor at 0.8 ATR when ATR is known.
func (a *Adjuster) minStopDistance(spec types.SymbolSpec, atr float64) float64 {
	point := spec.Point
	if point <= 0 {
		if spec.PipSize() == 0.01 {
			point = 0.01
		} else {
			point = 0.0001
		}
	}
	floorPts := categoryFloorPoints[spec.Category()]
	if floorPts == 0 {
		floorPts = 5
	}
	base := floorPts * point
	if d := float64(spec.StopsLevel) * point; d > base {
		base = d
	}
	dist := base * a.params.SafetyMult
	if atr > 0 {
		if atrDist := atr * 0.8; atrDist > dist {
			dist = atrDist
		}
	}
	return dist
}
