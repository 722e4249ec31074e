// Package risk implements position sizing, stop repair, exposure limits and
// the shared risk-state counters.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/types"
)

// Sizer converts a signal's stop distance into a tradeable volume under the
// configured risk policy. It is biased toward always producing a valid,
// conservative sizing: unresolvable inputs degrade to the symbol minimum
// volume with a log entry, never to an error.
type Sizer struct {
	params config.RiskParams
	log    logger.Logger
}

// NewSizer validates the policy and returns a sizer.
func NewSizer(params config.RiskParams, log logger.Logger) (*Sizer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{params: params, log: log}, nil
}

// Size computes the trade volume for the signal. The mode comes from the
// risk policy: fixed-USD risks a constant dollar amount, percent-of-margin
// risks min(configured pct, hard cap) of min(free margin, balance).
func (s *Sizer) Size(sig *types.Signal, spec types.SymbolSpec, acct types.AccountInfo) types.PositionSize {
	riskAmount := s.params.FixedRiskUSD
	riskPct := 0.0
	if s.params.Mode == config.RiskPercentMargin {
		pct := s.params.MaxRiskPerTrade
		if pct > config.HardRiskCap {
			pct = config.HardRiskCap
		}
		ref := acct.FreeMargin
		if acct.Balance < ref || ref <= 0 {
			ref = acct.Balance
		}
		if ref <= 0 {
			s.log.Warn("sizer_no_margin_reference",
				logger.String("symbol", sig.Symbol),
				logger.Float64("balance", acct.Balance),
			)
			return s.minimum(spec, 0, 0)
		}
		riskAmount = ref * pct
		riskPct = pct * 100
	}
	return s.sizeForRisk(sig, spec, riskAmount, riskPct)
}

func (s *Sizer) sizeForRisk(sig *types.Signal, spec types.SymbolSpec, riskAmount, riskPct float64) types.PositionSize {
	pip := spec.PipSize()

	slDistance := sig.Entry - sig.StopLoss
	if slDistance < 0 {
		slDistance = -slDistance
	}
	if slDistance <= 0 {
		// emergency minimum distance instead of failing
		slDistance = emergencyDistance(spec)
		s.log.Warn("sizer_zero_stop_distance",
			logger.String("symbol", sig.Symbol),
			logger.Float64("substituted", slDistance),
		)
	}
	slPips := slDistance / pip
	if slPips <= 0 {
		slPips = 10
		s.log.Warn("sizer_zero_sl_pips", logger.String("symbol", sig.Symbol))
	}

	pipValue := spec.TickValue
	if pipValue <= 0 {
		pipValue = pip * spec.ContractSize
	}
	if pipValue <= 0 {
		pipValue = fallbackPipValue(spec)
		s.log.Warn("sizer_zero_pip_value",
			logger.String("symbol", sig.Symbol),
			logger.Float64("substituted", pipValue),
		)
	}

	volume := riskAmount / (slPips * pipValue)
	volume = SnapVolume(volume, spec)

	return types.PositionSize{
		Volume:         volume,
		RiskAmount:     riskAmount,
		RiskPercentage: riskPct,
		PipValue:       pipValue,
		StopLossPips:   slPips,
	}
}

func (s *Sizer) minimum(spec types.SymbolSpec, pipValue, slPips float64) types.PositionSize {
	if pipValue <= 0 {
		pipValue = fallbackPipValue(spec)
	}
	if slPips <= 0 {
		slPips = 10
	}
	return types.PositionSize{
		Volume:       minVolume(spec),
		PipValue:     pipValue,
		StopLossPips: slPips,
	}
}

// SnapVolume clamps v to [MinVolume, MaxVolume] and rounds it to the
// nearest volume step. Step arithmetic goes through decimals so artifacts
// like 0.30000000000000004 never reach the broker.
func SnapVolume(v float64, spec types.SymbolSpec) float64 {
	minV := minVolume(spec)
	maxV := spec.MaxVolume
	if maxV <= 0 {
		maxV = 100
	}
	step := spec.VolumeStep
	if step <= 0 {
		step = 0.01
	}
	if v <= 0 {
		return minV
	}

	dv := decimal.NewFromFloat(v)
	ds := decimal.NewFromFloat(step)
	snapped, _ := dv.Div(ds).Round(0).Mul(ds).Float64()

	if snapped < minV {
		return minV
	}
	if snapped > maxV {
		return maxV
	}
	return snapped
}

// SnapVolumeFloor behaves like SnapVolume but rounds the step down, for
// callers that must not exceed a computed ceiling.
func SnapVolumeFloor(v float64, spec types.SymbolSpec) float64 {
	minV := minVolume(spec)
	maxV := spec.MaxVolume
	if maxV <= 0 {
		maxV = 100
	}
	step := spec.VolumeStep
	if step <= 0 {
		step = 0.01
	}
	if v <= 0 {
		return minV
	}

	dv := decimal.NewFromFloat(v)
	ds := decimal.NewFromFloat(step)
	snapped, _ := dv.Div(ds).Floor().Mul(ds).Float64()

	if snapped < minV {
		return minV
	}
	if snapped > maxV {
		return maxV
	}
	return snapped
}

// RoundPrice rounds v to the symbol's quoted precision.
func RoundPrice(v float64, digits int) float64 {
	if digits < 0 {
		digits = 5
	}
	out, _ := decimal.NewFromFloat(v).Round(int32(digits)).Float64()
	return out
}

func minVolume(spec types.SymbolSpec) float64 {
	if spec.MinVolume > 0 {
		return spec.MinVolume
	}
	return 0.01
}

func emergencyDistance(spec types.SymbolSpec) float64 {
	point := spec.Point
	if point <= 0 {
		point = 0.0001
	}
	d := 10 * point
	if d < 0.001 {
		d = 0.001
	}
	return d
}

func fallbackPipValue(spec types.SymbolSpec) float64 {
	switch spec.Category() {
	case types.CategoryMetal:
		return 100
	default:
		if spec.PipSize() == 0.01 { // JPY pairs
			return 1000
		}
		return 10
	}
}

// describeSize is used in logs and journal entries.
func describeSize(ps types.PositionSize) string {
	return fmt.Sprintf("vol=%.2f risk=%.2f pips=%.1f", ps.Volume, ps.RiskAmount, ps.StopLossPips)
}
