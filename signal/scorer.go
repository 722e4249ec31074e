// Package signal turns indicator snapshots into scored trade
// recommendations.
package signal

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/indicator"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/types"
)

// Snapshot carries the indicator values the scorer works from. All values
// refer to the latest completed bar.
type Snapshot struct {
	Price    float64
	EMA20    float64
	EMA50    float64
	EMA200   float64
	EMA50Ago float64 // EMA50 five bars ago
	RSI      float64
	PrevRSI  float64
	ATR      float64
	ADX      float64
	Volume   float64
	VolumeMA float64
	Spread   float64

	CurrentCross bool // price above/below both EMAs, per direction
	RecentCross  bool // same condition five bars ago
	Convergence  bool // EMA50 and EMA200 within tolerance
	Acceleration bool // EMA50 moving with the trend
}

// Multipliers are the per-symbol SL/TP ATR multipliers.
type Multipliers struct {
	SL float64
	TP float64
}

// Scorer produces directional signals from bar windows. Calibrate must be
// called per symbol as specs become available; uncalibrated symbols fall
// back to a conservative ATR threshold.
type Scorer struct {
	params config.ScorerParams
	log    logger.Logger

	mu          sync.RWMutex
	atrFloor    map[string]float64
	multipliers map[string]Multipliers
}

// NewScorer validates the parameters and returns a ready scorer.
func NewScorer(params config.ScorerParams, log logger.Logger) (*Scorer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		params:      params,
		log:         log,
		atrFloor:    make(map[string]float64),
		multipliers: make(map[string]Multipliers),
	}, nil
}

// Calibrate derives per-symbol parameters from the broker spec: the minimum
// ATR threshold is twice the average spread, and SL/TP multipliers follow
// the instrument class.
func (s *Scorer) Calibrate(spec types.SymbolSpec) {
	floor := spec.SpreadPoints * spec.Point * 2
	if floor <= 0 {
		floor = s.params.DefaultATRThreshold
	}

	var m Multipliers
	upper := strings.ToUpper(spec.Symbol)
	switch {
	case strings.HasPrefix(upper, "XAU"):
		m = Multipliers{SL: 2.0, TP: 3.0}
	case strings.HasSuffix(upper, "JPY"):
		m = Multipliers{SL: 1.2, TP: 2.0}
	case strings.Contains(upper, "USD"):
		m = Multipliers{SL: 1.5, TP: 2.5}
	default:
		m = Multipliers{SL: 1.8, TP: 2.8}
	}

	s.mu.Lock()
	s.atrFloor[spec.Symbol] = floor
	s.multipliers[spec.Symbol] = m
	s.mu.Unlock()
}

// ATRFloor returns the calibrated minimum ATR for the symbol, or the
// conservative default with a log entry when the symbol is unknown.
func (s *Scorer) ATRFloor(symbol string) float64 {
	s.mu.RLock()
	v, ok := s.atrFloor[symbol]
	s.mu.RUnlock()
	if !ok {
		s.log.Warn("atr_floor_uncalibrated",
			logger.String("symbol", symbol),
			logger.Float64("default", s.params.DefaultATRThreshold),
		)
		return s.params.DefaultATRThreshold
	}
	return v
}

// SymbolMultipliers returns the calibrated SL/TP multipliers for the symbol,
// or the default pair.
func (s *Scorer) SymbolMultipliers(symbol string) Multipliers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.multipliers[symbol]; ok {
		return m
	}
	return Multipliers{SL: 1.7, TP: 2.8}
}

// Score applies the additive point system for the given direction and
// returns the total in [0,100] plus the contributing reasons.
func (s *Scorer) Score(side types.Side, snap Snapshot, atrFloor float64) (int, []string) {
	score := 0
	var reasons []string
	long := side == types.Buy

	// Trend alignment against the long EMA carries the largest weight. The
	// 0.2% tolerance keeps marginal pullbacks scoreable.
	switch {
	case long && snap.Price > snap.EMA200*0.998,
		!long && snap.Price < snap.EMA200*1.002:
		score += 25
		reasons = append(reasons, "trend_ema200")
	case long && snap.Price > snap.EMA50*1.003,
		!long && snap.Price < snap.EMA50*0.997:
		score += 15
		reasons = append(reasons, "trend_ema50")
	}

	if snap.CurrentCross || snap.RecentCross || snap.Convergence || snap.Acceleration {
		score += 20
		reasons = append(reasons, "ema_momentum")
	}

	// RSI positioning: a shallow pullback zone scores best, recovering
	// momentum scores partially. Mirrored for shorts.
	switch {
	case long && snap.RSI >= 42 && snap.RSI <= 50,
		!long && snap.RSI >= 50 && snap.RSI <= 58:
		score += 15
		reasons = append(reasons, "rsi_pullback")
	case long && snap.RSI > snap.PrevRSI && snap.RSI > 48,
		!long && snap.RSI < snap.PrevRSI && snap.RSI < 52:
		score += 10
		reasons = append(reasons, "rsi_momentum")
	}

	switch {
	case snap.ATR > atrFloor*1.25 && snap.ADX > s.params.ADXThreshold*1.2:
		score += 20
		reasons = append(reasons, "strong_volatility_trend")
	case snap.ATR > atrFloor*1.1 && snap.ADX > s.params.ADXThreshold:
		score += 10
		reasons = append(reasons, "adequate_volatility_trend")
	}

	switch {
	case snap.Volume > 1.2*snap.VolumeMA && snap.VolumeMA > 0:
		score += 10
		reasons = append(reasons, "volume_surge")
	case snap.Volume > snap.VolumeMA && snap.VolumeMA > 0:
		score += 5
		reasons = append(reasons, "volume_confirmed")
	}

	if snap.ATR > 0 && snap.Spread > 0.3*snap.ATR {
		score -= 10
		reasons = append(reasons, "spread_penalty")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, reasons
}

// Generate evaluates a bar window and returns the scored candidate plus
// whether it clears the confidence threshold. A below-threshold candidate
// comes back fully populated with ok=false so the caller can record the
// rejection. Insufficient history or no directional bias returns nil.
func (s *Scorer) Generate(bars *types.Bars, spec types.SymbolSpec) (*types.Signal, bool) {
	if bars == nil || bars.Len() < s.params.MinBars {
		return nil, false
	}
	snap := s.snapshot(bars, spec)

	var side types.Side
	switch {
	case snap.Price > snap.EMA200:
		side = types.Buy
	case snap.Price < snap.EMA200:
		side = types.Sell
	default:
		return nil, false
	}

	floor := s.ATRFloor(bars.Symbol)
	score, reasons := s.Score(side, snap, floor)
	confidence := float64(score) / 100

	m := s.SymbolMultipliers(bars.Symbol)
	entry := snap.Price
	var sl, tp float64
	if side == types.Buy {
		sl = entry - snap.ATR*m.SL
		tp = entry + snap.ATR*m.TP
	} else {
		sl = entry + snap.ATR*m.SL
		tp = entry - snap.ATR*m.TP
	}

	sig := &types.Signal{
		ID:         uuid.NewString(),
		Symbol:     bars.Symbol,
		Timeframe:  bars.Timeframe,
		Side:       side,
		Entry:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Confidence: confidence,
		Reasons:    reasons,
		ATR:        snap.ATR,
		Timestamp:  time.Now().UTC(),
	}
	if confidence < s.params.ConfidenceThreshold {
		s.log.Info("signal_below_threshold",
			logger.String("symbol", sig.Symbol),
			logger.String("side", string(sig.Side)),
			logger.Float64("confidence", sig.Confidence),
		)
		return sig, false
	}
	s.log.Info("signal_generated",
		logger.String("symbol", sig.Symbol),
		logger.String("side", string(sig.Side)),
		logger.Float64("confidence", sig.Confidence),
		logger.String("reasons", strings.Join(reasons, ",")),
	)
	return sig, true
}

// snapshot computes the indicator values Generate scores from.
func (s *Scorer) snapshot(bars *types.Bars, spec types.SymbolSpec) Snapshot {
	n := bars.Len()
	ema20 := indicator.EMA(bars.Close, 20)
	ema50 := indicator.EMA(bars.Close, 50)
	ema200 := indicator.EMA(bars.Close, 200)
	rsi := indicator.RSI(bars.Close, 14)
	atr := indicator.ATR(bars.High, bars.Low, bars.Close, 14)
	adx := indicator.ADX(bars.High, bars.Low, bars.Close, 14)
	volMA := indicator.SMA(bars.Volume, s.params.VolumeMAPeriod)

	price := bars.Close[n-1]
	long := price > ema200[n-1]

	above := func(i int) bool {
		if long {
			return bars.Close[i] > ema50[i] && bars.Close[i] > ema200[i]
		}
		return bars.Close[i] < ema50[i] && bars.Close[i] < ema200[i]
	}

	accel := ema50[n-1] > ema50[n-6]
	if !long {
		accel = ema50[n-1] < ema50[n-6]
	}

	return Snapshot{
		Price:        price,
		EMA20:        ema20[n-1],
		EMA50:        ema50[n-1],
		EMA200:       ema200[n-1],
		EMA50Ago:     ema50[n-6],
		RSI:          rsi[n-1],
		PrevRSI:      rsi[n-2],
		ATR:          atr[n-1],
		ADX:          adx[n-1],
		Volume:       bars.Volume[n-1],
		VolumeMA:     volMA[n-1],
		Spread:       spec.SpreadPoints * spec.Point,
		CurrentCross: above(n - 1),
		RecentCross:  above(n - 5),
		Convergence:  math.Abs(ema50[n-1]-ema200[n-1]) < price*0.0005,
		Acceleration: accel,
	}
}

// Describe renders a compact human-readable form for notifications.
func Describe(sig *types.Signal) string {
	return fmt.Sprintf("%s %s %s @ %.5f SL %.5f TP %.5f conf %.2f",
		sig.Symbol, sig.Timeframe, sig.Side, sig.Entry, sig.StopLoss, sig.TakeProfit, sig.Confidence)
}
