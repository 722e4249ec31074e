// Package indicator provides stateless numeric indicator functions over
// price series. Every function is deterministic, side-effect free, and
// returns a slice the same length as its input, front-padded with zeros
// where insufficient history exists. EMA is seeded with the first sample so
// it has no undefined prefix.
package indicator

import "math"

// EMA computes the exponential moving average with alpha = 2/(period+1).
// The first value is seeded with data[0].
func EMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}

// SMA computes the simple moving average over the trailing period. Entries
// before index period-1 are zero.
func SMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if period <= 0 || len(data) < period {
		return out
	}
	var sum float64
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI computes the Wilder relative strength index. Entries before index
// period are zero; the value at period uses simple averages of the first
// period gains/losses, every later value uses Wilder smoothing.
func RSI(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if period <= 0 || len(data) <= period {
		return out
	}
	gains := make([]float64, len(data)-1)
	losses := make([]float64, len(data)-1)
	for i := 1; i < len(data); i++ {
		d := data[i] - data[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)
	for i := period + 1; i < len(data); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i-1]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i-1]) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 0
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// TrueRange returns the true-range series. The first value falls back to
// high-low since there is no previous close.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		if i == 0 {
			out[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the average true range as the EMA-smoothed true range.
func ATR(high, low, close []float64, period int) []float64 {
	return EMA(TrueRange(high, low, close), period)
}

// ADX computes the average directional index from smoothed +DM/-DM over the
// smoothed true range.
func ADX(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	if n == 0 || period <= 0 {
		return out
	}
	dmPos := make([]float64, n)
	dmNeg := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			dmPos[i] = up
		}
		if down > up && down > 0 {
			dmNeg[i] = down
		}
	}
	smPos := EMA(dmPos, period)
	smNeg := EMA(dmNeg, period)
	smTR := EMA(TrueRange(high, low, close), period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if smTR[i] == 0 {
			continue
		}
		diPos := 100 * smPos[i] / smTR[i]
		diNeg := 100 * smNeg[i] / smTR[i]
		if sum := diPos + diNeg; sum != 0 {
			dx[i] = 100 * math.Abs(diPos-diNeg) / sum
		}
	}
	return EMA(dx, period)
}

// MACD returns the MACD line (fast EMA minus slow EMA), its signal EMA, and
// the histogram, all the same length as the input.
func MACD(data []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	emaFast := EMA(data, fast)
	emaSlow := EMA(data, slow)
	macd = make([]float64, len(data))
	for i := range data {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	sig = EMA(macd, signal)
	hist = make([]float64, len(data))
	for i := range data {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}
