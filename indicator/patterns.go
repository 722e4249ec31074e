package indicator

// BullishEngulfing flags bars where a bullish candle fully engulfs the
// previous bearish body.
func BullishEngulfing(open, high, low, close []float64) []bool {
	out := make([]bool, len(close))
	for i := 1; i < len(close); i++ {
		prevBearish := close[i-1] < open[i-1]
		currBullish := close[i] > open[i]
		engulfs := open[i] < close[i-1] && close[i] > open[i-1]
		out[i] = prevBearish && currBullish && engulfs
	}
	return out
}

// BearishEngulfing flags bars where a bearish candle fully engulfs the
// previous bullish body.
func BearishEngulfing(open, high, low, close []float64) []bool {
	out := make([]bool, len(close))
	for i := 1; i < len(close); i++ {
		prevBullish := close[i-1] > open[i-1]
		currBearish := close[i] < open[i]
		engulfs := open[i] > close[i-1] && close[i] < open[i-1]
		out[i] = prevBullish && currBearish && engulfs
	}
	return out
}

// PinBars flags bullish and bearish pin bars: a body under 30% of the range
// with a shadow at least twice the body on the rejection side.
func PinBars(open, high, low, close []float64) (bullish, bearish []bool) {
	bullish = make([]bool, len(close))
	bearish = make([]bool, len(close))
	for i := range close {
		body := abs(close[i] - open[i])
		total := high[i] - low[i]
		if total == 0 {
			continue
		}
		upper := high[i] - max(open[i], close[i])
		lower := min(open[i], close[i]) - low[i]
		if body/total < 0.3 {
			if lower > 2*body {
				bullish[i] = true
			} else if upper > 2*body {
				bearish[i] = true
			}
		}
	}
	return bullish, bearish
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
