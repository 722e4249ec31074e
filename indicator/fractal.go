package indicator

// Fractals returns the indices of 5-bar swing highs and swing lows: a bar
// whose value is strictly greater (resp. smaller) than its two neighbours on
// both sides. The outermost two bars on each end can never qualify.
func Fractals(data []float64) (highs, lows []int) {
	for i := 2; i < len(data)-2; i++ {
		v := data[i]
		if v > data[i-1] && v > data[i-2] && v > data[i+1] && v > data[i+2] {
			highs = append(highs, i)
		}
		if v < data[i-1] && v < data[i-2] && v < data[i+1] && v < data[i+2] {
			lows = append(lows, i)
		}
	}
	return highs, lows
}

// NearestLevel returns the level closest to price, or 0 when levels is empty.
func NearestLevel(price float64, levels []float64) float64 {
	if len(levels) == 0 {
		return 0
	}
	best := levels[0]
	for _, l := range levels[1:] {
		if abs(l-price) < abs(best-price) {
			best = l
		}
	}
	return best
}
