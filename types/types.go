package types

import (
	"strings"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Bars holds a rolling window of OHLCV data for one (symbol, timeframe).
// The parallel slices always have equal length; index 0 is the oldest bar.
// A Bars value is immutable once fetched from the market-data source.
type Bars struct {
	Symbol    string
	Timeframe string
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
	Time      []time.Time
}

// Len returns the number of bars in the window.
func (b *Bars) Len() int { return len(b.Close) }

// LastClose returns the most recent close, or 0 if the window is empty.
func (b *Bars) LastClose() float64 {
	if len(b.Close) == 0 {
		return 0
	}
	return b.Close[len(b.Close)-1]
}

// SymbolCategory classifies an instrument for risk purposes.
type SymbolCategory string

const (
	CategoryForex  SymbolCategory = "forex"
	CategoryMetal  SymbolCategory = "metal"
	CategoryIndex  SymbolCategory = "index"
	CategoryCrypto SymbolCategory = "crypto"
	CategoryStock  SymbolCategory = "stock"
)

// SymbolSpec carries the static / semi-static broker facts for one symbol.
// It is refreshed periodically by the market-data source and read-only to
// everything downstream.
type SymbolSpec struct {
	Symbol       string
	Digits       int
	Point        float64 // minimal quoted increment
	ContractSize float64
	MinVolume    float64
	MaxVolume    float64
	VolumeStep   float64
	StopsLevel   int // broker minimum stop distance, in points
	Leverage     float64
	MarginPerLot float64
	TickValue    float64
	SpreadPoints float64
}

// PipSize returns the conventional pip for the symbol: 0.01 for JPY pairs,
// 0.1 for metals, 0.0001 otherwise.
func (s SymbolSpec) PipSize() float64 {
	if s.Category() == CategoryMetal {
		return 0.1
	}
	if strings.Contains(strings.ToUpper(s.Symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

// Category buckets the symbol by name. Broker symbol metadata is often
// missing or wrong, so the name is the authority here.
func (s SymbolSpec) Category() SymbolCategory {
	u := strings.ToUpper(s.Symbol)
	if containsAny(u, "XAU", "XAG", "GOLD", "SILVER", "PLATINUM", "PALLADIUM") {
		return CategoryMetal
	}
	if containsAny(u, "BTC", "ETH", "LTC", "XRP") {
		return CategoryCrypto
	}
	if containsAny(u, "US30", "US500", "NAS100", "GER40", "UK100", "JP225", "SPX", "DAX") {
		return CategoryIndex
	}
	if containsAny(u, "EUR", "USD", "GBP", "JPY", "AUD", "CAD", "CHF", "NZD") {
		return CategoryForex
	}
	return CategoryStock
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Signal is an immutable trade recommendation produced by the scorer.
type Signal struct {
	ID         string
	Symbol     string
	Timeframe  string
	Side       Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64 // 0..1
	Reasons    []string
	ATR        float64
	Timestamp  time.Time
}

// PositionSize is the result of one sizing calculation.
type PositionSize struct {
	Volume         float64
	RiskAmount     float64
	RiskPercentage float64
	PipValue       float64
	StopLossPips   float64
}

// AccountInfo is the account snapshot returned by the market-data source.
type AccountInfo struct {
	Balance    float64
	Equity     float64
	FreeMargin float64
	Leverage   float64
	Currency   string
}

// OpenPosition is the per-cycle view of one live position supplied by the
// execution sink. The core never stores these; it only computes the next
// desired action.
type OpenPosition struct {
	ID           string
	Symbol       string
	Side         Side
	Volume       float64
	Entry        float64
	StopLoss     float64
	TakeProfit   float64
	CurrentPrice float64
	ATR          float64
	Closes       []float64
}

// OrderRequest is what the engine hands to the execution sink.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// OrderResult reports the broker's answer to an order request.
type OrderResult struct {
	Accepted bool
	OrderID  string
	RetCode  int
}
