package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RiskMode selects how the position sizer converts a stop distance into a
// volume.
type RiskMode string

const (
	// RiskFixedUSD risks a fixed dollar amount per trade.
	RiskFixedUSD RiskMode = "fixed_usd"
	// RiskPercentMargin risks a percentage of min(free margin, balance).
	RiskPercentMargin RiskMode = "percent_margin"
)

// HardRiskCap is the per-trade risk fraction that can never be exceeded,
// regardless of configuration.
const HardRiskCap = 0.01

// RiskParams holds every tunable of the risk engine. The historical source
// of these numbers carried several conflicting revisions; the defaults here
// are the single authoritative policy.
type RiskParams struct {
	Mode            RiskMode
	FixedRiskUSD    float64 // used in RiskFixedUSD mode
	MaxRiskPerTrade float64 // fraction, capped at HardRiskCap during sizing
	MaxDailyLoss    float64 // fraction of balance
	MaxOpenGlobal   int
	MaxOpenSymbol   int // capped at 1
	MinRiskReward   float64
	SLATRMultiplier float64
	TPATRMultiplier float64
	BreakevenR      float64 // R multiple that triggers partial close + breakeven
	TrailingR       float64 // R multiple that activates the structural trail
	SafetyMult      float64 // stop-distance safety multiplier
	MinFreeMargin   float64 // absolute floor, account currency
	CooldownLosses  int     // consecutive losses that pause new entries
}

// DefaultRiskParams returns the authoritative risk policy.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		Mode:            RiskPercentMargin,
		FixedRiskUSD:    50,
		MaxRiskPerTrade: 0.02,
		MaxDailyLoss:    0.04,
		MaxOpenGlobal:   3,
		MaxOpenSymbol:   1,
		MinRiskReward:   1.3,
		SLATRMultiplier: 1.7,
		TPATRMultiplier: 2.8,
		BreakevenR:      1.0,
		TrailingR:       1.5,
		SafetyMult:      3.0,
		MinFreeMargin:   10,
		CooldownLosses:  2,
	}
}

// Validate checks the parameters and returns the first problem found.
func (p *RiskParams) Validate() error {
	if p.Mode != RiskFixedUSD && p.Mode != RiskPercentMargin {
		return fmt.Errorf("unknown risk mode %q", p.Mode)
	}
	if p.Mode == RiskFixedUSD && p.FixedRiskUSD <= 0 {
		return errors.New("FixedRiskUSD must be positive in fixed_usd mode")
	}
	if p.MaxRiskPerTrade <= 0 || p.MaxRiskPerTrade > 0.5 {
		return fmt.Errorf("MaxRiskPerTrade (%f) must be >0 and <=0.5", p.MaxRiskPerTrade)
	}
	if p.MaxDailyLoss <= 0 || p.MaxDailyLoss > 0.5 {
		return fmt.Errorf("MaxDailyLoss (%f) must be >0 and <=0.5", p.MaxDailyLoss)
	}
	if p.MaxOpenGlobal <= 0 {
		return errors.New("MaxOpenGlobal must be positive")
	}
	if p.MaxOpenSymbol < 1 {
		return errors.New("MaxOpenSymbol must be at least 1")
	}
	if p.MaxOpenSymbol > 1 {
		// one position per symbol is a hard policy ceiling
		p.MaxOpenSymbol = 1
	}
	if p.MinRiskReward < 1 {
		return fmt.Errorf("MinRiskReward (%f) must be >=1", p.MinRiskReward)
	}
	if p.SLATRMultiplier <= 0 || p.TPATRMultiplier <= 0 {
		return errors.New("ATR multipliers must be positive")
	}
	if p.BreakevenR <= 0 || p.TrailingR <= p.BreakevenR {
		return errors.New("TrailingR must exceed BreakevenR and both must be positive")
	}
	if p.SafetyMult < 1 {
		return fmt.Errorf("SafetyMult (%f) must be >=1", p.SafetyMult)
	}
	return nil
}

// ScorerParams holds the tunables of the signal scorer.
type ScorerParams struct {
	ConfidenceThreshold float64 // 0..1
	ADXThreshold        float64
	DefaultATRThreshold float64 // used until a symbol is calibrated
	MinBars             int
	VolumeMAPeriod      int
}

// DefaultScorerParams returns the chosen scoring policy. The confidence
// threshold is 0.70.
func DefaultScorerParams() ScorerParams {
	return ScorerParams{
		ConfidenceThreshold: 0.70,
		ADXThreshold:        17,
		DefaultATRThreshold: 0.001,
		MinBars:             210, // EMA200 plus warm-up
		VolumeMAPeriod:      20,
	}
}

// Validate checks the parameters and returns the first problem found.
func (p *ScorerParams) Validate() error {
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("ConfidenceThreshold (%f) must be in (0,1]", p.ConfidenceThreshold)
	}
	if p.ADXThreshold < 0 {
		return errors.New("ADXThreshold cannot be negative")
	}
	if p.DefaultATRThreshold <= 0 {
		return errors.New("DefaultATRThreshold must be positive")
	}
	if p.MinBars < 50 {
		return fmt.Errorf("MinBars (%d) too small to stabilise the long EMA", p.MinBars)
	}
	if p.VolumeMAPeriod <= 0 {
		return errors.New("VolumeMAPeriod must be positive")
	}
	return nil
}

// Config is the full engine configuration.
type Config struct {
	Symbols         []string
	Timeframe       string
	BarCount        int
	ScanInterval    time.Duration
	MonitorInterval time.Duration
	LicenseInterval time.Duration
	DedupWindow     time.Duration

	Risk   RiskParams
	Scorer ScorerParams

	DatabasePath     string
	CalendarCSV      string
	TelegramToken    string
	TelegramChatID   string
	LicenseURL       string
	LicenseEmail     string
	FeedURL          string
	LogPath          string
	MetricsListen    string
	DryRun           bool
}

// Default returns a Config with the authoritative defaults applied.
func Default() Config {
	return Config{
		Symbols:         []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"},
		Timeframe:       "M15",
		BarCount:        500,
		ScanInterval:    15 * time.Minute,
		MonitorInterval: 5 * time.Second,
		LicenseInterval: 10 * time.Minute,
		DedupWindow:     4 * time.Hour,
		Risk:            DefaultRiskParams(),
		Scorer:          DefaultScorerParams(),
		DatabasePath:    "trades.db",
		MetricsListen:   ":9115",
	}
}

// Validate checks the whole configuration and returns the first problem.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	if c.BarCount < c.Scorer.MinBars {
		return fmt.Errorf("BarCount (%d) below scorer minimum (%d)", c.BarCount, c.Scorer.MinBars)
	}
	if c.ScanInterval <= 0 || c.MonitorInterval <= 0 || c.LicenseInterval <= 0 {
		return errors.New("intervals must be positive")
	}
	if c.DedupWindow <= 0 {
		return errors.New("DedupWindow must be positive")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return c.Scorer.Validate()
}

// Load builds a Config from the environment, reading a .env file first if
// one exists. Unset variables keep their defaults.
func Load() (Config, error) {
	_ = godotenv.Load() // absent .env is fine

	c := Default()
	if v := os.Getenv("GOFX_SYMBOLS"); v != "" {
		c.Symbols = splitTrim(v)
	}
	if v := os.Getenv("GOFX_TIMEFRAME"); v != "" {
		c.Timeframe = v
	}
	if v := os.Getenv("GOFX_RISK_MODE"); v != "" {
		c.Risk.Mode = RiskMode(v)
	}
	var err error
	if c.Risk.FixedRiskUSD, err = envFloat("GOFX_FIXED_RISK_USD", c.Risk.FixedRiskUSD); err != nil {
		return c, err
	}
	if c.Risk.MaxRiskPerTrade, err = envFloat("GOFX_MAX_RISK_PER_TRADE", c.Risk.MaxRiskPerTrade); err != nil {
		return c, err
	}
	if c.Scorer.ConfidenceThreshold, err = envFloat("GOFX_CONFIDENCE_THRESHOLD", c.Scorer.ConfidenceThreshold); err != nil {
		return c, err
	}
	if c.ScanInterval, err = envDuration("GOFX_SCAN_INTERVAL", c.ScanInterval); err != nil {
		return c, err
	}
	if c.MonitorInterval, err = envDuration("GOFX_MONITOR_INTERVAL", c.MonitorInterval); err != nil {
		return c, err
	}
	if v := os.Getenv("GOFX_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("GOFX_CALENDAR_CSV"); v != "" {
		c.CalendarCSV = v
	}
	c.TelegramToken = os.Getenv("GOFX_TELEGRAM_TOKEN")
	c.TelegramChatID = os.Getenv("GOFX_TELEGRAM_CHAT_ID")
	c.LicenseURL = os.Getenv("GOFX_LICENSE_URL")
	c.LicenseEmail = os.Getenv("GOFX_LICENSE_EMAIL")
	c.FeedURL = os.Getenv("GOFX_FEED_URL")
	if v := os.Getenv("GOFX_LOG_PATH"); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv("GOFX_METRICS_LISTEN"); v != "" {
		c.MetricsListen = v
	}
	c.DryRun = os.Getenv("GOFX_DRY_RUN") == "true"

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func splitTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
