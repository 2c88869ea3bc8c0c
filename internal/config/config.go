// Package config defines the closed bot configuration schema and its
// validation rules. Bot documents are stored as JSON in the state store; the
// same schema parses from YAML for seed files.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Normalize when fields are unset.
const (
	defaultCandleSize     = "15m"
	defaultUpdateInterval = 5
	defaultMaxPositionPct = 0.50
	defaultMakerFee       = 0.0002
	defaultTakerFee       = 0.0006
	defaultATRPeriod      = 10
)

// fallbackTimeframeSeconds is used for unrecognized candle size labels.
const fallbackTimeframeSeconds = 900

// timeframeSeconds maps candle size labels to their duration in seconds.
var timeframeSeconds = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

// TimeframeSeconds returns the candle duration for a timeframe label.
// Unknown labels fall back to 15 minutes.
func TimeframeSeconds(label string) int {
	if secs, ok := timeframeSeconds[label]; ok {
		return secs
	}
	return fallbackTimeframeSeconds
}

// BotConfig is the complete per-bot configuration document.
type BotConfig struct {
	BotID     string          `json:"bot_id" yaml:"bot_id"`
	Exchange  string          `json:"exchange" yaml:"exchange"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Timeframe TimeframeConfig `json:"timeframe" yaml:"timeframe"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	ATR       ATRConfig       `json:"atr" yaml:"atr"`
	Budget    BudgetConfig    `json:"budget" yaml:"budget"`
	Risk      RiskConfig      `json:"risk_management" yaml:"risk_management"`
	Exit      ExitConfig      `json:"exit" yaml:"exit"`
	Fees      FeesConfig      `json:"fees" yaml:"fees"`
}

// TradingConfig defines the instrument and margin settings.
type TradingConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Mode     string `json:"mode" yaml:"mode"` // ISOLATED
	Leverage int    `json:"leverage" yaml:"leverage"`
}

// TimeframeConfig defines candle bucketing and loop cadence.
type TimeframeConfig struct {
	CandleSize     string `json:"candle_size" yaml:"candle_size"`
	UpdateInterval int    `json:"update_interval" yaml:"update_interval"` // seconds between loop iterations
}

// CandleSeconds returns the configured candle duration in seconds.
func (t TimeframeConfig) CandleSeconds() int {
	return TimeframeSeconds(t.CandleSize)
}

// UpdateEvery returns the loop sleep as a duration.
func (t TimeframeConfig) UpdateEvery() time.Duration {
	return time.Duration(t.UpdateInterval) * time.Second
}

// StrategyConfig identifies the strategy variant.
type StrategyConfig struct {
	Type      string `json:"type" yaml:"type"`
	Direction string `json:"direction" yaml:"direction"`
}

// ATRConfig defines the volatility model and its multipliers.
type ATRConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	Period             int     `json:"period" yaml:"period"`
	EntryMultiplier    float64 `json:"entry_multiplier" yaml:"entry_multiplier"`
	TargetMultiplier   float64 `json:"target_multiplier" yaml:"target_multiplier"`
	StopLossMultiplier float64 `json:"stop_loss_multiplier" yaml:"stop_loss_multiplier"`
}

// SizingLevel maps an ATR drop magnitude to a budget fraction.
type SizingLevel struct {
	ATRMultiplier    float64 `json:"atr_multiplier" yaml:"atr_multiplier"`
	BudgetPercentage float64 `json:"budget_percentage" yaml:"budget_percentage"`
}

// PositionSizingConfig holds the ordered sizing ladder.
type PositionSizingConfig struct {
	Mode   string        `json:"mode" yaml:"mode"`
	Levels []SizingLevel `json:"levels" yaml:"levels"`
}

// BudgetConfig defines allocated capital and the sizing policy.
type BudgetConfig struct {
	AllocatedAmount float64              `json:"allocated_amount" yaml:"allocated_amount"`
	MaxPositionPct  float64              `json:"max_position_percentage" yaml:"max_position_percentage"`
	PositionSizing  PositionSizingConfig `json:"position_sizing" yaml:"position_sizing"`
}

// RiskConfig defines trade-rate and concurrency caps.
type RiskConfig struct {
	MaxTradesPerMinute     int      `json:"max_trades_per_minute" yaml:"max_trades_per_minute"`
	MaxTradesPerHour       int      `json:"max_trades_per_hour" yaml:"max_trades_per_hour"`
	MaxTradesPerDay        int      `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxDailyLoss           *float64 `json:"max_daily_loss,omitempty" yaml:"max_daily_loss,omitempty"`
	MaxConcurrentPositions int      `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
}

// TrailingStopConfig defines the ATR-scaled trailing stop rule.
type TrailingStopConfig struct {
	Enabled                 bool    `json:"enabled" yaml:"enabled"`
	ActivationATRMultiplier float64 `json:"activation_atr_multiplier" yaml:"activation_atr_multiplier"`
	TrailDistATRMultiplier  float64 `json:"trail_distance_atr_multiplier" yaml:"trail_distance_atr_multiplier"`
}

// ExitConfig groups exit-side policies.
type ExitConfig struct {
	TrailingStop TrailingStopConfig `json:"trailing_stop" yaml:"trailing_stop"`
}

// FeesConfig holds venue fee rates as fractions (0.0006 = 6 bps).
type FeesConfig struct {
	Maker float64 `json:"maker" yaml:"maker"`
	Taker float64 `json:"taker" yaml:"taker"`
}

// ParseJSON decodes a bot configuration document from the state store,
// applies defaults and validates it.
func ParseJSON(data []byte, botID string) (*BotConfig, error) {
	var cfg BotConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	cfg.BotID = botID
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}
	return &cfg, nil
}

// ParseYAML decodes a bot configuration from a seed file with strict field
// checking, applies defaults and validates it.
func ParseYAML(data []byte) (*BotConfig, error) {
	var cfg BotConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}
	return &cfg, nil
}

// Normalize fills unset fields with their documented defaults.
func (c *BotConfig) Normalize() {
	if c.Timeframe.CandleSize == "" {
		c.Timeframe.CandleSize = defaultCandleSize
	}
	if c.Timeframe.UpdateInterval <= 0 {
		c.Timeframe.UpdateInterval = defaultUpdateInterval
	}
	if c.Budget.MaxPositionPct == 0 {
		c.Budget.MaxPositionPct = defaultMaxPositionPct
	}
	if c.ATR.Period == 0 {
		c.ATR.Period = defaultATRPeriod
	}
	if c.Fees.Maker == 0 && c.Fees.Taker == 0 {
		c.Fees.Maker = defaultMakerFee
		c.Fees.Taker = defaultTakerFee
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "ISOLATED"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *BotConfig) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if c.Trading.Leverage < 1 {
		return fmt.Errorf("trading.leverage must be >= 1")
	}
	if c.ATR.Period <= 0 {
		return fmt.Errorf("atr.period must be > 0")
	}
	if c.ATR.EntryMultiplier <= 0 {
		return fmt.Errorf("atr.entry_multiplier must be > 0")
	}
	if c.ATR.TargetMultiplier <= 0 {
		return fmt.Errorf("atr.target_multiplier must be > 0")
	}
	if c.ATR.StopLossMultiplier <= 0 {
		return fmt.Errorf("atr.stop_loss_multiplier must be > 0")
	}
	if c.Budget.AllocatedAmount <= 0 {
		return fmt.Errorf("budget.allocated_amount must be > 0")
	}
	if c.Budget.MaxPositionPct <= 0 || c.Budget.MaxPositionPct > 1.0 {
		return fmt.Errorf("budget.max_position_percentage must be in (0,1]")
	}
	if len(c.Budget.PositionSizing.Levels) == 0 {
		return fmt.Errorf("budget.position_sizing.levels must not be empty")
	}
	if !sort.SliceIsSorted(c.Budget.PositionSizing.Levels, func(i, j int) bool {
		return c.Budget.PositionSizing.Levels[i].ATRMultiplier > c.Budget.PositionSizing.Levels[j].ATRMultiplier
	}) {
		return fmt.Errorf("budget.position_sizing.levels must be sorted by atr_multiplier descending")
	}
	for i, lvl := range c.Budget.PositionSizing.Levels {
		if lvl.ATRMultiplier <= 0 {
			return fmt.Errorf("budget.position_sizing.levels[%d].atr_multiplier must be > 0", i)
		}
		if lvl.BudgetPercentage <= 0 || lvl.BudgetPercentage > 1.0 {
			return fmt.Errorf("budget.position_sizing.levels[%d].budget_percentage must be in (0,1]", i)
		}
	}
	if c.Fees.Maker < 0 || c.Fees.Maker > 0.01 {
		return fmt.Errorf("fees.maker must be in [0, 0.01]")
	}
	if c.Fees.Taker < 0 || c.Fees.Taker > 0.01 {
		return fmt.Errorf("fees.taker must be in [0, 0.01]")
	}
	if c.Exit.TrailingStop.Enabled {
		if c.Exit.TrailingStop.ActivationATRMultiplier <= 0 {
			return fmt.Errorf("exit.trailing_stop.activation_atr_multiplier must be > 0")
		}
		if c.Exit.TrailingStop.TrailDistATRMultiplier <= 0 {
			return fmt.Errorf("exit.trailing_stop.trail_distance_atr_multiplier must be > 0")
		}
	}
	if c.Timeframe.UpdateInterval <= 0 {
		return fmt.Errorf("timeframe.update_interval must be > 0")
	}
	return nil
}
