// Package models provides the data structures shared across the trading engine.
package models

import (
	"time"
)

// Side identifies the direction of a position or order.
type Side string

const (
	// SideLong is a long position.
	SideLong Side = "LONG"
	// SideShort is a short position.
	SideShort Side = "SHORT"
	// SideBuy is a buy order.
	SideBuy Side = "BUY"
	// SideSell is a sell order.
	SideSell Side = "SELL"
)

// IsLong reports whether the side profits from rising prices.
func (s Side) IsLong() bool {
	return s == SideLong || s == SideBuy
}

// PositionStatus represents the lifecycle status of a position.
type PositionStatus string

const (
	// PositionOpen means the position is live on the venue.
	PositionOpen PositionStatus = "OPEN"
	// PositionClosed means the position has been exited.
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	// ExitTarget: price reached the target.
	ExitTarget ExitReason = "TARGET"
	// ExitStopLoss: price reached the stop loss.
	ExitStopLoss ExitReason = "STOP_LOSS"
	// ExitTrailingStop: price fell back through the trailing stop.
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	// ExitManual: closed by an operator.
	ExitManual ExitReason = "MANUAL"
	// ExitBotStopped: closed because the bot was shut down.
	ExitBotStopped ExitReason = "BOT_STOPPED"
)

// Candle is a single OHLC bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume,omitempty"`
}

// Signal is an ephemeral entry intent produced by the strategy. It is either
// consumed by execute-entry in the same tick or discarded.
type Signal struct {
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Target      float64 `json:"target"`
	StopLoss    float64 `json:"stop_loss"`
	ATR         float64 `json:"atr"`
	ATRDropSize float64 `json:"atr_drop_size"`
}

// Position is a live or archived leveraged position.
type Position struct {
	ID           string         `json:"id,omitempty"`
	BotID        string         `json:"bot_id"`
	UserID       string         `json:"user_id"`
	Symbol       string         `json:"symbol"`
	Side         Side           `json:"side"`
	EntryPrice   float64        `json:"entry_price"`
	Quantity     float64        `json:"quantity"`
	TargetPrice  float64        `json:"target_price"`
	StopLoss     float64        `json:"stop_loss"`
	TrailingStop *float64       `json:"trailing_stop,omitempty"`
	Status       PositionStatus `json:"status"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	ExitPrice    *float64       `json:"exit_price,omitempty"`
	ExitReason   ExitReason     `json:"exit_reason,omitempty"`
	ATRAtEntry   float64        `json:"atr_at_entry"`
	EntryFee     float64        `json:"entry_fee"`
}

// Trade is the immutable record written once per position close.
type Trade struct {
	ID         string    `json:"id,omitempty"`
	BotID      string    `json:"bot_id"`
	UserID     string    `json:"user_id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	// PnL reconstructs the gross figure as NetPnL + EntryFee + ExitFee.
	// This mirrors the reporting convention of the upstream system rather
	// than the raw (exit-entry)*qty gross.
	PnL         float64    `json:"pnl"`
	PnLPct      float64    `json:"pnl_percentage"`
	EntryFee    float64    `json:"entry_fee"`
	ExitFee     float64    `json:"exit_fee"`
	NetPnL      float64    `json:"net_pnl"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    time.Time  `json:"closed_at"`
	DurationMin int        `json:"duration_minutes"`
	ExitReason  ExitReason `json:"exit_reason"`
}

// ExchangeConnection is a stored credential set for one user on one venue.
type ExchangeConnection struct {
	UserID    string `json:"user_id"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Status    string `json:"status"` // ACTIVE | DISABLED
}

// ConnectionActive is the status an exchange connection must carry before a
// worker will use it.
const ConnectionActive = "ACTIVE"

// Performance is the periodically persisted snapshot on the bot document.
type Performance struct {
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	TradesToday        int     `json:"trades_today"`
	WinRate            float64 `json:"win_rate"`
}

// DailyStats summarizes trades closed since 00:00 UTC today.
type DailyStats struct {
	TradesCount int     `json:"trades_count"`
	TotalPnL    float64 `json:"total_pnl"`
	WinRate     float64 `json:"win_rate"`
}
