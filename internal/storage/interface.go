// Package storage persists bot documents, credentials, positions and trades.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("storage: not found")

// BotDocument is the stored control record for one bot. Config carries the
// raw JSON configuration parsed by the config package.
type BotDocument struct {
	BotID         string              `json:"bot_id"`
	UserID        string              `json:"user_id"`
	Status        models.BotStatus    `json:"status"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	LastHeartbeat *time.Time          `json:"last_heartbeat,omitempty"`
	Performance   *models.Performance `json:"performance,omitempty"`
	Config        json.RawMessage     `json:"config"`
}

// PositionPatch carries the mutable position fields a worker may persist
// mid-flight. Nil fields are left unchanged.
type PositionPatch struct {
	TrailingStop *float64
	StopLoss     *float64
	TargetPrice  *float64
}

// Interface defines the contract for bot state persistence.
//
// Implementations must be safe for concurrent use - a single store handle may
// be shared by multiple workers, so callers can assume all methods are
// goroutine-safe.
type Interface interface {
	// Bot document. UpdateStatus validates the change against the status
	// transition table and rejects forbidden moves; ForceStatus persists
	// unconditionally so shutdown and failure paths always leave the stored
	// status reflecting reality.
	GetBot(botID string) (*BotDocument, error)
	UpdateStatus(botID string, status models.BotStatus, errorMessage string) error
	ForceStatus(botID string, status models.BotStatus, errorMessage string) error
	SendHeartbeat(botID string) error
	UpdatePerformance(botID string, perf models.Performance) error

	// Credentials
	GetExchangeConnection(userID, exchange string) (*models.ExchangeConnection, error)

	// Positions
	SavePosition(pos *models.Position) (string, error)
	UpdatePosition(id string, patch PositionPatch) error
	ClosePosition(id string, exitPrice float64, reason models.ExitReason) error
	GetOpenPositions(botID string) ([]*models.Position, error)

	// Trades and analytics
	SaveTrade(trade *models.Trade) (string, error)
	GetBotTrades(botID string, limit int) ([]*models.Trade, error)
	GetDailyStats(botID string) (*models.DailyStats, error)

	Close() error
}

// Ensure implementations satisfy the interface at compile time.
var (
	_ Interface = (*Store)(nil)
	_ Interface = (*MockStore)(nil)
)
