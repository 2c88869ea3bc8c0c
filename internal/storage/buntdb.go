package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// Key layout: bot:<id>, conn:<user>:<exchange>, position:<uuid>, trade:<uuid>.
const (
	botKeyPrefix      = "bot:"
	connKeyPrefix     = "conn:"
	positionKeyPrefix = "position:"
	tradeKeyPrefix    = "trade:"
)

// Store is a BuntDB-backed Interface implementation. BuntDB serializes
// transactions internally, so a single Store may be shared across workers.
type Store struct {
	db    *buntdb.DB
	nowFn func() time.Time
}

// NewStore opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store in tests.
func NewStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	// Trades are listed newest first; closed_at is RFC 3339 so the string
	// order is the chronological order.
	if err := db.CreateIndex("trade_closed", tradeKeyPrefix+"*", buntdb.IndexJSON("closed_at")); err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		_ = db.Close()
		return nil, fmt.Errorf("creating trade index: %w", err)
	}

	return &Store{db: db, nowFn: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string, out interface{}) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return err
		}
		return json.Unmarshal([]byte(val), out)
	})
}

func (s *Store) set(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(data), nil)
		return err
	})
}

// GetBot returns the stored bot document.
func (s *Store) GetBot(botID string) (*BotDocument, error) {
	var doc BotDocument
	if err := s.get(botKeyPrefix+botID, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveBot writes the full bot document, used when seeding bots.
func (s *Store) SaveBot(doc *BotDocument) error {
	if doc.BotID == "" {
		return fmt.Errorf("bot document missing bot_id")
	}
	return s.set(botKeyPrefix+doc.BotID, doc)
}

// updateBot applies fn to the stored document inside one transaction. An
// error from fn aborts the update and is returned unchanged.
func (s *Store) updateBot(botID string, fn func(*BotDocument) error) error {
	key := botKeyPrefix + botID
	return s.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return err
		}
		var doc BotDocument
		if err := json.Unmarshal([]byte(val), &doc); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", key, err)
		}
		if err := fn(&doc); err != nil {
			return err
		}
		data, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", key, err)
		}
		_, _, err = tx.Set(key, string(data), nil)
		return err
	})
}

// UpdateStatus persists the bot's status after validating the change against
// the transition table; errorMessage replaces any previous diagnostic and an
// empty string clears it.
func (s *Store) UpdateStatus(botID string, status models.BotStatus, errorMessage string) error {
	return s.updateBot(botID, func(doc *BotDocument) error {
		if err := models.CheckTransition(doc.Status, status); err != nil {
			return err
		}
		doc.Status = status
		doc.ErrorMessage = errorMessage
		return nil
	})
}

// ForceStatus persists the bot's status without transition validation, for
// shutdown and failure paths where the stored status must reflect reality.
func (s *Store) ForceStatus(botID string, status models.BotStatus, errorMessage string) error {
	return s.updateBot(botID, func(doc *BotDocument) error {
		doc.Status = status
		doc.ErrorMessage = errorMessage
		return nil
	})
}

// SendHeartbeat touches the bot's last_heartbeat timestamp.
func (s *Store) SendHeartbeat(botID string) error {
	now := s.nowFn().UTC()
	return s.updateBot(botID, func(doc *BotDocument) error {
		doc.LastHeartbeat = &now
		return nil
	})
}

// UpdatePerformance persists the periodic performance snapshot.
func (s *Store) UpdatePerformance(botID string, perf models.Performance) error {
	return s.updateBot(botID, func(doc *BotDocument) error {
		doc.Performance = &perf
		return nil
	})
}

// GetExchangeConnection returns the user's credentials for exchange. Only
// ACTIVE connections are visible; anything else reads as not found.
func (s *Store) GetExchangeConnection(userID, exchange string) (*models.ExchangeConnection, error) {
	var conn models.ExchangeConnection
	if err := s.get(connKeyPrefix+userID+":"+exchange, &conn); err != nil {
		return nil, err
	}
	if conn.Status != models.ConnectionActive {
		return nil, fmt.Errorf("%w: no active %s connection for user %s", ErrNotFound, exchange, userID)
	}
	return &conn, nil
}

// SaveExchangeConnection stores credentials, used when seeding bots.
func (s *Store) SaveExchangeConnection(conn *models.ExchangeConnection) error {
	if conn.UserID == "" || conn.Exchange == "" {
		return fmt.Errorf("exchange connection missing user_id or exchange")
	}
	return s.set(connKeyPrefix+conn.UserID+":"+conn.Exchange, conn)
}

// SavePosition persists the position, assigning an id when it has none, and
// returns the id.
func (s *Store) SavePosition(pos *models.Position) (string, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if err := s.set(positionKeyPrefix+pos.ID, pos); err != nil {
		return "", err
	}
	return pos.ID, nil
}

// updatePosition applies fn to the stored position inside one transaction.
func (s *Store) updatePosition(id string, fn func(*models.Position)) error {
	key := positionKeyPrefix + id
	return s.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return err
		}
		var pos models.Position
		if err := json.Unmarshal([]byte(val), &pos); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", key, err)
		}
		fn(&pos)
		data, err := json.Marshal(&pos)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", key, err)
		}
		_, _, err = tx.Set(key, string(data), nil)
		return err
	})
}

// UpdatePosition applies the non-nil patch fields to the stored position.
func (s *Store) UpdatePosition(id string, patch PositionPatch) error {
	return s.updatePosition(id, func(pos *models.Position) {
		if patch.TrailingStop != nil {
			pos.TrailingStop = patch.TrailingStop
		}
		if patch.StopLoss != nil {
			pos.StopLoss = *patch.StopLoss
		}
		if patch.TargetPrice != nil {
			pos.TargetPrice = *patch.TargetPrice
		}
	})
}

// ClosePosition marks the stored position CLOSED with its exit details.
func (s *Store) ClosePosition(id string, exitPrice float64, reason models.ExitReason) error {
	now := s.nowFn().UTC()
	return s.updatePosition(id, func(pos *models.Position) {
		pos.Status = models.PositionClosed
		pos.ClosedAt = &now
		pos.ExitPrice = &exitPrice
		pos.ExitReason = reason
	})
}

// GetOpenPositions returns all OPEN positions belonging to botID.
func (s *Store) GetOpenPositions(botID string) ([]*models.Position, error) {
	var out []*models.Position
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(positionKeyPrefix+"*", func(_, val string) bool {
			var pos models.Position
			if err := json.Unmarshal([]byte(val), &pos); err != nil {
				return true
			}
			if pos.BotID == botID && pos.Status == models.PositionOpen {
				p := pos
				out = append(out, &p)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTrade persists the trade, assigning an id when it has none, and
// returns the id.
func (s *Store) SaveTrade(trade *models.Trade) (string, error) {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if err := s.set(tradeKeyPrefix+trade.ID, trade); err != nil {
		return "", err
	}
	return trade.ID, nil
}

// GetBotTrades returns up to limit trades for botID, newest first.
// limit <= 0 means no limit.
func (s *Store) GetBotTrades(botID string, limit int) ([]*models.Trade, error) {
	var out []*models.Trade
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("trade_closed", func(_, val string) bool {
			var trade models.Trade
			if err := json.Unmarshal([]byte(val), &trade); err != nil {
				return true
			}
			if trade.BotID != botID {
				return true
			}
			out = append(out, &trade)
			return limit <= 0 || len(out) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDailyStats summarizes the bot's trades closed since 00:00 UTC today.
func (s *Store) GetDailyStats(botID string) (*models.DailyStats, error) {
	midnight := s.nowFn().UTC().Truncate(24 * time.Hour)

	stats := &models.DailyStats{}
	wins := 0
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("trade_closed", func(_, val string) bool {
			var trade models.Trade
			if err := json.Unmarshal([]byte(val), &trade); err != nil {
				return true
			}
			if trade.ClosedAt.Before(midnight) {
				// Index is ordered by closed_at, nothing older qualifies.
				return false
			}
			if trade.BotID != botID {
				return true
			}
			stats.TradesCount++
			stats.TotalPnL += trade.NetPnL
			if trade.NetPnL > 0 {
				wins++
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if stats.TradesCount > 0 {
		stats.WinRate = float64(wins) / float64(stats.TradesCount)
	}
	return stats, nil
}
