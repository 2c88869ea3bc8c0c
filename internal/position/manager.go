// Package position maintains the in-memory registry of open positions and
// realizes PnL when they close.
package position

import (
	"time"

	"github.com/eddiefleurent/atr_dipbot/internal/indicator"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// Manager holds the ordered set of open positions for one bot. It is owned by
// a single strategy and is not safe for concurrent use.
type Manager struct {
	botID   string
	userID  string
	feeRate float64
	open    []*models.Position
}

// NewManager creates a position manager charging feeRate on exits.
func NewManager(botID, userID string, feeRate float64) *Manager {
	return &Manager{
		botID:   botID,
		userID:  userID,
		feeRate: feeRate,
	}
}

// SetUserID sets the owning user after credentials are resolved.
func (m *Manager) SetUserID(userID string) {
	m.userID = userID
}

// AddParams carries the fields needed to open a position.
type AddParams struct {
	Symbol      string
	Side        models.Side
	EntryPrice  float64
	Quantity    float64
	TargetPrice float64
	StopLoss    float64
	ATRAtEntry  float64
	EntryFee    float64
}

// Add registers a new OPEN position at now and returns it.
func (m *Manager) Add(p AddParams, now time.Time) *models.Position {
	pos := &models.Position{
		BotID:       m.botID,
		UserID:      m.userID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		Quantity:    p.Quantity,
		TargetPrice: p.TargetPrice,
		StopLoss:    p.StopLoss,
		Status:      models.PositionOpen,
		OpenedAt:    now,
		ATRAtEntry:  p.ATRAtEntry,
		EntryFee:    p.EntryFee,
	}
	m.open = append(m.open, pos)
	return pos
}

// Adopt re-registers an already-open position, e.g. one recovered from the
// state store after a restart.
func (m *Manager) Adopt(pos *models.Position) {
	if pos == nil || pos.Status != models.PositionOpen {
		return
	}
	m.open = append(m.open, pos)
}

// Close realizes the position at exitPrice, marks it CLOSED, removes it from
// the open set and returns the trade record.
//
// The trade's PnL field reconstructs gross as net + entry fee + exit fee,
// the convention the reporting side expects.
func (m *Manager) Close(pos *models.Position, exitPrice float64, reason models.ExitReason, now time.Time) *models.Trade {
	isLong := pos.Side.IsLong()

	netPnL := indicator.Profit(pos.EntryPrice, exitPrice, pos.Quantity, pos.EntryFee, m.feeRate, isLong)
	exitFee := exitPrice * pos.Quantity * m.feeRate

	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Quantity; notional != 0 {
		pnlPct = (netPnL / notional) * 100
	}

	closedAt := now
	duration := int(closedAt.Sub(pos.OpenedAt).Minutes())
	if duration < 0 {
		duration = 0
	}

	trade := &models.Trade{
		BotID:       m.botID,
		UserID:      m.userID,
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		PnL:         netPnL + pos.EntryFee + exitFee,
		PnLPct:      pnlPct,
		EntryFee:    pos.EntryFee,
		ExitFee:     exitFee,
		NetPnL:      netPnL,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    closedAt,
		DurationMin: duration,
		ExitReason:  reason,
	}

	pos.Status = models.PositionClosed
	pos.ClosedAt = &closedAt

	for i, p := range m.open {
		if p == pos {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}

	return trade
}

// UpdateTrailingStop ratchets the trailing stop toward price once profit
// exceeds atr*activationMult. For longs the stop only moves up; for shorts
// only down. It never crosses the current price.
func (m *Manager) UpdateTrailingStop(pos *models.Position, price, atr, activationMult, trailMult float64) {
	activation := atr * activationMult

	if pos.Side.IsLong() {
		profit := price - pos.EntryPrice
		if profit < activation {
			return
		}
		candidate := price - atr*trailMult
		if pos.TrailingStop == nil || candidate > *pos.TrailingStop {
			pos.TrailingStop = &candidate
		}
		return
	}

	profit := pos.EntryPrice - price
	if profit < activation {
		return
	}
	candidate := price + atr*trailMult
	if pos.TrailingStop == nil || candidate < *pos.TrailingStop {
		pos.TrailingStop = &candidate
	}
}

// OpenPositions returns a snapshot of the open set, safe to iterate while
// positions are closed.
func (m *Manager) OpenPositions() []*models.Position {
	out := make([]*models.Position, len(m.open))
	copy(out, m.open)
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	return len(m.open)
}

// TotalPositionSize returns the notional value of all open positions at price.
func (m *Manager) TotalPositionSize(price float64) float64 {
	total := 0.0
	for _, pos := range m.open {
		total += pos.Quantity * price
	}
	return total
}

// UnrealizedPnL returns the summed net PnL of the open set marked at price.
func (m *Manager) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, pos := range m.open {
		total += indicator.Profit(pos.EntryPrice, price, pos.Quantity, pos.EntryFee, m.feeRate, pos.Side.IsLong())
	}
	return total
}
