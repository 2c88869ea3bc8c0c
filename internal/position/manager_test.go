package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openLong(m *Manager, entry, qty, entryFee float64) *models.Position {
	return m.Add(AddParams{
		Symbol:      "BTCUSDT",
		Side:        models.SideLong,
		EntryPrice:  entry,
		Quantity:    qty,
		TargetPrice: entry + 2,
		StopLoss:    entry - 3,
		ATRAtEntry:  2.0,
		EntryFee:    entryFee,
	}, t0)
}

func TestAddRegistersOpenPosition(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	pos := openLong(m, 98, 10, 0)

	assert.Equal(t, models.PositionOpen, pos.Status)
	assert.Equal(t, "bot-1", pos.BotID)
	assert.Equal(t, "user-1", pos.UserID)
	assert.Nil(t, pos.TrailingStop)
	assert.Equal(t, t0, pos.OpenedAt)
	assert.Equal(t, 1, m.OpenCount())
}

func TestCloseRealizesTrade(t *testing.T) {
	feeRate := 0.001
	m := NewManager("bot-1", "user-1", feeRate)
	pos := openLong(m, 98, 10, 0.98)
	pos.ID = "pos-1"

	trade := m.Close(pos, 100, models.ExitTarget, t0.Add(90*time.Minute))
	require.NotNil(t, trade)

	exitFee := 100.0 * 10 * feeRate
	net := (100.0-98.0)*10 - 0.98 - exitFee
	assert.InDelta(t, net, trade.NetPnL, 1e-9)
	assert.InDelta(t, net+0.98+exitFee, trade.PnL, 1e-9)
	assert.InDelta(t, net/(98.0*10)*100, trade.PnLPct, 1e-9)
	assert.Equal(t, 90, trade.DurationMin)
	assert.Equal(t, models.ExitTarget, trade.ExitReason)
	assert.Equal(t, "pos-1", trade.PositionID)

	assert.Equal(t, models.PositionClosed, pos.Status)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, 0, m.OpenCount())
}

func TestCloseAtEntryWithZeroFeesIsFlat(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	pos := openLong(m, 100, 5, 0)

	trade := m.Close(pos, 100, models.ExitManual, t0.Add(time.Minute))
	assert.InDelta(t, 0, trade.NetPnL, 1e-9)
	assert.InDelta(t, 0, trade.PnL, 1e-9)
}

func TestTrailingStopRatchet(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	pos := openLong(m, 98, 10, 0)
	atr, activation, trail := 2.0, 0.5, 0.4

	// Below activation profit: no stop yet.
	m.UpdateTrailingStop(pos, 98.5, atr, activation, trail)
	assert.Nil(t, pos.TrailingStop)

	// Profit 1.5 >= 1.0 activates at 99.5 - 0.8.
	m.UpdateTrailingStop(pos, 99.5, atr, activation, trail)
	require.NotNil(t, pos.TrailingStop)
	assert.InDelta(t, 98.7, *pos.TrailingStop, 1e-9)

	// Higher price ratchets up.
	m.UpdateTrailingStop(pos, 100.5, atr, activation, trail)
	assert.InDelta(t, 99.7, *pos.TrailingStop, 1e-9)

	// Lower price never ratchets down.
	m.UpdateTrailingStop(pos, 99.8, atr, activation, trail)
	assert.InDelta(t, 99.7, *pos.TrailingStop, 1e-9)
}

func TestTrailingStopShortMirrors(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	pos := m.Add(AddParams{
		Symbol:     "BTCUSDT",
		Side:       models.SideShort,
		EntryPrice: 100,
		Quantity:   10,
		StopLoss:   103,
	}, t0)
	atr, activation, trail := 2.0, 0.5, 0.4

	m.UpdateTrailingStop(pos, 98.5, atr, activation, trail)
	require.NotNil(t, pos.TrailingStop)
	assert.InDelta(t, 99.3, *pos.TrailingStop, 1e-9)

	m.UpdateTrailingStop(pos, 97.5, atr, activation, trail)
	assert.InDelta(t, 98.3, *pos.TrailingStop, 1e-9)

	// Price moving back up must not loosen the stop.
	m.UpdateTrailingStop(pos, 98.2, atr, activation, trail)
	assert.InDelta(t, 98.3, *pos.TrailingStop, 1e-9)
}

func TestUnrealizedPnLSumsOpenSet(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	openLong(m, 98, 10, 0)
	openLong(m, 100, 5, 0)

	// At 101: (101-98)*10 + (101-100)*5 = 35.
	assert.InDelta(t, 35, m.UnrealizedPnL(101), 1e-9)
	assert.InDelta(t, 15*101.0, m.TotalPositionSize(101), 1e-9)
}

func TestAdoptOnlyAcceptsOpenPositions(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	m.Adopt(&models.Position{Status: models.PositionClosed})
	m.Adopt(nil)
	assert.Equal(t, 0, m.OpenCount())

	m.Adopt(&models.Position{Status: models.PositionOpen, Quantity: 1, EntryPrice: 100})
	assert.Equal(t, 1, m.OpenCount())
}

func TestOpenPositionsSnapshotIsStable(t *testing.T) {
	m := NewManager("bot-1", "user-1", 0)
	a := openLong(m, 98, 10, 0)
	b := openLong(m, 99, 10, 0)

	snapshot := m.OpenPositions()
	m.Close(a, 100, models.ExitTarget, t0.Add(time.Minute))
	m.Close(b, 100, models.ExitTarget, t0.Add(time.Minute))

	assert.Len(t, snapshot, 2)
	assert.Equal(t, 0, m.OpenCount())
}
