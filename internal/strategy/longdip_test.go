package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/exchange"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
	"github.com/eddiefleurent/atr_dipbot/internal/position"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// scenarioConfig: zero fees, 10x leverage, 3-period ATR on 1m candles,
// 1000 budget with a single (1.0, 0.10) sizing level.
func scenarioConfig() *config.BotConfig {
	return &config.BotConfig{
		BotID:    "bot-1",
		Exchange: "bitunix",
		Trading:  config.TradingConfig{Symbol: "BTCUSDT", Mode: "ISOLATED", Leverage: 10},
		Timeframe: config.TimeframeConfig{
			CandleSize:     "1m",
			UpdateInterval: 5,
		},
		ATR: config.ATRConfig{
			Enabled:            true,
			Period:             3,
			EntryMultiplier:    1.0,
			TargetMultiplier:   1.0,
			StopLossMultiplier: 1.5,
		},
		Budget: config.BudgetConfig{
			AllocatedAmount: 1000,
			MaxPositionPct:  0.50,
			PositionSizing: config.PositionSizingConfig{
				Levels: []config.SizingLevel{{ATRMultiplier: 1.0, BudgetPercentage: 0.10}},
			},
		},
	}
}

func newTestStrategy(t *testing.T, cfg *config.BotConfig, gw *exchange.MockGateway) *LongDipATR {
	t.Helper()
	positions := position.NewManager(cfg.BotID, "user-1", cfg.Fees.Taker)
	s, err := NewLongDipATR(context.Background(), cfg, gw, positions, zerolog.Nop())
	require.NoError(t, err)
	return s
}

// warmup feeds four single-price candles (100, 98, 100, 98) and the
// finalizing tick at 100, leaving atr = 2.0, atr_pct = 2.0 and
// recent_high = 100. Returns the timestamp after the last tick.
func warmup(s *LongDipATR) time.Time {
	prices := []float64{100, 98, 100, 98, 100}
	ts := t0
	for _, p := range prices {
		s.Update(p, ts)
		ts = ts.Add(61 * time.Second)
	}
	return ts.Add(-55 * time.Second) // inside the live bucket
}

func TestNoSignalBeforeATRReady(t *testing.T) {
	s := newTestStrategy(t, scenarioConfig(), &exchange.MockGateway{})

	s.Update(100, t0)
	s.Update(101, t0.Add(10*time.Second))
	s.Update(102, t0.Add(20*time.Second))

	// A deep dip without a single finalized candle stays silent.
	s.Update(95, t0.Add(30*time.Second))
	assert.Nil(t, s.CheckEntry(95))
}

func TestCleanEntrySignal(t *testing.T) {
	s := newTestStrategy(t, scenarioConfig(), &exchange.MockGateway{})
	ts := warmup(s)

	// At the recent high there is no drop and no signal.
	assert.Nil(t, s.CheckEntry(100))

	s.Update(98, ts)
	sig := s.CheckEntry(98)
	require.NotNil(t, sig)

	assert.Equal(t, models.SideLong, sig.Side)
	assert.InDelta(t, 1000.0/98.0, sig.Quantity, 1e-3)
	assert.InDelta(t, 100.0, sig.Target, 1e-9)
	assert.InDelta(t, 95.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 2.0, sig.ATR, 1e-9)
	assert.InDelta(t, 1.0, sig.ATRDropSize, 1e-9)
}

func TestDropBelowTriggerIsIgnored(t *testing.T) {
	s := newTestStrategy(t, scenarioConfig(), &exchange.MockGateway{})
	ts := warmup(s)

	s.Update(98.5, ts)
	assert.Nil(t, s.CheckEntry(98.5), "1.5 drop is under the 2.0 trigger")
}

func TestEntryExecutionReservesBudgetAndResetsHigh(t *testing.T) {
	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	sig := s.CheckEntry(98)
	require.NotNil(t, sig)

	pos := s.ExecuteEntry(context.Background(), sig, ts)
	require.NotNil(t, pos)

	assert.Equal(t, 1, s.Positions().OpenCount())
	assert.InDelta(t, sig.Quantity*98/10, s.Budget().Used(), 1e-6)
	assert.Equal(t, 98.0, s.RecentHigh(), "recent high resets to the fill price")

	require.Len(t, gw.PlacedOrders, 1)
	order := gw.PlacedOrders[0]
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Equal(t, exchange.TradeSideOpen, order.TradeSide)
	assert.False(t, order.ReduceOnly)
}

func TestRejectedEntryLeavesStateUntouched(t *testing.T) {
	gw := &exchange.MockGateway{
		PlaceOrderFn: func(exchange.OrderRequest) (*exchange.Order, error) {
			return nil, exchange.ErrOrderRejected
		},
	}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	sig := s.CheckEntry(98)
	require.NotNil(t, sig)

	assert.Nil(t, s.ExecuteEntry(context.Background(), sig, ts))
	assert.Equal(t, 0, s.Positions().OpenCount())
	assert.InDelta(t, 0, s.Budget().Used(), 1e-9)
	assert.Equal(t, 100.0, s.RecentHigh(), "recent high unchanged after rejection")
}

func TestTargetHitRoundTrip(t *testing.T) {
	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	pos := s.ExecuteEntry(context.Background(), s.CheckEntry(98), ts)
	require.NotNil(t, pos)
	qty := pos.Quantity

	ts = ts.Add(5 * time.Second)
	s.Update(100, ts)
	exits := s.CheckExits(100)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ExitTarget, exits[0].Reason)

	trade := s.ExecuteExit(context.Background(), exits[0].Position, 100, exits[0].Reason, ts)
	require.NotNil(t, trade)
	assert.InDelta(t, (100.0-98.0)*qty, trade.NetPnL, 1e-6)
	assert.InDelta(t, 20.41, trade.NetPnL, 0.01)
	assert.InDelta(t, 0, s.Budget().Used(), 1e-6, "budget returns to zero")
	assert.Equal(t, 0, s.Positions().OpenCount())
}

func TestStopLossHit(t *testing.T) {
	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	pos := s.ExecuteEntry(context.Background(), s.CheckEntry(98), ts)
	require.NotNil(t, pos)

	ts = ts.Add(5 * time.Second)
	s.Update(95, ts)
	exits := s.CheckExits(95)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ExitStopLoss, exits[0].Reason)

	trade := s.ExecuteExit(context.Background(), exits[0].Position, 95, exits[0].Reason, ts)
	require.NotNil(t, trade)
	assert.InDelta(t, -30.61, trade.NetPnL, 0.01)
}

func TestExitPrecedenceTargetBeforeStop(t *testing.T) {
	s := newTestStrategy(t, scenarioConfig(), &exchange.MockGateway{})
	// Degenerate position where one price satisfies both rules.
	s.Positions().Add(position.AddParams{
		Symbol:      "BTCUSDT",
		Side:        models.SideLong,
		EntryPrice:  100,
		Quantity:    1,
		TargetPrice: 100,
		StopLoss:    100,
	}, t0)

	exits := s.CheckExits(100)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ExitTarget, exits[0].Reason)
}

func TestRejectedExitKeepsPositionAndBudget(t *testing.T) {
	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	pos := s.ExecuteEntry(context.Background(), s.CheckEntry(98), ts)
	require.NotNil(t, pos)
	reserved := s.Budget().Used()

	gw.PlaceOrderFn = func(exchange.OrderRequest) (*exchange.Order, error) {
		return nil, exchange.ErrOrderRejected
	}

	trade := s.ExecuteExit(context.Background(), pos, 100, models.ExitTarget, ts)
	assert.Nil(t, trade)
	assert.Equal(t, 1, s.Positions().OpenCount())
	assert.InDelta(t, reserved, s.Budget().Used(), 1e-9, "budget stays reserved")
}

func TestTrailingStopScenario(t *testing.T) {
	cfg := scenarioConfig()
	// Keep the target out of reach so only the trailing stop can fire.
	cfg.ATR.TargetMultiplier = 10
	cfg.Exit.TrailingStop = config.TrailingStopConfig{
		Enabled:                 true,
		ActivationATRMultiplier: 0.5,
		TrailDistATRMultiplier:  0.4,
	}

	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, cfg, gw)
	ts := warmup(s)
	s.Update(98, ts)

	pos := s.ExecuteEntry(context.Background(), s.CheckEntry(98), ts)
	require.NotNil(t, pos)
	require.Nil(t, pos.TrailingStop)

	// Profit 1.5 >= activation 1.0: stop arms at 99.5 - 0.8.
	ts = ts.Add(2 * time.Second)
	s.Update(99.5, ts)
	require.Empty(t, s.CheckExits(99.5))
	changed := s.UpdateTrailingStops(99.5)
	require.Len(t, changed, 1)
	require.NotNil(t, pos.TrailingStop)
	assert.InDelta(t, 98.7, *pos.TrailingStop, 1e-9)

	// Stop ratchets with the new high.
	ts = ts.Add(2 * time.Second)
	s.Update(100.5, ts)
	require.Empty(t, s.CheckExits(100.5))
	s.UpdateTrailingStops(100.5)
	assert.InDelta(t, 99.7, *pos.TrailingStop, 1e-9)

	// Pullback through the stop exits with TRAILING_STOP.
	ts = ts.Add(2 * time.Second)
	s.Update(99.6, ts)
	exits := s.CheckExits(99.6)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ExitTrailingStop, exits[0].Reason)

	trade := s.ExecuteExit(context.Background(), exits[0].Position, 99.6, exits[0].Reason, ts)
	require.NotNil(t, trade)
	assert.Equal(t, models.ExitTrailingStop, trade.ExitReason)
}

func TestTrailingDisabledNeverArms(t *testing.T) {
	gw := &exchange.MockGateway{LastPrice: 98}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	pos := s.ExecuteEntry(context.Background(), s.CheckEntry(98), ts)
	require.NotNil(t, pos)

	s.Update(99.9, ts.Add(2*time.Second))
	assert.Nil(t, s.UpdateTrailingStops(99.9))
	assert.Nil(t, pos.TrailingStop)
}

func TestBudgetCapSuppressesSignal(t *testing.T) {
	s := newTestStrategy(t, scenarioConfig(), &exchange.MockGateway{})
	ts := warmup(s)

	// Push used budget past the 50% cap before the dip arrives.
	s.Budget().Reserve(600)

	s.Update(98, ts)
	assert.Nil(t, s.CheckEntry(98))
}

func TestQuantityIsRoundedToLotFilter(t *testing.T) {
	filter := exchange.LotSizeFilter{MinQty: 0.1, MaxQty: 100, StepSize: 0.1}
	gw := &exchange.MockGateway{LastPrice: 98, Filter: &filter}
	s := newTestStrategy(t, scenarioConfig(), gw)
	ts := warmup(s)
	s.Update(98, ts)

	sig := s.CheckEntry(98)
	require.NotNil(t, sig)
	// 10.2040816... snapped to the 0.1 grid.
	assert.InDelta(t, 10.2, sig.Quantity, 1e-9)
}
