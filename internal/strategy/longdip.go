// Package strategy implements the LongDipATR decision layer: buy ATR-sized
// dips from the recent high, exit on target, stop loss or trailing stop.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eddiefleurent/atr_dipbot/internal/budget"
	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/exchange"
	"github.com/eddiefleurent/atr_dipbot/internal/market"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
	"github.com/eddiefleurent/atr_dipbot/internal/position"
)

// ExitCandidate pairs an open position with the reason it should close.
type ExitCandidate struct {
	Position *models.Position
	Reason   models.ExitReason
}

// LongDipATR owns the market model, sizing and open positions for one bot.
// All methods are invoked from the single worker loop; the strategy is not
// safe for concurrent use.
type LongDipATR struct {
	cfg     *config.BotConfig
	gateway exchange.Gateway
	logger  zerolog.Logger

	candles   *market.CandleManager
	atr       *market.ATRCalculator
	budget    *budget.Manager
	positions *position.Manager

	lotFilter  exchange.LotSizeFilter
	recentHigh *float64
}

// NewLongDipATR builds the strategy and caches the symbol's lot-size filter
// from the gateway.
func NewLongDipATR(ctx context.Context, cfg *config.BotConfig, gateway exchange.Gateway, positions *position.Manager, logger zerolog.Logger) (*LongDipATR, error) {
	filter, err := gateway.GetLotSizeFilter(ctx, cfg.Trading.Symbol)
	if err != nil {
		logger.Warn().Err(err).Str("symbol", cfg.Trading.Symbol).
			Msg("lot size filter unavailable, using defaults")
		filter = exchange.DefaultLotSizeFilter()
	}

	return &LongDipATR{
		cfg:       cfg,
		gateway:   gateway,
		logger:    logger,
		candles:   market.NewCandleManager(cfg.Timeframe.CandleSize),
		atr:       market.NewATRCalculator(cfg.ATR.Period, cfg.ATR.EntryMultiplier),
		budget:    budget.NewManager(cfg.Budget, cfg.Trading.Leverage),
		positions: positions,
		lotFilter: filter,
	}, nil
}

// Budget exposes the budget manager for adoption and status reporting.
func (s *LongDipATR) Budget() *budget.Manager { return s.budget }

// Positions exposes the position manager for adoption and status reporting.
func (s *LongDipATR) Positions() *position.Manager { return s.positions }

// RecentHigh returns the tracked high watermark, or 0 before the first tick.
func (s *LongDipATR) RecentHigh() float64 {
	if s.recentHigh == nil {
		return 0
	}
	return *s.recentHigh
}

// Update folds one tick into the candle model, refreshes ATR when a candle
// finalizes and advances the recent-high watermark.
func (s *LongDipATR) Update(price float64, now time.Time) {
	before := s.candles.CompletedCount()
	s.candles.Update(price, now)
	if s.candles.CompletedCount() != before {
		window := s.candles.GetCompleted(s.cfg.ATR.Period + 1)
		s.atr.Update(window, price)
	}

	if s.recentHigh == nil || price > *s.recentHigh {
		p := price
		s.recentHigh = &p
	}
}

// CheckEntry evaluates the dip rule at price and returns a sized entry
// signal, or nil when no entry should be taken.
func (s *LongDipATR) CheckEntry(price float64) *models.Signal {
	if !s.atr.IsReady() || s.recentHigh == nil {
		return nil
	}

	atr, _ := s.atr.ATR()
	adjMult := s.atr.AdjustMultiplier(s.cfg.ATR.EntryMultiplier)
	trigger := atr * adjMult

	drop := *s.recentHigh - price
	if drop < trigger {
		return nil
	}

	atrDropSize := drop / atr
	atrPct, _ := s.atr.ATRPct()
	qty, alloc := s.budget.Allocate(price, atrDropSize, atrPct)
	rounded := exchange.RoundQuantity(qty, s.lotFilter)

	// Affordability is checked against the pre-rounding cost; rounding to
	// the lot grid can nudge the real cost slightly past it.
	if ok, reason := s.budget.CanOpen(alloc.ActualCost); !ok {
		s.logger.Info().
			Float64("price", price).
			Float64("atr_drop_size", atrDropSize).
			Str("reason", reason).
			Msg("entry signal suppressed")
		return nil
	}

	s.logger.Info().
		Float64("price", price).
		Float64("recent_high", *s.recentHigh).
		Float64("drop", drop).
		Float64("trigger", trigger).
		Float64("quantity", rounded).
		Float64("budget_pct", alloc.AdjustedPercentage).
		Msg("entry signal")

	return &models.Signal{
		Side:        models.SideLong,
		Price:       price,
		Quantity:    rounded,
		Target:      price + atr*s.cfg.ATR.TargetMultiplier,
		StopLoss:    price - atr*s.cfg.ATR.StopLossMultiplier,
		ATR:         atr,
		ATRDropSize: atrDropSize,
	}
}

// ExecuteEntry submits the entry order and on success registers the position,
// reserves budget and resets the recent high to the fill price. A rejected
// order leaves all state untouched and returns nil.
func (s *LongDipATR) ExecuteEntry(ctx context.Context, sig *models.Signal, now time.Time) *models.Position {
	order, err := s.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:    s.cfg.Trading.Symbol,
		Side:      models.SideBuy,
		Quantity:  sig.Quantity,
		Type:      "MARKET",
		TradeSide: exchange.TradeSideOpen,
	})
	if err != nil || order == nil {
		s.logger.Warn().Err(err).Float64("quantity", sig.Quantity).Msg("entry order rejected")
		return nil
	}

	// Fill price is taken as the signal price; no slippage model.
	fillPrice := sig.Price
	entryFee := sig.Quantity * fillPrice * s.cfg.Fees.Taker

	pos := s.positions.Add(position.AddParams{
		Symbol:      s.cfg.Trading.Symbol,
		Side:        models.SideLong,
		EntryPrice:  fillPrice,
		Quantity:    sig.Quantity,
		TargetPrice: sig.Target,
		StopLoss:    sig.StopLoss,
		ATRAtEntry:  sig.ATR,
		EntryFee:    entryFee,
	}, now)

	cost := sig.Quantity * fillPrice / float64(s.cfg.Trading.Leverage)
	s.budget.Reserve(cost)

	s.recentHigh = &fillPrice

	s.logger.Info().
		Float64("entry_price", fillPrice).
		Float64("quantity", sig.Quantity).
		Float64("target", sig.Target).
		Float64("stop_loss", sig.StopLoss).
		Float64("reserved", cost).
		Msg("position opened")

	return pos
}

// CheckExits returns the open positions that should close at price, with the
// first matching reason in the order target, stop loss, trailing stop.
func (s *LongDipATR) CheckExits(price float64) []ExitCandidate {
	var exits []ExitCandidate
	for _, pos := range s.positions.OpenPositions() {
		switch {
		case price >= pos.TargetPrice:
			exits = append(exits, ExitCandidate{pos, models.ExitTarget})
		case price <= pos.StopLoss:
			exits = append(exits, ExitCandidate{pos, models.ExitStopLoss})
		case s.cfg.Exit.TrailingStop.Enabled && pos.TrailingStop != nil && price <= *pos.TrailingStop:
			exits = append(exits, ExitCandidate{pos, models.ExitTrailingStop})
		}
	}
	return exits
}

// ExecuteExit submits the closing order and on success realizes the trade and
// releases the position's budget. A rejected order leaves the position open
// and the budget reserved, and returns nil.
func (s *LongDipATR) ExecuteExit(ctx context.Context, pos *models.Position, price float64, reason models.ExitReason, now time.Time) *models.Trade {
	order, err := s.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       models.SideSell,
		Quantity:   pos.Quantity,
		Type:       "MARKET",
		TradeSide:  exchange.TradeSideClose,
		ReduceOnly: true,
	})
	if err != nil || order == nil {
		s.logger.Warn().Err(err).
			Str("position_id", pos.ID).
			Str("reason", string(reason)).
			Msg("exit order rejected, position stays open")
		return nil
	}

	trade := s.positions.Close(pos, price, reason, now)
	s.budget.Release(pos.Quantity * pos.EntryPrice / float64(s.cfg.Trading.Leverage))

	s.logger.Info().
		Str("position_id", pos.ID).
		Str("reason", string(reason)).
		Float64("exit_price", price).
		Float64("net_pnl", trade.NetPnL).
		Msg("position closed")

	return trade
}

// UpdateTrailingStops ratchets trailing stops on all open positions and
// returns the positions whose stop moved, so the caller can persist them.
// No-op unless trailing is enabled and ATR is defined.
func (s *LongDipATR) UpdateTrailingStops(price float64) []*models.Position {
	if !s.cfg.Exit.TrailingStop.Enabled {
		return nil
	}
	atr, ok := s.atr.ATR()
	if !ok {
		return nil
	}
	var changed []*models.Position
	for _, pos := range s.positions.OpenPositions() {
		before := pos.TrailingStop
		s.positions.UpdateTrailingStop(pos, price, atr,
			s.cfg.Exit.TrailingStop.ActivationATRMultiplier,
			s.cfg.Exit.TrailingStop.TrailDistATRMultiplier)
		if pos.TrailingStop != nil && (before == nil || *pos.TrailingStop != *before) {
			changed = append(changed, pos)
			s.logger.Debug().
				Str("position_id", pos.ID).
				Float64("trailing_stop", *pos.TrailingStop).
				Msg("trailing stop ratcheted")
		}
	}
	return changed
}

// StatusLine renders a one-line summary for the periodic status log.
func (s *LongDipATR) StatusLine(price float64) string {
	atrStr := "n/a"
	if atr, ok := s.atr.ATR(); ok {
		atrStr = fmt.Sprintf("%.4f", atr)
	}
	return fmt.Sprintf("price=%.4f atr=%s candles=%d open=%d budget=%.2f/%.2f",
		price, atrStr, s.candles.CompletedCount(), s.positions.OpenCount(),
		s.budget.Used(), s.budget.Total())
}
