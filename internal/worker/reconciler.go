package worker

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/exchange"
	"github.com/eddiefleurent/atr_dipbot/internal/storage"
	"github.com/eddiefleurent/atr_dipbot/internal/strategy"
)

const (
	positionsFetchTimeout = 8 * time.Second

	// quantityEpsilon absorbs float noise when comparing local and venue
	// position sizes.
	quantityEpsilon = 1e-6
)

// Reconciler restores a restarted worker's in-memory state from the store and
// cross-checks it against the venue. Mismatches are logged, never auto-fixed:
// an operator decides what a phantom or orphan position means.
type Reconciler struct {
	store   storage.Interface
	gateway exchange.Gateway
	logger  zerolog.Logger
}

// NewReconciler creates a reconciler over the given store and gateway.
func NewReconciler(store storage.Interface, gateway exchange.Gateway, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, gateway: gateway, logger: logger}
}

// Adopt loads the bot's OPEN positions from the store into the strategy,
// re-reserving their budget, then compares the adopted set with the venue's
// view and logs any discrepancy.
func (r *Reconciler) Adopt(ctx context.Context, botID string, cfg *config.BotConfig, strat *strategy.LongDipATR) error {
	stored, err := r.store.GetOpenPositions(botID)
	if err != nil {
		return err
	}

	for _, pos := range stored {
		strat.Positions().Adopt(pos)
		strat.Budget().Reserve(pos.Quantity * pos.EntryPrice / float64(cfg.Trading.Leverage))
		r.logger.Info().
			Str("position_id", pos.ID).
			Float64("entry_price", pos.EntryPrice).
			Float64("quantity", pos.Quantity).
			Msg("adopted open position")
	}
	if len(stored) == 0 {
		return nil
	}

	r.crossCheck(ctx, cfg.Trading.Symbol, strat)
	return nil
}

// crossCheck compares local open quantity with the venue's. A venue fetch
// failure only skips the check; adoption has already happened.
func (r *Reconciler) crossCheck(ctx context.Context, symbol string, strat *strategy.LongDipATR) {
	fetchCtx, cancel := context.WithTimeout(ctx, positionsFetchTimeout)
	defer cancel()

	venuePositions, err := r.gateway.GetOpenPositions(fetchCtx, symbol)
	if err != nil {
		r.logger.Warn().Err(err).Msg("venue positions unavailable, skipping reconciliation check")
		return
	}

	var localQty, venueQty float64
	for _, pos := range strat.Positions().OpenPositions() {
		localQty += pos.Quantity
	}
	for _, pos := range venuePositions {
		if pos.Symbol == symbol && pos.Side.IsLong() {
			venueQty += pos.Quantity
		}
	}

	if math.Abs(localQty-venueQty) > quantityEpsilon {
		r.logger.Warn().
			Float64("local_qty", localQty).
			Float64("venue_qty", venueQty).
			Str("symbol", symbol).
			Msg("position mismatch between store and venue")
	} else {
		r.logger.Info().
			Float64("quantity", localQty).
			Int("positions", strat.Positions().OpenCount()).
			Msg("positions reconciled with venue")
	}
}
