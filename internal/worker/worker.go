// Package worker runs the per-bot control loop: load config and credentials,
// drive the strategy off the live ticker and keep the stored bot document in
// sync with reality.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/exchange"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
	"github.com/eddiefleurent/atr_dipbot/internal/notify"
	"github.com/eddiefleurent/atr_dipbot/internal/position"
	"github.com/eddiefleurent/atr_dipbot/internal/storage"
	"github.com/eddiefleurent/atr_dipbot/internal/strategy"
)

// Loop cadence constants.
const (
	heartbeatEvery    = 6  // iterations between heartbeats
	performanceEvery  = 60 // iterations between performance snapshots
	tickerRetrySleep  = 5 * time.Second
	iterationErrSleep = 10 * time.Second

	defaultConfigCheckInterval = 60 * time.Second
)

// GatewayFactory builds the venue gateway for a worker. Tests substitute a
// factory returning a mock.
type GatewayFactory func(exchangeName string, creds exchange.Credentials) (exchange.Gateway, error)

// Worker owns one bot's control loop from startup through shutdown.
type Worker struct {
	botID    string
	store    storage.Interface
	notifier notify.Notifier
	logger   zerolog.Logger

	// Injection points for tests; both have production defaults.
	GatewayFactory      GatewayFactory
	ConfigCheckInterval time.Duration
	NowFn               func() time.Time

	cfg      *config.BotConfig
	userID   string
	gateway  exchange.Gateway
	strategy *strategy.LongDipATR

	totalRealizedPnL float64
	stopRequested    atomic.Bool
	stopReason       string
}

// NewWorker creates a worker for botID. Run does the rest.
func NewWorker(botID string, store storage.Interface, notifier notify.Notifier, logger zerolog.Logger) *Worker {
	return &Worker{
		botID:    botID,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("bot_id", botID).Logger(),
		GatewayFactory: func(name string, creds exchange.Credentials) (exchange.Gateway, error) {
			gw, err := exchange.New(name, creds)
			if err != nil {
				return nil, err
			}
			return exchange.NewCircuitBreakerGateway(gw, logger), nil
		},
		ConfigCheckInterval: defaultConfigCheckInterval,
		NowFn:               time.Now,
	}
}

// Stop requests a cooperative shutdown; the loop observes it at the next
// iteration boundary. In-flight I/O completes normally.
func (w *Worker) Stop(reason string) {
	if w.stopRequested.CompareAndSwap(false, true) {
		w.stopReason = reason
	}
}

// Run executes the full worker lifecycle. It returns an error only when
// startup fails; loop-time problems are absorbed by the loop itself.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.startup(ctx); err != nil {
		w.logger.Error().Err(err).Msg("startup failed")
		if serr := w.store.ForceStatus(w.botID, models.StatusError, err.Error()); serr != nil {
			w.logger.Error().Err(serr).Msg("failed to persist ERROR status")
		}
		w.notifier.Emit(ctx, notify.EventBotError, map[string]interface{}{
			"bot_id": w.botID,
			"error":  err.Error(),
		})
		return err
	}

	w.loop(ctx)
	w.shutdown()
	return nil
}

// startup performs the five-step boot sequence. Any failure is fatal.
func (w *Worker) startup(ctx context.Context) error {
	doc, err := w.store.GetBot(w.botID)
	if err != nil {
		return fmt.Errorf("loading bot document: %w", err)
	}
	cfg, err := config.ParseJSON(doc.Config, w.botID)
	if err != nil {
		return err
	}
	w.cfg = cfg
	w.userID = doc.UserID

	conn, err := w.store.GetExchangeConnection(w.userID, cfg.Exchange)
	if err != nil {
		return fmt.Errorf("loading exchange credentials: %w", err)
	}

	gw, err := w.GatewayFactory(cfg.Exchange, exchange.Credentials{
		APIKey:    conn.APIKey,
		APISecret: conn.APISecret,
	})
	if err != nil {
		return err
	}
	w.gateway = gw

	price, err := gw.GetTicker(ctx, cfg.Trading.Symbol)
	if err != nil {
		return fmt.Errorf("validating ticker for %s: %w", cfg.Trading.Symbol, err)
	}
	w.logger.Info().Float64("price", price).Str("symbol", cfg.Trading.Symbol).Msg("ticker validated")

	positions := position.NewManager(w.botID, w.userID, cfg.Fees.Taker)
	strat, err := strategy.NewLongDipATR(ctx, cfg, gw, positions, w.logger)
	if err != nil {
		return fmt.Errorf("building strategy: %w", err)
	}
	w.strategy = strat

	reconciler := NewReconciler(w.store, gw, w.logger)
	if err := reconciler.Adopt(ctx, w.botID, cfg, strat); err != nil {
		return fmt.Errorf("adopting open positions: %w", err)
	}

	if err := models.CheckTransition(doc.Status, models.StatusRunning); err != nil {
		return err
	}
	if err := w.store.UpdateStatus(w.botID, models.StatusRunning, ""); err != nil {
		return fmt.Errorf("persisting RUNNING status: %w", err)
	}
	w.notifier.Emit(ctx, notify.EventBotStarted, map[string]interface{}{
		"bot_id":   w.botID,
		"symbol":   cfg.Trading.Symbol,
		"exchange": cfg.Exchange,
	})
	w.logger.Info().Msg("bot started")
	return nil
}

// loop drives iterations until the context is canceled or a stop is
// requested. The iteration body never terminates the loop: panics are logged
// and absorbed.
func (w *Worker) loop(ctx context.Context) {
	lastConfigCheck := w.NowFn()
	for i := 1; ; i++ {
		if ctx.Err() != nil {
			if w.stopReason == "" {
				w.stopReason = "signal"
			}
			return
		}
		if w.stopRequested.Load() {
			return
		}

		w.safeIteration(ctx, i)

		if w.NowFn().Sub(lastConfigCheck) >= w.ConfigCheckInterval {
			lastConfigCheck = w.NowFn()
			w.checkRemoteStatus()
		}

		if !w.sleep(ctx, w.cfg.Timeframe.UpdateEvery()) {
			if w.stopReason == "" {
				w.stopReason = "signal"
			}
			return
		}
	}
}

// safeIteration runs one iteration with panic recovery: an unexpected failure
// is logged and notified, then the loop continues after a cool-down.
func (w *Worker) safeIteration(ctx context.Context, i int) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Int("iteration", i).
				Msg("iteration failed")
			w.notifier.Emit(ctx, notify.EventBotError, map[string]interface{}{
				"bot_id": w.botID,
				"error":  fmt.Sprint(r),
			})
			w.sleep(ctx, iterationErrSleep)
		}
	}()
	w.iteration(ctx, i)
}

func (w *Worker) iteration(ctx context.Context, i int) {
	price, err := w.gateway.GetTicker(ctx, w.cfg.Trading.Symbol)
	if err != nil {
		w.logger.Warn().Err(err).Msg("ticker unavailable, retrying next tick")
		w.sleep(ctx, tickerRetrySleep)
		return
	}

	now := w.NowFn()
	w.strategy.Update(price, now)

	if sig := w.strategy.CheckEntry(price); sig != nil {
		if pos := w.strategy.ExecuteEntry(ctx, sig, now); pos != nil {
			if _, err := w.store.SavePosition(pos); err != nil {
				w.logger.Error().Err(err).Msg("failed to persist opened position")
			}
			w.notifier.Emit(ctx, notify.EventPositionOpened, map[string]interface{}{
				"bot_id":      w.botID,
				"position_id": pos.ID,
				"symbol":      pos.Symbol,
				"entry_price": pos.EntryPrice,
				"quantity":    pos.Quantity,
			})
		}
	}

	for _, exit := range w.strategy.CheckExits(price) {
		trade := w.strategy.ExecuteExit(ctx, exit.Position, price, exit.Reason, now)
		if trade == nil {
			continue
		}
		if err := w.store.ClosePosition(exit.Position.ID, price, exit.Reason); err != nil {
			w.logger.Error().Err(err).Str("position_id", exit.Position.ID).Msg("failed to persist position close")
		}
		if _, err := w.store.SaveTrade(trade); err != nil {
			w.logger.Error().Err(err).Msg("failed to persist trade")
		}
		w.totalRealizedPnL += trade.NetPnL
		w.notifier.Emit(ctx, notify.EventPositionClosed, map[string]interface{}{
			"bot_id":      w.botID,
			"position_id": trade.PositionID,
			"exit_reason": string(trade.ExitReason),
			"exit_price":  trade.ExitPrice,
			"net_pnl":     trade.NetPnL,
		})
	}

	for _, pos := range w.strategy.UpdateTrailingStops(price) {
		if err := w.store.UpdatePosition(pos.ID, storage.PositionPatch{TrailingStop: pos.TrailingStop}); err != nil {
			w.logger.Error().Err(err).Str("position_id", pos.ID).Msg("failed to persist trailing stop")
		}
	}

	if i%heartbeatEvery == 0 {
		if err := w.store.SendHeartbeat(w.botID); err != nil {
			w.logger.Warn().Err(err).Msg("heartbeat failed")
		}
	}
	if i%performanceEvery == 0 {
		w.reportPerformance(price)
		w.logger.Info().Str("status", w.strategy.StatusLine(price)).
			Float64("realized_pnl", w.totalRealizedPnL).
			Msg("status")
	}
}

// reportPerformance persists the periodic performance snapshot. Store errors
// are logged; the next snapshot reattempts.
func (w *Worker) reportPerformance(price float64) {
	perf := models.Performance{
		TotalRealizedPnL:   w.totalRealizedPnL,
		TotalUnrealizedPnL: w.strategy.Positions().UnrealizedPnL(price),
	}
	if stats, err := w.store.GetDailyStats(w.botID); err == nil {
		perf.TradesToday = stats.TradesCount
		perf.WinRate = stats.WinRate
	} else {
		w.logger.Warn().Err(err).Msg("daily stats unavailable")
	}
	if err := w.store.UpdatePerformance(w.botID, perf); err != nil {
		w.logger.Warn().Err(err).Msg("failed to persist performance")
	}
}

// checkRemoteStatus reloads the bot document and requests shutdown when an
// operator set the stored status to STOPPED.
func (w *Worker) checkRemoteStatus() {
	doc, err := w.store.GetBot(w.botID)
	if err != nil {
		w.logger.Warn().Err(err).Msg("config check failed")
		return
	}
	if doc.Status == models.StatusStopped {
		w.logger.Info().Msg("remote stop requested")
		w.Stop("remote stop")
	}
}

// shutdown persists the terminal status and final accounting. Open positions
// are left OPEN for the next process to adopt.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reason := w.stopReason
	if reason == "" {
		reason = "stopped"
	}

	if err := w.store.ForceStatus(w.botID, models.StatusStopped, ""); err != nil {
		w.logger.Error().Err(err).Msg("failed to persist STOPPED status")
	}
	w.notifier.Emit(ctx, notify.EventBotStopped, map[string]interface{}{
		"bot_id": w.botID,
		"reason": reason,
	})
	if err := w.store.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("store close failed")
	}
	w.logger.Info().
		Str("reason", reason).
		Float64("total_realized_pnl", w.totalRealizedPnL).
		Int("open_positions", w.strategy.Positions().OpenCount()).
		Msg("bot stopped")
}

// sleep waits for d or until the context is canceled; it returns false when
// canceled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
