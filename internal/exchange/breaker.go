package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker functionality so
// a flapping venue stops receiving traffic for a cool-down window.
type CircuitBreakerGateway struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	gateway Gateway,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gateway) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerGateway wraps gateway with sensible default settings.
func NewCircuitBreakerGateway(gateway Gateway, logger zerolog.Logger) *CircuitBreakerGateway {
	return NewCircuitBreakerGatewayWithSettings(gateway, logger, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerGatewayWithSettings wraps gateway with custom settings.
func NewCircuitBreakerGatewayWithSettings(gateway Gateway, logger zerolog.Logger, settings CircuitBreakerSettings) *CircuitBreakerGateway {
	gbSettings := gobreaker.Settings{
		Name:        gateway.Name() + "-circuit-breaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &CircuitBreakerGateway{
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

var _ Gateway = (*CircuitBreakerGateway)(nil)

// Name returns the wrapped gateway's venue name.
func (c *CircuitBreakerGateway) Name() string {
	return c.gateway.Name()
}

// GetTicker wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (float64, error) {
		return g.GetTicker(ctx, symbol)
	})
}

// GetCandles wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]models.Candle, error) {
		return g.GetCandles(ctx, symbol, interval, limit)
	})
}

// PlaceOrder wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (*Order, error) {
		return g.PlaceOrder(ctx, req)
	})
}

// GetOpenPositions wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetOpenPositions(ctx context.Context, symbol string) ([]ExternalPosition, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]ExternalPosition, error) {
		return g.GetOpenPositions(ctx, symbol)
	})
}

// GetLotSizeFilter wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetLotSizeFilter(ctx context.Context, symbol string) (LotSizeFilter, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (LotSizeFilter, error) {
		return g.GetLotSizeFilter(ctx, symbol)
	})
}

// GetAccountBalance wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetAccountBalance(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (float64, error) {
		return g.GetAccountBalance(ctx)
	})
}
