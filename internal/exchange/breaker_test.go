package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	mock := &MockGateway{LastPrice: 100, Balance: 5000}
	cb := NewCircuitBreakerGateway(mock, zerolog.Nop())

	price, err := cb.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	balance, err := cb.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000.0, balance)

	filter, err := cb.GetLotSizeFilter(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, DefaultLotSizeFilter(), filter)
	assert.Equal(t, "mock", cb.Name())
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	mock := &MockGateway{
		TickerFn: func(string) (float64, error) { return 0, ErrNoTicker },
	}
	cb := NewCircuitBreakerGatewayWithSettings(mock, zerolog.Nop(), CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.GetTicker(ctx, "BTCUSDT")
		assert.ErrorIs(t, err, ErrNoTicker)
	}

	// Circuit is now open: calls fail fast without reaching the gateway.
	before := mock.TickerCalls
	_, err := cb.GetTicker(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, mock.TickerCalls)
}

func TestCircuitBreakerIgnoresSparseFailures(t *testing.T) {
	calls := 0
	mock := &MockGateway{
		TickerFn: func(string) (float64, error) {
			calls++
			if calls%5 == 0 {
				return 0, ErrNoTicker
			}
			return 100, nil
		},
	}
	cb := NewCircuitBreakerGateway(mock, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, _ = cb.GetTicker(ctx, "BTCUSDT")
	}
	// 20% failure rate stays under the 60% trip ratio.
	_, err := cb.GetTicker(ctx, "BTCUSDT")
	assert.NoError(t, err)
}
