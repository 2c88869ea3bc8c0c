// Package exchange provides venue gateways for market data and order
// execution. One implementation exists per supported venue; the strategy
// layer only sees the Gateway interface.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// Sentinel errors shared by all gateway implementations.
var (
	// ErrNoTicker signals a transient failure fetching the last price.
	ErrNoTicker = errors.New("exchange: no ticker")
	// ErrOrderRejected signals the venue refused or dropped an order.
	ErrOrderRejected = errors.New("exchange: order rejected")
	// ErrUnsupportedExchange signals an exchange name with no registered gateway.
	ErrUnsupportedExchange = errors.New("exchange: unsupported exchange")
)

// APIError represents a venue HTTP error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradeSide distinguishes opening from closing fills on derivatives venues.
type TradeSide string

const (
	TradeSideOpen  TradeSide = "OPEN"
	TradeSideClose TradeSide = "CLOSE"
)

// OrderRequest describes one order submission.
type OrderRequest struct {
	Symbol     string
	Side       models.Side // BUY or SELL
	Quantity   float64
	Type       string // only "MARKET" is used
	TradeSide  TradeSide
	ReduceOnly bool
}

// Order is the venue's acknowledgment of a submission.
type Order struct {
	OrderID  string
	Symbol   string
	Side     models.Side
	Quantity float64
	Price    float64
	Status   string
}

// ExternalPosition is a position as the venue reports it, used only for
// reconciliation against local state.
type ExternalPosition struct {
	Symbol        string
	Side          models.Side
	Quantity      float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// LotSizeFilter bounds and quantizes order quantities for a symbol.
type LotSizeFilter struct {
	MinQty   float64
	MaxQty   float64
	StepSize float64
}

// DefaultLotSizeFilter is used when the venue response omits the filter.
func DefaultLotSizeFilter() LotSizeFilter {
	return LotSizeFilter{MinQty: 0.0001, MaxQty: 1000.0, StepSize: 0.0001}
}

// Gateway is the venue capability consumed by the strategy and worker.
//
// GetTicker and PlaceOrder report transient venue failures as errors; callers
// recover locally rather than treating them as fatal.
type Gateway interface {
	Name() string
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOpenPositions(ctx context.Context, symbol string) ([]ExternalPosition, error)
	GetLotSizeFilter(ctx context.Context, symbol string) (LotSizeFilter, error)
	GetAccountBalance(ctx context.Context) (float64, error)
}

// Credentials carries the per-user API keys for a venue. BaseURL overrides
// the production endpoint, for tests.
type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// New builds the gateway registered for the given exchange name.
func New(exchange string, creds Credentials) (Gateway, error) {
	factory, ok := registry[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExchange, exchange)
	}
	return factory(creds), nil
}

// registry maps the config-level exchange name to its gateway constructor.
var registry = map[string]func(Credentials) Gateway{
	"bitunix": func(c Credentials) Gateway { return NewBitunixGateway(c) },
	"bybit":   func(c Credentials) Gateway { return NewBybitGateway(c) },
}

// Supported reports whether an exchange name has a registered gateway.
func Supported(exchange string) bool {
	_, ok := registry[exchange]
	return ok
}

// RoundQuantity snaps qty to the filter's step grid, clamps it into
// [MinQty, MaxQty] and truncates float noise to the step's decimal precision.
func RoundQuantity(qty float64, f LotSizeFilter) float64 {
	step := decimal.NewFromFloat(f.StepSize)
	if step.Sign() <= 0 {
		return qty
	}

	d := decimal.NewFromFloat(qty)
	rounded := d.Div(step).Round(0).Mul(step)

	minQty := decimal.NewFromFloat(f.MinQty)
	maxQty := decimal.NewFromFloat(f.MaxQty)
	if rounded.LessThan(minQty) {
		rounded = minQty
	}
	if rounded.GreaterThan(maxQty) {
		rounded = maxQty
	}

	precision := -step.Exponent()
	if precision < 0 {
		precision = 0
	}
	return rounded.Round(precision).InexactFloat64()
}
