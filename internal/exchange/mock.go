package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// MockGateway is a scriptable Gateway for tests. Zero value behavior: ticker
// returns LastPrice, orders always fill, no external positions, default lot
// filter, zero balance. Override the Fn fields to inject failures.
type MockGateway struct {
	mu sync.Mutex

	LastPrice float64
	Filter    *LotSizeFilter
	Balance   float64
	Positions []ExternalPosition
	Candles   []models.Candle

	TickerFn     func(symbol string) (float64, error)
	PlaceOrderFn func(req OrderRequest) (*Order, error)

	TickerCalls     int
	PlaceOrderCalls int
	PlacedOrders    []OrderRequest
}

var _ Gateway = (*MockGateway)(nil)

// Name identifies the mock in logs.
func (m *MockGateway) Name() string { return "mock" }

// GetTicker returns the scripted price.
func (m *MockGateway) GetTicker(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TickerCalls++
	if m.TickerFn != nil {
		return m.TickerFn(symbol)
	}
	if m.LastPrice <= 0 {
		return 0, ErrNoTicker
	}
	return m.LastPrice, nil
}

// SetPrice updates the price returned by subsequent GetTicker calls.
func (m *MockGateway) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastPrice = price
}

// GetCandles returns the scripted candle history.
func (m *MockGateway) GetCandles(_ context.Context, _, _ string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && limit < len(m.Candles) {
		return append([]models.Candle(nil), m.Candles[len(m.Candles)-limit:]...), nil
	}
	return append([]models.Candle(nil), m.Candles...), nil
}

// PlaceOrder records the request and acknowledges the fill.
func (m *MockGateway) PlaceOrder(_ context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceOrderCalls++
	m.PlacedOrders = append(m.PlacedOrders, req)
	if m.PlaceOrderFn != nil {
		return m.PlaceOrderFn(req)
	}
	return &Order{
		OrderID:  fmt.Sprintf("mock-%d", m.PlaceOrderCalls),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    m.LastPrice,
		Status:   "FILLED",
	}, nil
}

// GetOpenPositions returns the scripted venue positions.
func (m *MockGateway) GetOpenPositions(_ context.Context, _ string) ([]ExternalPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExternalPosition(nil), m.Positions...), nil
}

// GetLotSizeFilter returns the scripted filter or the defaults.
func (m *MockGateway) GetLotSizeFilter(_ context.Context, _ string) (LotSizeFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Filter != nil {
		return *m.Filter, nil
	}
	return DefaultLotSizeFilter(), nil
}

// GetAccountBalance returns the scripted balance.
func (m *MockGateway) GetAccountBalance(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}
