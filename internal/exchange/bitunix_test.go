package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

func newBitunixTestGateway(handler http.Handler) (*BitunixGateway, *httptest.Server) {
	srv := httptest.NewServer(handler)
	gw := NewBitunixGateway(Credentials{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
	return gw, srv
}

func TestBitunixGetTicker(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/futures/market/tickers", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"BTCUSDT","lastPrice":"50123.5"}]}`))
	}))
	defer srv.Close()

	price, err := gw.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50123.5, price)
}

func TestBitunixGetTickerFailuresAreTransient(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"venue error code", `{"code":10001,"msg":"system busy"}`, http.StatusOK},
		{"http error", `oops`, http.StatusBadGateway},
		{"symbol missing", `{"code":0,"data":[]}`, http.StatusOK},
		{"garbage price", `{"code":0,"data":[{"symbol":"BTCUSDT","lastPrice":"n/a"}]}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := gw.GetTicker(context.Background(), "BTCUSDT")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoTicker)
		})
	}
}

func TestBitunixGetTickerRetriesOnce(t *testing.T) {
	calls := 0
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"BTCUSDT","lastPrice":"100"}]}`))
	}))
	defer srv.Close()

	price, err := gw.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 2, calls)
}

func TestBitunixPlaceOrder(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/futures/trade/place_order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-SIGNATURE"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "OPEN", r.PostForm.Get("tradeSide"))
		_, _ = w.Write([]byte(`{"code":0,"data":{"orderId":"ord-1","status":"FILLED"}}`))
	}))
	defer srv.Close()

	order, err := gw.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		Quantity:  0.5,
		TradeSide: TradeSideOpen,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.OrderID)
	assert.Equal(t, 0.5, order.Quantity)
}

func TestBitunixPlaceOrderRejected(t *testing.T) {
	calls := 0
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"code":30005,"msg":"insufficient margin"}`))
	}))
	defer srv.Close()

	_, err := gw.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, 1, calls, "order submissions must never retry")
}

func TestBitunixGetLotSizeFilterDefaults(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Filter fields absent from the venue response.
		_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"BTCUSDT"}]}`))
	}))
	defer srv.Close()

	filter, err := gw.GetLotSizeFilter(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, DefaultLotSizeFilter(), filter)
}

func TestBitunixGetLotSizeFilterParses(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"BTCUSDT","minTradeVolume":"0.01","maxTradeVolume":"500","tradeVolumeStep":"0.01"}]}`))
	}))
	defer srv.Close()

	filter, err := gw.GetLotSizeFilter(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, LotSizeFilter{MinQty: 0.01, MaxQty: 500, StepSize: 0.01}, filter)
}

func TestBitunixGetCandles(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15m", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"code":0,"data":[
			{"open":"100","high":"101","low":"99","close":"100.5","time":1717243200000},
			{"open":"100.5","high":"102","low":"100","close":"101","time":1717244100000}
		]}`))
	}))
	defer srv.Close()

	candles, err := gw.GetCandles(context.Background(), "BTCUSDT", "15m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].High)
}

func TestBitunixGetOpenPositions(t *testing.T) {
	gw, srv := newBitunixTestGateway(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":[
			{"symbol":"BTCUSDT","side":"long","qty":"0.4","avgOpenPrice":"49000","unrealizedPNL":"120.5"},
			{"symbol":"BTCUSDT","side":"short","qty":"0","avgOpenPrice":"0","unrealizedPNL":"0"}
		]}`))
	}))
	defer srv.Close()

	positions, err := gw.GetOpenPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1, "zero-quantity rows are skipped")
	assert.Equal(t, models.Side("LONG"), positions[0].Side)
	assert.Equal(t, 0.4, positions[0].Quantity)
	assert.Equal(t, 120.5, positions[0].UnrealizedPnL)
}
