package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

const (
	bitunixBaseURL = "https://fapi.bitunix.com"

	// One retry on transient GET failures before reporting the error up.
	bitunixMaxAttempts = 2
)

// BitunixGateway implements Gateway against the Bitunix futures REST API.
type BitunixGateway struct {
	client    *http.Client
	apiKey    string
	apiSecret string
	baseURL   string
	backoff   *backoff.Backoff
}

var _ Gateway = (*BitunixGateway)(nil)

// NewBitunixGateway creates a Bitunix gateway with a 10 second request timeout.
func NewBitunixGateway(creds Credentials) *BitunixGateway {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = bitunixBaseURL
	}
	return &BitunixGateway{
		client:    &http.Client{Timeout: 10 * time.Second},
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		backoff: &backoff.Backoff{
			Min:    250 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Name returns the venue name used in configs and logs.
func (g *BitunixGateway) Name() string { return "bitunix" }

// sign produces the request signature: HMAC-SHA256 over the sorted query
// string with the millisecond timestamp appended.
func (g *BitunixGateway) sign(params url.Values, timestamp string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params.Get(k))
		sb.WriteString("&")
	}
	sb.WriteString("timestamp=")
	sb.WriteString(timestamp)

	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// bitunixEnvelope is the common response wrapper: code 0 means success.
type bitunixEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (g *BitunixGateway) request(ctx context.Context, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	u := g.baseURL + path
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set("X-API-KEY", g.apiKey)
		req.Header.Set("X-TIMESTAMP", timestamp)
		req.Header.Set("X-SIGNATURE", g.sign(params, timestamp))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var env bitunixEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("bitunix %s: code %d: %s", path, env.Code, env.Msg)
	}
	return env.Data, nil
}

// getWithRetry performs a read-only request with one backoff retry. Order
// submissions never retry: a timeout after submission is ambiguous.
func (g *BitunixGateway) getWithRetry(ctx context.Context, path string, params url.Values, signed bool) (json.RawMessage, error) {
	g.backoff.Reset()
	var lastErr error
	for attempt := 0; attempt < bitunixMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff.Duration()):
			}
		}
		data, err := g.request(ctx, http.MethodGet, path, params, signed)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetTicker returns the last traded price for symbol.
func (g *BitunixGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbols": {symbol}}
	data, err := g.getWithRetry(ctx, "/api/v1/futures/market/tickers", params, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoTicker, err)
	}

	var tickers []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, fmt.Errorf("%w: decode tickers: %v", ErrNoTicker, err)
	}
	for _, t := range tickers {
		if t.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(t.LastPrice, 64)
		if err != nil || price <= 0 {
			return 0, fmt.Errorf("%w: bad price %q", ErrNoTicker, t.LastPrice)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: symbol %s not in response", ErrNoTicker, symbol)
}

// GetCandles returns up to limit recent candles for symbol at interval.
func (g *BitunixGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	data, err := g.getWithRetry(ctx, "/api/v1/futures/market/kline", params, false)
	if err != nil {
		return nil, err
	}

	var klines []struct {
		Open  string `json:"open"`
		High  string `json:"high"`
		Low   string `json:"low"`
		Close string `json:"close"`
		Time  int64  `json:"time"`
	}
	if err := json.Unmarshal(data, &klines); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		o, err1 := strconv.ParseFloat(k.Open, 64)
		h, err2 := strconv.ParseFloat(k.High, 64)
		l, err3 := strconv.ParseFloat(k.Low, 64)
		c, err4 := strconv.ParseFloat(k.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		candles = append(candles, models.Candle{
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Timestamp: time.UnixMilli(k.Time).UTC(),
		})
	}
	return candles, nil
}

// PlaceOrder submits a market order. It is never retried.
func (g *BitunixGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	orderType := req.Type
	if orderType == "" {
		orderType = "MARKET"
	}
	params := url.Values{
		"symbol":    {req.Symbol},
		"side":      {string(req.Side)},
		"orderType": {orderType},
		"qty":       {strconv.FormatFloat(req.Quantity, 'f', -1, 64)},
	}
	if req.TradeSide != "" {
		params.Set("tradeSide", string(req.TradeSide))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	data, err := g.request(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", params, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	var resp struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode order: %v", ErrOrderRejected, err)
	}
	if resp.OrderID == "" {
		return nil, ErrOrderRejected
	}

	return &Order{
		OrderID:  resp.OrderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Status:   resp.Status,
	}, nil
}

// GetOpenPositions returns the venue's view of open positions for symbol.
func (g *BitunixGateway) GetOpenPositions(ctx context.Context, symbol string) ([]ExternalPosition, error) {
	params := url.Values{"symbol": {symbol}}
	data, err := g.getWithRetry(ctx, "/api/v1/futures/position/get_pending_positions", params, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Qty           string `json:"qty"`
		AvgOpenPrice  string `json:"avgOpenPrice"`
		UnrealizedPnL string `json:"unrealizedPNL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]ExternalPosition, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgOpenPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealizedPnL, 64)
		positions = append(positions, ExternalPosition{
			Symbol:        p.Symbol,
			Side:          models.Side(strings.ToUpper(p.Side)),
			Quantity:      qty,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
		})
	}
	return positions, nil
}

// GetLotSizeFilter returns the symbol's quantity bounds and step, falling back
// to defaults when the venue omits them.
func (g *BitunixGateway) GetLotSizeFilter(ctx context.Context, symbol string) (LotSizeFilter, error) {
	params := url.Values{"symbols": {symbol}}
	data, err := g.getWithRetry(ctx, "/api/v1/futures/market/trading_pairs", params, false)
	if err != nil {
		return DefaultLotSizeFilter(), err
	}

	var pairs []struct {
		Symbol   string `json:"symbol"`
		MinQty   string `json:"minTradeVolume"`
		MaxQty   string `json:"maxTradeVolume"`
		StepSize string `json:"tradeVolumeStep"`
	}
	if err := json.Unmarshal(data, &pairs); err != nil {
		return DefaultLotSizeFilter(), nil
	}

	filter := DefaultLotSizeFilter()
	for _, p := range pairs {
		if p.Symbol != symbol {
			continue
		}
		if v, err := strconv.ParseFloat(p.MinQty, 64); err == nil && v > 0 {
			filter.MinQty = v
		}
		if v, err := strconv.ParseFloat(p.MaxQty, 64); err == nil && v > 0 {
			filter.MaxQty = v
		}
		if v, err := strconv.ParseFloat(p.StepSize, 64); err == nil && v > 0 {
			filter.StepSize = v
		}
		break
	}
	return filter, nil
}

// GetAccountBalance returns the available margin balance in USDT.
func (g *BitunixGateway) GetAccountBalance(ctx context.Context) (float64, error) {
	params := url.Values{"marginCoin": {"USDT"}}
	data, err := g.getWithRetry(ctx, "/api/v1/futures/account", params, true)
	if err != nil {
		return 0, err
	}

	var account struct {
		Available string `json:"available"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	balance, err := strconv.ParseFloat(account.Available, 64)
	if err != nil {
		return 0, fmt.Errorf("bad balance %q: %w", account.Available, err)
	}
	return balance, nil
}
