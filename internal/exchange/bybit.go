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
	bybitBaseURL = "https://api.bybit.com"

	// One retry on transient GET failures before reporting the error up.
	bybitMaxAttempts = 2
)

// BybitGateway implements Gateway against the Bybit derivatives REST API.
// Private endpoints are signed with api_key/timestamp/sign query parameters.
type BybitGateway struct {
	client    *http.Client
	apiKey    string
	apiSecret string
	baseURL   string
	backoff   *backoff.Backoff
}

var _ Gateway = (*BybitGateway)(nil)

// NewBybitGateway creates a Bybit gateway with a 10 second request timeout.
func NewBybitGateway(creds Credentials) *BybitGateway {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = bybitBaseURL
	}
	return &BybitGateway{
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
func (g *BybitGateway) Name() string { return "bybit" }

// signParams appends api_key and timestamp, then signs the sorted query
// string and appends the sign parameter.
func (g *BybitGateway) signParams(params url.Values) url.Values {
	params.Set("api_key", g.apiKey)
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString("&")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(sb.String()))
	params.Set("sign", hex.EncodeToString(mac.Sum(nil)))
	return params
}

// bybitEnvelope is the common response wrapper: ret_code 0 means success.
type bybitEnvelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

func (g *BybitGateway) request(ctx context.Context, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	if signed {
		params = g.signParams(params)
	}

	u := g.baseURL + path
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

	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit %s: ret_code %d: %s", path, env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// getWithRetry performs a read-only request with one backoff retry. Order
// submissions never retry: a timeout after submission is ambiguous.
func (g *BybitGateway) getWithRetry(ctx context.Context, path string, params url.Values, signed bool) (json.RawMessage, error) {
	g.backoff.Reset()
	var lastErr error
	for attempt := 0; attempt < bybitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff.Duration()):
			}
		}
		result, err := g.request(ctx, http.MethodGet, path, params, signed)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetTicker returns the last traded price for symbol.
func (g *BybitGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {symbol}}
	result, err := g.getWithRetry(ctx, "/v2/public/tickers", params, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoTicker, err)
	}

	var tickers []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"last_price"`
	}
	if err := json.Unmarshal(result, &tickers); err != nil {
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
func (g *BybitGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {bybitInterval(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	result, err := g.getWithRetry(ctx, "/v2/public/kline/list", params, false)
	if err != nil {
		return nil, err
	}

	var klines []struct {
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		OpenTime int64  `json:"open_time"`
	}
	if err := json.Unmarshal(result, &klines); err != nil {
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
			Timestamp: time.Unix(k.OpenTime, 0).UTC(),
		})
	}
	return candles, nil
}

// bybitInterval maps timeframe labels to Bybit kline interval codes.
func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return "15"
	}
}

// PlaceOrder submits a market order. It is never retried.
func (g *BybitGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	side := "Buy"
	if req.Side == models.SideSell {
		side = "Sell"
	}
	params := url.Values{
		"symbol":        {req.Symbol},
		"side":          {side},
		"order_type":    {"Market"},
		"qty":           {strconv.FormatFloat(req.Quantity, 'f', -1, 64)},
		"time_in_force": {"ImmediateOrCancel"},
	}
	if req.ReduceOnly {
		params.Set("reduce_only", "true")
	}

	result, err := g.request(ctx, http.MethodPost, "/v2/private/order/create", params, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	var resp struct {
		OrderID     string `json:"order_id"`
		OrderStatus string `json:"order_status"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
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
		Status:   resp.OrderStatus,
	}, nil
}

// GetOpenPositions returns the venue's view of open positions for symbol.
func (g *BybitGateway) GetOpenPositions(ctx context.Context, symbol string) ([]ExternalPosition, error) {
	params := url.Values{"symbol": {symbol}}
	result, err := g.getWithRetry(ctx, "/v2/private/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Size          float64 `json:"size"`
		EntryPrice    string  `json:"entry_price"`
		UnrealisedPnL float64 `json:"unrealised_pnl"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]ExternalPosition, 0, len(raw))
	for _, p := range raw {
		if p.Size == 0 {
			continue
		}
		side := models.SideLong
		if strings.EqualFold(p.Side, "Sell") {
			side = models.SideShort
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		positions = append(positions, ExternalPosition{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      p.Size,
			EntryPrice:    entry,
			UnrealizedPnL: p.UnrealisedPnL,
		})
	}
	return positions, nil
}

// GetLotSizeFilter returns the symbol's quantity bounds and step, falling back
// to defaults when the venue omits them.
func (g *BybitGateway) GetLotSizeFilter(ctx context.Context, symbol string) (LotSizeFilter, error) {
	result, err := g.getWithRetry(ctx, "/v2/public/symbols", url.Values{}, false)
	if err != nil {
		return DefaultLotSizeFilter(), err
	}

	var symbols []struct {
		Name          string `json:"name"`
		LotSizeFilter struct {
			MinTradingQty float64 `json:"min_trading_qty"`
			MaxTradingQty float64 `json:"max_trading_qty"`
			QtyStep       float64 `json:"qty_step"`
		} `json:"lot_size_filter"`
	}
	if err := json.Unmarshal(result, &symbols); err != nil {
		return DefaultLotSizeFilter(), nil
	}

	filter := DefaultLotSizeFilter()
	for _, s := range symbols {
		if s.Name != symbol {
			continue
		}
		if s.LotSizeFilter.MinTradingQty > 0 {
			filter.MinQty = s.LotSizeFilter.MinTradingQty
		}
		if s.LotSizeFilter.MaxTradingQty > 0 {
			filter.MaxQty = s.LotSizeFilter.MaxTradingQty
		}
		if s.LotSizeFilter.QtyStep > 0 {
			filter.StepSize = s.LotSizeFilter.QtyStep
		}
		break
	}
	return filter, nil
}

// GetAccountBalance returns the available USDT wallet balance.
func (g *BybitGateway) GetAccountBalance(ctx context.Context) (float64, error) {
	params := url.Values{"coin": {"USDT"}}
	result, err := g.getWithRetry(ctx, "/v2/private/wallet/balance", params, true)
	if err != nil {
		return 0, err
	}

	var wallet map[string]struct {
		AvailableBalance float64 `json:"available_balance"`
	}
	if err := json.Unmarshal(result, &wallet); err != nil {
		return 0, fmt.Errorf("decode wallet: %w", err)
	}
	coin, ok := wallet["USDT"]
	if !ok {
		return 0, fmt.Errorf("wallet response missing USDT")
	}
	return coin.AvailableBalance, nil
}
