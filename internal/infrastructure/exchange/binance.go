// Package exchange implements the venue API against Binance USDT-M futures.
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
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

const (
	BinanceBaseURL = "https://fapi.binance.com"
	BinanceWSURL   = "wss://fstream.binance.com/ws"

	quoteAsset = "USDT"
)

// BinanceAdapter is the REST client behind domain.Exchange. All signed
// endpoints carry the query-string HMAC signature and the API key header;
// numeric fields arrive as JSON strings and are parsed with strconv.
type BinanceAdapter struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int
	client     *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	instruments map[string]*domain.Instrument
}

func NewBinanceAdapter(apiKey, apiSecret, baseURL string, timeout time.Duration, logger *zap.Logger) *BinanceAdapter {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceAdapter{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		recvWindow:  5000,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		instruments: make(map[string]*domain.Instrument),
	}
}

// --- request plumbing ---

func (b *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BinanceAdapter) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(b.recvWindow))
	query := params.Encode()
	query += "&signature=" + b.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req)
}

func (b *BinanceAdapter) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := b.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *BinanceAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		return nil, &domain.VenueError{HTTPStatus: resp.StatusCode, Code: apiErr.Code, Msg: apiErr.Msg}
	}
	return body, nil
}

// --- account ---

func (b *BinanceAdapter) GetBalance(ctx context.Context) (*domain.AccountBalance, error) {
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}

	for _, row := range rows {
		if row.Asset != quoteAsset {
			continue
		}
		total, _ := strconv.ParseFloat(row.Balance, 64)
		available, _ := strconv.ParseFloat(row.AvailableBalance, 64)
		return &domain.AccountBalance{Asset: quoteAsset, Total: total, Available: available}, nil
	}
	return nil, domain.ErrBalanceUnavailable
}

func (b *BinanceAdapter) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := b.publicRequest(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, err
	}

	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("failed to decode mark price response: %w", err)
	}
	price, err := strconv.ParseFloat(result.MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

func (b *BinanceAdapter) GetPosition(ctx context.Context, symbol string) (*domain.VenuePosition, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		UnRealizedProfit string `json:"unRealizedProfit"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode position response: %w", err)
	}
	if len(rows) == 0 {
		return &domain.VenuePosition{Symbol: symbol}, nil
	}

	raw := rows[0]
	qty, _ := strconv.ParseFloat(raw.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(raw.EntryPrice, 64)
	mark, _ := strconv.ParseFloat(raw.MarkPrice, 64)
	liq, _ := strconv.ParseFloat(raw.LiquidationPrice, 64)
	lev, _ := strconv.Atoi(raw.Leverage)
	pnl, _ := strconv.ParseFloat(raw.UnRealizedProfit, 64)

	return &domain.VenuePosition{
		Symbol:           raw.Symbol,
		Quantity:         qty,
		EntryPrice:       entry,
		MarkPrice:        mark,
		LiquidationPrice: liq,
		Leverage:         lev,
		UnrealizedPnL:    pnl,
	}, nil
}

// --- instruments ---

func (b *BinanceAdapter) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	b.mu.Lock()
	inst, ok := b.instruments[symbol]
	b.mu.Unlock()
	if ok {
		return inst, nil
	}

	if err := b.loadInstruments(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok = b.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s not listed", symbol)
	}
	return inst, nil
}

func (b *BinanceAdapter) loadInstruments(ctx context.Context) error {
	body, err := b.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}

	var result struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				TickSize   string `json:"tickSize"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode exchange info: %w", err)
	}

	instruments := make(map[string]*domain.Instrument, len(result.Symbols))
	for _, sym := range result.Symbols {
		inst := &domain.Instrument{Symbol: sym.Symbol, Status: sym.Status}
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				inst.LotStep, _ = strconv.ParseFloat(f.StepSize, 64)
				inst.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "PRICE_FILTER":
				inst.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "MIN_NOTIONAL":
				inst.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
			}
		}
		instruments[sym.Symbol] = inst
	}

	b.mu.Lock()
	b.instruments = instruments
	b.mu.Unlock()
	b.logger.Info("Instrument filters loaded", zap.Int("symbols", len(instruments)))
	return nil
}

// --- account settings ---

func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func (b *BinanceAdapter) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	_, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	return err
}

// --- orders ---

func (b *BinanceAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientOrderID string, reduceOnly bool) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("newOrderRespType", "RESULT")
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

func (b *BinanceAdapter) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, stopPrice float64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "STOP_MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("stopPrice", formatQty(stopPrice))
	params.Set("reduceOnly", "true")
	params.Set("workingType", "MARK_PRICE")

	body, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

func (b *BinanceAdapter) GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

func (b *BinanceAdapter) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

func (b *BinanceAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

func parseOrder(body []byte) (*domain.Order, error) {
	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		Status        string `json:"status"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
		StopPrice     string `json:"stopPrice"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	origQty, _ := strconv.ParseFloat(raw.OrigQty, 64)
	executedQty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	stopPrice, _ := strconv.ParseFloat(raw.StopPrice, 64)

	order := &domain.Order{
		OrderID:       raw.OrderID,
		ClientOrderID: raw.ClientOrderID,
		Symbol:        raw.Symbol,
		Side:          domain.OrderSide(raw.Side),
		Type:          raw.Type,
		Status:        domain.OrderStatus(raw.Status),
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		AvgPrice:      avgPrice,
		StopPrice:     stopPrice,
	}
	if raw.UpdateTime > 0 {
		order.Time = time.UnixMilli(raw.UpdateTime)
	}
	return order, nil
}

// formatQty renders quantities without exponent notation or trailing zeros;
// the venue rejects both.
func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
