package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// BybitAdapter implements domain.Exchange against the Bybit V5 API: REST for
// candles, prices and orders, websocket for streamed ticks.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	mu        sync.Mutex
	wsConn    *websocket.Conn
	callbacks []func(symbol string, price float64)
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == "GET" {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	path := "/v5/market/tickers?category=linear&symbol=" + symbol
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}

	if len(result.Result.List) == 0 {
		return 0, fmt.Errorf("symbol %s not found", symbol)
	}

	return strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
}

func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error: %d", result.RetCode)
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}

		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Bybit returns newest first; indicators need oldest first
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// MarketBuy spends quoteAmount at market. Bybit linear orders are sized in
// base units, so the amount is converted at the last price.
func (b *BybitAdapter) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) error {
	return b.placeOrder(ctx, symbol, "Buy", quoteAmount)
}

func (b *BybitAdapter) MarketSell(ctx context.Context, symbol string, quoteAmount float64) error {
	return b.placeOrder(ctx, symbol, "Sell", quoteAmount)
}

func (b *BybitAdapter) placeOrder(ctx context.Context, symbol, side string, quoteAmount float64) error {
	price, err := b.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("price for order sizing: %w", err)
	}
	qty := quoteAmount / price

	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "GTC",
	}

	resp, err := b.sendRequest(ctx, "POST", "/v5/order/create", payload)
	if err != nil {
		return err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	json.Unmarshal(resp, &result)
	if result.RetCode != 0 {
		return fmt.Errorf("bybit order error: %s", result.RetMsg)
	}

	b.logger.Info("order placed",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("quote", quoteAmount),
		zap.Float64("qty", qty))
	return nil
}

// --- WebSocket ---

func (b *BybitAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Subscribe dials the stream on first use and subscribes the symbols to the
// top-of-book topic.
func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return err
		}
		b.wsConn = c
		go b.readLoop(c)
	}
	return b.subscribeLocked(symbols)
}

func (b *BybitAdapter) subscribeLocked(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "orderbook.1." + s
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Error("ws read", zap.Error(err))
			return
		}

		var event map[string]interface{}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Warn("ws unmarshal", zap.Error(err))
			continue
		}

		topic, ok := event["topic"].(string)
		if !ok || !strings.HasPrefix(topic, "orderbook.1.") {
			continue
		}
		data, ok := event["data"].(map[string]interface{})
		if !ok {
			continue
		}

		symbol := strings.TrimPrefix(topic, "orderbook.1.")
		ask, okA := topOfBook(data, "a")
		bid, okB := topOfBook(data, "b")
		if !okA || !okB {
			continue
		}
		price := (ask + bid) / 2

		b.mu.Lock()
		callbacks := make([]func(string, float64), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(symbol, price)
		}
	}
}

func topOfBook(data map[string]interface{}, side string) (float64, bool) {
	list, ok := data[side].([]interface{})
	if !ok || len(list) == 0 {
		return 0, false
	}
	entry, ok := list[0].([]interface{})
	if !ok || len(entry) < 1 {
		return 0, false
	}
	str, ok := entry[0].(string)
	if !ok {
		return 0, false
	}
	price, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// Close tears down the websocket connection.
func (b *BybitAdapter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsConn != nil {
		err := b.wsConn.Close()
		b.wsConn = nil
		return err
	}
	return nil
}
