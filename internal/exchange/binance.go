package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"hydra_bot/internal/models"
)

const (
	spotAPI      = "https://api.binance.com"
	futuresAPI   = "https://fapi.binance.com"
	spotWS       = "wss://stream.binance.com:9443/ws"
	futuresWS    = "wss://fstream.binance.com/ws"
	recvWindowMs = 5000
)

// BinanceClient is a thin REST/ws adapter bound to one user's keys.
type BinanceClient struct {
	http      *http.Client
	wsDialer  *websocket.Dialer
	apiKey    string
	apiSecret string
}

func NewBinanceClient(accessKey, secretKey string) Client {
	return &BinanceClient{
		http:      &http.Client{Timeout: 10 * time.Second},
		wsDialer:  &websocket.Dialer{},
		apiKey:    accessKey,
		apiSecret: secretKey,
	}
}

func (b *BinanceClient) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// request performs one signed or public call and decodes the reply.
// A non-2xx reply carrying a code/msg body comes back as *APIError.
func (b *BinanceClient) request(ctx context.Context, method, base, path string, params url.Values, signed bool, out interface{}) error {
	if signed {
		if b.apiKey == "" || b.apiSecret == "" {
			return errors.New("api creds empty")
		}
		if params == nil {
			params = url.Values{}
		}
		params.Set("timestamp", strconv.FormatInt(time.Now().UTC().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(recvWindowMs))
		params.Set("signature", b.sign(params.Encode()))
	}

	endpoint := base + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else if len(params) > 0 {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(resp.Body)

	if resp.StatusCode/100 != 2 {
		var apiErr APIError
		if err := sonic.Unmarshal(rb, &apiErr); err == nil && apiErr.Code != 0 {
			return &apiErr
		}
		return errors.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(sonic.Unmarshal(rb, out), "decode response")
}

func orderParams(req OrderRequest, side models.OrderSide) url.Values {
	p := url.Values{}
	p.Set("symbol", req.Symbol)
	p.Set("side", string(side))
	p.Set("type", string(req.Type))
	p.Set("newClientOrderId", "hydra-"+uuid.NewString())
	if req.Quantity != "" {
		p.Set("quantity", req.Quantity)
	}
	if req.QuoteOrderQty != "" {
		p.Set("quoteOrderQty", req.QuoteOrderQty)
	}
	if req.LimitPrice != "" {
		p.Set("price", req.LimitPrice)
		p.Set("timeInForce", "GTC")
	}
	if req.StopPrice != "" {
		p.Set("stopPrice", req.StopPrice)
	}
	if req.ReduceOnly != nil {
		p.Set("reduceOnly", strconv.FormatBool(*req.ReduceOnly))
	}
	if req.ActivationPrice != "" {
		p.Set("activationPrice", req.ActivationPrice)
	}
	if req.CallbackRate != "" {
		p.Set("callbackRate", req.CallbackRate)
	}
	return p
}

type wireOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	TransactTime  int64  `json:"transactTime"`
	PositionSide  string `json:"positionSide"`
	ClosePosition bool   `json:"closePosition"`
}

func (w wireOrder) response() *OrderResponse {
	return &OrderResponse{
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Status:        w.Status,
		ExecutedQty:   w.ExecutedQty,
		AvgPrice:      w.AvgPrice,
		TransactTime:  w.TransactTime,
		PositionSide:  w.PositionSide,
		ClosePosition: w.ClosePosition,
	}
}

func (b *BinanceClient) placeOrder(ctx context.Context, base, path string, req OrderRequest, side models.OrderSide) (*OrderResponse, error) {
	var w wireOrder
	if err := b.request(ctx, http.MethodPost, base, path, orderParams(req, side), true, &w); err != nil {
		return nil, err
	}
	return w.response(), nil
}

func (b *BinanceClient) Buy(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	return b.placeOrder(ctx, spotAPI, "/api/v3/order", req, models.SideBuy)
}

func (b *BinanceClient) Sell(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	return b.placeOrder(ctx, spotAPI, "/api/v3/order", req, models.SideSell)
}

func (b *BinanceClient) FuturesBuy(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	return b.placeOrder(ctx, futuresAPI, "/fapi/v1/order", req, models.SideBuy)
}

func (b *BinanceClient) FuturesSell(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	return b.placeOrder(ctx, futuresAPI, "/fapi/v1/order", req, models.SideSell)
}

func (b *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	p := url.Values{}
	p.Set("symbol", symbol)
	p.Set("orderId", strconv.FormatInt(orderID, 10))
	return b.request(ctx, http.MethodDelete, spotAPI, "/api/v3/order", p, true, nil)
}

func (b *BinanceClient) OrderStatus(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	p := url.Values{}
	p.Set("symbol", symbol)
	p.Set("orderId", strconv.FormatInt(orderID, 10))
	var w wireOrder
	if err := b.request(ctx, http.MethodGet, spotAPI, "/api/v3/order", p, true, &w); err != nil {
		return nil, err
	}
	return w.response(), nil
}

// ListenKey opens a user data stream session. The exchange closes the
// session after an hour unless KeepAliveListenKey refreshes it.
func (b *BinanceClient) ListenKey(ctx context.Context) (string, error) {
	if b.apiKey == "" {
		return "", errors.New("api creds empty")
	}
	var w struct {
		ListenKey string `json:"listenKey"`
	}
	if err := b.request(ctx, http.MethodPost, spotAPI, "/api/v3/userDataStream", nil, false, &w); err != nil {
		return "", err
	}
	return w.ListenKey, nil
}

func (b *BinanceClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	p := url.Values{}
	p.Set("listenKey", listenKey)
	return b.request(ctx, http.MethodPut, spotAPI, "/api/v3/userDataStream", p, false, nil)
}

func (b *BinanceClient) Balances(ctx context.Context) ([]Balance, error) {
	var acc struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.request(ctx, http.MethodGet, spotAPI, "/api/v3/account", nil, true, &acc); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(acc.Balances))
	for _, bal := range acc.Balances {
		out = append(out, Balance{Asset: bal.Asset, Available: bal.Free, OnOrder: bal.Locked})
	}
	return out, nil
}

func (b *BinanceClient) FuturesBalances(ctx context.Context) ([]Balance, error) {
	var arr []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
		Balance          string `json:"balance"`
	}
	if err := b.request(ctx, http.MethodGet, futuresAPI, "/fapi/v2/balance", nil, true, &arr); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(arr))
	for _, bal := range arr {
		out = append(out, Balance{Asset: bal.Asset, Available: bal.AvailableBalance, OnOrder: bal.Balance})
	}
	return out, nil
}

// FuturesPositions returns raw position payloads; per-field
// normalization happens in the memory layer.
func (b *BinanceClient) FuturesPositions(ctx context.Context) ([]map[string]interface{}, error) {
	var arr []map[string]interface{}
	if err := b.request(ctx, http.MethodGet, futuresAPI, "/fapi/v2/positionRisk", nil, true, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func (b *BinanceClient) Withdraw(ctx context.Context, coin string, amount float64, address, network, addressTag string) (*WithdrawResult, error) {
	p := url.Values{}
	p.Set("coin", coin)
	p.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	p.Set("address", address)
	if network != "" {
		p.Set("network", network)
	}
	if addressTag != "" {
		p.Set("addressTag", addressTag)
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := b.request(ctx, http.MethodPost, spotAPI, "/sapi/v1/capital/withdraw/apply", p, true, &res); err != nil {
		return nil, err
	}
	return &WithdrawResult{ID: res.ID}, nil
}

func (b *BinanceClient) FuturesLeverage(ctx context.Context, symbol string, leverage int) error {
	p := url.Values{}
	p.Set("symbol", symbol)
	p.Set("leverage", strconv.Itoa(leverage))
	return b.request(ctx, http.MethodPost, futuresAPI, "/fapi/v1/leverage", p, true, nil)
}

func (b *BinanceClient) FuturesMargin(ctx context.Context, symbol string, marginType string) error {
	p := url.Values{}
	p.Set("symbol", symbol)
	p.Set("marginType", marginType)
	return b.request(ctx, http.MethodPost, futuresAPI, "/fapi/v1/marginType", p, true, nil)
}

func (b *BinanceClient) Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) (*models.OHLC, error) {
	p := url.Values{}
	p.Set("symbol", symbol)
	p.Set("interval", interval)
	if startTime > 0 {
		p.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		p.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	if limit > 0 {
		p.Set("limit", strconv.Itoa(limit))
	}
	var raw [][]interface{}
	if err := b.request(ctx, http.MethodGet, spotAPI, "/api/v3/klines", p, false, &raw); err != nil {
		return nil, err
	}
	ohlc := &models.OHLC{}
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		ohlc.Open = append(ohlc.Open, asFloat(row[1]))
		ohlc.High = append(ohlc.High, asFloat(row[2]))
		ohlc.Low = append(ohlc.Low, asFloat(row[3]))
		ohlc.Close = append(ohlc.Close, asFloat(row[4]))
		ohlc.Volume = append(ohlc.Volume, asFloat(row[5]))
		ohlc.Time = append(ohlc.Time, asInt64(row[6]))
	}
	return ohlc, nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
