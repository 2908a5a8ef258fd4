package exchange

import (
	"context"
	"fmt"

	"hydra_bot/internal/models"
)

// APIError is the exchange's structured refusal: a negative code plus
// a message. It is distinct from transport errors so callers can tell
// "the exchange said no" from "we never reached the exchange".
type APIError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

// OrderRequest carries already-resolved, already-formatted values; all
// sizing math happens before the wire boundary.
type OrderRequest struct {
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Quantity      string
	QuoteOrderQty string
	LimitPrice    string
	StopPrice     string

	// Futures only.
	ReduceOnly      *bool
	ActivationPrice string
	CallbackRate    string
}

type OrderResponse struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	ExecutedQty   string
	AvgPrice      string
	TransactTime  int64
	PositionSide  string
	ClosePosition bool
}

type Balance struct {
	Asset     string
	Available string
	OnOrder   string
}

type WithdrawResult struct {
	ID string
}

// StreamHandler receives decoded stream payloads keyed the way the
// exchange names fields; normalization happens in the memory layer.
type StreamHandler func(symbol string, payload map[string]interface{})

// Client is the capability surface the engine requires from an
// exchange. Implementations return *APIError for business refusals.
type Client interface {
	Buy(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	Sell(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	FuturesBuy(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	FuturesSell(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	OrderStatus(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	Balances(ctx context.Context) ([]Balance, error)
	FuturesBalances(ctx context.Context) ([]Balance, error)
	FuturesPositions(ctx context.Context) ([]map[string]interface{}, error)
	Withdraw(ctx context.Context, coin string, amount float64, address, network, addressTag string) (*WithdrawResult, error)
	FuturesLeverage(ctx context.Context, symbol string, leverage int) error
	FuturesMargin(ctx context.Context, symbol string, marginType string) error

	Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) (*models.OHLC, error)

	ListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error

	BookStream(ctx context.Context, h StreamHandler) error
	TickerStream(ctx context.Context, h StreamHandler) error
	MarkPriceStream(ctx context.Context, h StreamHandler) error
	LiquidationStream(ctx context.Context, h StreamHandler) error
	UserDataStream(ctx context.Context, listenKey string, h StreamHandler) error
}

// Factory builds a client bound to one user's API credentials.
type Factory func(accessKey, secretKey string) Client
