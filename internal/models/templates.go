package models

// Symbolic price references an order template may use instead of a
// literal price.
const (
	PriceBookAsk       = "BOOK_ASK"
	PriceBookBid       = "BOOK_BID"
	PriceLastOrderAvg  = "LAST_ORDER_AVG"
	PriceLastOrderLim  = "LAST_ORDER_LIMIT"
	PriceLastOrderStop = "LAST_ORDER_STOP"
	PriceMark          = "MARK_PRICE"
	PriceIndex         = "INDEX_PRICE"
	PriceLastLiq       = "LAST_LIQ_PRICE"
	PricePositionEntry = "POSITION_ENTRY"
	PricePositionLiq   = "POSITION_LIQ_PRICE"
)

// Symbolic quantity references.
const (
	QtyMaxWallet    = "MAX_WALLET"
	QtyMaxFWallet   = "MAX_FWALLET"
	QtyMinNotional  = "MIN_NOTIONAL"
	QtyQuote        = "QUOTE_QTY"
	QtyLastOrder    = "LAST_ORDER_QTY"
	QtyFLastOrder   = "FLAST_ORDER_QTY"
	QtyPositionAmt  = "POSITION_AMT"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeMarket             OrderType = "MARKET"
	TypeLimit              OrderType = "LIMIT"
	TypeStopLoss           OrderType = "STOP_LOSS"
	TypeStopLossLimit      OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit         OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit    OrderType = "TAKE_PROFIT_LIMIT"
	TypeTrailingStop       OrderType = "TRAILING_STOP"
	TypeTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
)

// LimitTypes are the order types that carry a limit price.
var LimitTypes = map[OrderType]bool{
	TypeLimit:           true,
	TypeStopLossLimit:   true,
	TypeTakeProfitLimit: true,
}

// StopTypes are the order types that carry a stop price.
var StopTypes = map[OrderType]bool{
	TypeStopLoss:        true,
	TypeStopLossLimit:   true,
	TypeTakeProfit:      true,
	TypeTakeProfitLimit: true,
}

// OrderTemplate describes how to build an order: prices and quantity
// are either literal numeric strings or symbolic references resolved
// against memory at execution time, each with a multiplier.
type OrderTemplate struct {
	ID                 int64
	UserID             int64
	Name               string
	Symbol             string
	Type               OrderType
	Side               OrderSide
	LimitPrice         string
	LimitPriceMultiplier float64
	StopPrice          string
	StopPriceMultiplier  float64
	Quantity           string
	QuantityMultiplier float64

	// Futures only.
	Leverage   int
	MarginType string
	ReduceOnly *bool
}

func (t *OrderTemplate) IsFuture() bool {
	return t.Leverage > 0 || t.MarginType != ""
}

type WithdrawTemplate struct {
	ID               int64
	UserID           int64
	Name             string
	Coin             string
	Amount           string
	AmountMultiplier float64
	Address          string
	Network          string
	AddressTag       string
}
