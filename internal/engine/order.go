package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"hydra_bot/internal/exchange"
	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

const testCommissionRate = 0.001

// floorTo snaps a value down to the exchange grid (tick for prices,
// step for quantities) and formats it to the symbol precision.
func floorTo(value, unit float64, precision int) (float64, string) {
	v := decimal.NewFromFloat(value)
	if unit > 0 {
		u := decimal.NewFromFloat(unit)
		v = v.Div(u).Floor().Mul(u)
	}
	v = v.Truncate(int32(precision))
	f, _ := v.Float64()
	return f, v.String()
}

// memField reads one numeric field out of a stored fact, descending
// through nested maps.
func (b *Brain) memField(ctx context.Context, key string, path ...string) (float64, bool) {
	v, err := b.deps.Store.Get(ctx, key)
	if err != nil || v == nil {
		return 0, false
	}
	for _, seg := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return 0, false
		}
		if v = m[seg]; v == nil {
			return 0, false
		}
	}
	return memory.ToFloat(v)
}

// calcPrice resolves a template price: a literal numeric string or a
// symbolic reference against the owner's memory, times the multiplier.
func (b *Brain) calcPrice(ctx context.Context, userID int64, symbol, raw string, multiplier float64) (float64, error) {
	if multiplier <= 0 {
		multiplier = 1
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f * multiplier, nil
	}

	var price float64
	var ok bool
	switch {
	case raw == models.PriceBookAsk:
		price, ok = b.memField(ctx, models.MemoryKey(symbol, models.IndexBook, ""), "current", "bestAsk")
	case raw == models.PriceBookBid:
		price, ok = b.memField(ctx, models.MemoryKey(symbol, models.IndexBook, ""), "current", "bestBid")
	case raw == models.PriceLastOrderAvg:
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexLastOrder, userID), "avgPrice")
	case raw == models.PriceLastOrderLim:
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexLastOrder, userID), "limitPrice")
	case raw == models.PriceLastOrderStop:
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexLastOrder, userID), "stopPrice")
	case raw == models.PriceMark:
		price, ok = b.memField(ctx, models.MemoryKey(symbol, models.IndexMarkPrice, ""), "current", "markPrice")
	case raw == models.PriceIndex:
		price, ok = b.memField(ctx, models.MemoryKey(symbol, models.IndexMarkPrice, ""), "current", "indexPrice")
	case raw == models.PriceLastLiq:
		price, ok = b.memField(ctx, models.MemoryKey(symbol, models.IndexLastLiq, ""), "price")
	case raw == models.PricePositionEntry:
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexPosition, userID), "entryPrice")
	case raw == models.PricePositionLiq:
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexPosition, userID), "liquidationPrice")
	case strings.HasPrefix(raw, "FLAST_ORDER_"):
		field := lastOrderField(strings.TrimPrefix(raw, "FLAST_ORDER_"))
		price, ok = b.memField(ctx, b.ownedKey(symbol, models.IndexFLastOrder, userID), field)
	case strings.HasPrefix(raw, "LAST_CANDLE_"):
		field := strings.ToLower(strings.TrimPrefix(raw, "LAST_CANDLE_"))
		price, ok = b.lastCandleField(ctx, symbol, field)
	default:
		return 0, errors.Errorf("unknown price reference %q", raw)
	}
	if !ok {
		return 0, errors.Errorf("price reference %q has no value in memory", raw)
	}
	return price * multiplier, nil
}

func lastOrderField(suffix string) string {
	switch suffix {
	case "AVG":
		return "avgPrice"
	case "LIMIT":
		return "limitPrice"
	case "STOP":
		return "stopPrice"
	}
	return "avgPrice"
}

func (b *Brain) lastCandleField(ctx context.Context, symbol, field string) (float64, bool) {
	facts, err := b.deps.Store.Search(ctx, symbol+":"+models.IndexLastCandle+"*")
	if err != nil {
		return 0, false
	}
	for _, v := range facts {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if f, ok := memory.ToFloat(m[field]); ok {
			return f, true
		}
	}
	return 0, false
}

func (b *Brain) ownedKey(symbol, index string, userID int64) string {
	return models.MemoryKey(symbol, models.OwnedIndex(index, userID), "")
}

func (b *Brain) wallet(ctx context.Context, asset string, userID int64, future bool) float64 {
	index := models.IndexWallet
	if future {
		index = models.IndexFWallet
	}
	v, _ := b.memField(ctx, b.ownedKey(asset, index, userID))
	return v
}

// calcQty resolves the template quantity. spendQuote reports that the
// order should be sized by quote amount instead (the MARKET BUY path
// with MAX_WALLET, MIN_NOTIONAL or QUOTE_QTY on spot).
func (b *Brain) calcQty(ctx context.Context, e *env, tmpl *models.OrderTemplate, sym *models.Symbol, price float64) (qty float64, spendQuote bool, err error) {
	mult := tmpl.QuantityMultiplier
	if mult <= 0 {
		mult = 1
	}
	future := tmpl.IsFuture()
	userID := e.user.ID

	marketBuy := tmpl.Type == models.TypeMarket && tmpl.Side == models.SideBuy && !future

	switch tmpl.Quantity {
	case models.QtyMaxWallet:
		if mult > 1 {
			mult = 1
		}
		if marketBuy {
			return b.wallet(ctx, sym.Quote, userID, false) * mult, true, nil
		}
		if tmpl.Side == models.SideBuy {
			if price <= 0 {
				return 0, false, errors.New("MAX_WALLET buy needs a price")
			}
			return b.wallet(ctx, sym.Quote, userID, future) * mult / price, false, nil
		}
		return b.wallet(ctx, sym.Base, userID, future) * mult, false, nil

	case models.QtyMaxFWallet:
		if mult > 1 {
			mult = 1
		}
		if price <= 0 {
			return 0, false, errors.New("MAX_FWALLET needs a price")
		}
		return b.wallet(ctx, sym.Quote, userID, true) * mult / price, false, nil

	case models.QtyMinNotional:
		if mult < 1 {
			mult = 1
		}
		notional := sym.Notional(future)
		if marketBuy {
			return notional * mult, true, nil
		}
		if price <= 0 {
			return 0, false, errors.New("MIN_NOTIONAL needs a price")
		}
		return notional * mult / price, false, nil

	case models.QtyQuote:
		if !marketBuy {
			return 0, false, errors.New("QUOTE_QTY only applies to spot market buys")
		}
		return b.wallet(ctx, sym.Quote, userID, false) * mult, true, nil

	case models.QtyLastOrder:
		v, ok := b.memField(ctx, b.ownedKey(sym.Symbol, models.IndexLastOrder, userID), "quantity")
		if !ok {
			return 0, false, errors.New("LAST_ORDER_QTY has no value in memory")
		}
		return v * mult, false, nil

	case models.QtyFLastOrder:
		v, ok := b.memField(ctx, b.ownedKey(sym.Symbol, models.IndexFLastOrder, userID), "quantity")
		if !ok {
			return 0, false, errors.New("FLAST_ORDER_QTY has no value in memory")
		}
		return v * mult, false, nil

	case models.QtyPositionAmt:
		v, ok := b.memField(ctx, b.ownedKey(sym.Symbol, models.IndexPosition, userID), "positionAmt")
		if !ok {
			return 0, false, errors.New("POSITION_AMT has no value in memory")
		}
		return math.Abs(v) * mult, false, nil
	}

	f, err := strconv.ParseFloat(tmpl.Quantity, 64)
	if err != nil {
		return 0, false, errors.Errorf("unknown quantity reference %q", tmpl.Quantity)
	}
	return f * mult, false, nil
}

// hasEnoughAssets checks the spot wallet facts before hitting the
// exchange, so an obviously doomed order fails fast and readably.
func (b *Brain) hasEnoughAssets(ctx context.Context, userID int64, sym *models.Symbol, side models.OrderSide, qty, price float64, spendQuote bool) bool {
	if side == models.SideBuy {
		need := qty * price
		if spendQuote {
			need = qty
		}
		return b.wallet(ctx, sym.Quote, userID, false) >= need
	}
	return b.wallet(ctx, sym.Base, userID, false) >= qty
}

func (b *Brain) orderEval(ctx context.Context, e *env, auto *models.Automation, action models.Action) models.Result {
	tmpl := action.OrderTemplate
	if tmpl == nil {
		return models.Errorf("automation %s order action has no template", auto.Name)
	}
	order, err := b.placeOrder(ctx, e, auto, tmpl)
	if err != nil {
		return models.Errorf("automation %s order failed: %v", auto.Name, err)
	}
	res := models.Success(fmt.Sprintf("Order %s %s %s", order.Side, order.Symbol, order.Status))
	res.Order = order
	return res
}

// symbolInfo resolves trading rules from the preloaded cache or the
// database.
func (b *Brain) symbolInfo(ctx context.Context, symbol string) (*models.Symbol, error) {
	if sym, ok := b.deps.SymbolCache[symbol]; ok {
		return sym, nil
	}
	var sym *models.Symbol
	err := b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		var err error
		sym, err = b.deps.Symbols.Get(ctx, tx, symbol)
		return err
	})
	return sym, errors.Wrap(err, "load symbol")
}

func (b *Brain) placeOrder(ctx context.Context, e *env, auto *models.Automation, tmpl *models.OrderTemplate) (*models.Order, error) {
	sym, err := b.symbolInfo(ctx, tmpl.Symbol)
	if err != nil {
		return nil, err
	}

	future := tmpl.IsFuture()
	userID := e.user.ID

	var limitPrice, stopPrice float64
	var limitStr, stopStr string
	if models.LimitTypes[tmpl.Type] {
		if limitPrice, err = b.calcPrice(ctx, userID, tmpl.Symbol, tmpl.LimitPrice, tmpl.LimitPriceMultiplier); err != nil {
			return nil, err
		}
		limitPrice, limitStr = floorTo(limitPrice, sym.Tick(future), sym.QuotePrecision)
	}
	if models.StopTypes[tmpl.Type] {
		if stopPrice, err = b.calcPrice(ctx, userID, tmpl.Symbol, tmpl.StopPrice, tmpl.StopPriceMultiplier); err != nil {
			return nil, err
		}
		stopPrice, stopStr = floorTo(stopPrice, sym.Tick(future), sym.QuotePrecision)
	}

	// Market orders size off the book even when no template price is
	// set.
	refPrice := limitPrice
	if refPrice <= 0 {
		refPrice = stopPrice
	}
	if refPrice <= 0 {
		ref := models.PriceBookAsk
		if tmpl.Side == models.SideSell {
			ref = models.PriceBookBid
		}
		if future {
			ref = models.PriceMark
		}
		refPrice, _ = b.calcPrice(ctx, userID, tmpl.Symbol, ref, 1)
	}

	qty, spendQuote, err := b.calcQty(ctx, e, tmpl, sym, refPrice)
	if err != nil {
		return nil, err
	}
	unit := sym.Step(future)
	precision := sym.BasePrecision
	if spendQuote {
		unit = 0
		precision = sym.QuotePrecision
	}
	qty, qtyStr := floorTo(qty, unit, precision)
	if qty <= 0 || math.IsInf(qty, 0) || math.IsNaN(qty) {
		return nil, errors.Errorf("calculated quantity %q is not tradable", qtyStr)
	}

	if !future && !b.deps.Test && !b.hasEnoughAssets(ctx, userID, sym, tmpl.Side, qty, refPrice, spendQuote) {
		return nil, errors.New("insufficient balance")
	}

	if b.deps.Test {
		return b.execTest(ctx, auto, tmpl, sym, qty, refPrice, limitPrice, stopPrice, spendQuote)
	}

	if future {
		if tmpl.Leverage > 0 {
			if err := e.client.FuturesLeverage(ctx, tmpl.Symbol, tmpl.Leverage); err != nil {
				return nil, errors.Wrap(err, "set leverage")
			}
		}
		if tmpl.MarginType != "" {
			// Already-set margin type comes back as a refusal we can
			// ignore.
			if err := e.client.FuturesMargin(ctx, tmpl.Symbol, tmpl.MarginType); err != nil {
				var apiErr *exchange.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != -4046 {
					return nil, errors.Wrap(err, "set margin type")
				}
			}
		}
	}

	req := exchange.OrderRequest{
		Symbol:     tmpl.Symbol,
		Type:       tmpl.Type,
		LimitPrice: limitStr,
		StopPrice:  stopStr,
		ReduceOnly: tmpl.ReduceOnly,
	}
	if spendQuote {
		req.QuoteOrderQty = qtyStr
	} else {
		req.Quantity = qtyStr
	}

	var resp *exchange.OrderResponse
	switch {
	case future && tmpl.Side == models.SideBuy:
		resp, err = e.client.FuturesBuy(ctx, req)
	case future:
		resp, err = e.client.FuturesSell(ctx, req)
	case tmpl.Side == models.SideBuy:
		resp, err = e.client.Buy(ctx, req)
	default:
		resp, err = e.client.Sell(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		AutomationID:  auto.ID,
		UserID:        auto.UserID,
		Symbol:        tmpl.Symbol,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Side:          tmpl.Side,
		Type:          tmpl.Type,
		Status:        resp.Status,
		Quantity:      qty,
		LimitPrice:    limitPrice,
		StopPrice:     stopPrice,
		TransactTime:  resp.TransactTime,
		ReduceOnly:    tmpl.ReduceOnly,
		PositionSide:  resp.PositionSide,
		ClosePosition: resp.ClosePosition,
	}
	if avg, err := strconv.ParseFloat(resp.AvgPrice, 64); err == nil {
		order.AvgPrice = avg
	}

	err = b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		order, err = b.deps.Orders.Insert(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist order")
	}

	b.writeLastOrder(ctx, order, future)
	if auto.Logs {
		logger.Auto(auto.ID, "placed %s %s %s qty=%s", tmpl.Side, tmpl.Type, tmpl.Symbol, qtyStr)
	}
	return order, nil
}

func (b *Brain) writeLastOrder(ctx context.Context, order *models.Order, future bool) {
	index := models.IndexLastOrder
	if future {
		index = models.IndexFLastOrder
	}
	updater := memory.NewUpdater(b.deps.Store, false)
	if err := updater.Update(ctx, order.Symbol, models.OwnedIndex(index, order.UserID), "", order, true); err != nil {
		logger.Error("last order memory write: %v", err)
	}
}

// execTest fills the order against memory instead of the exchange:
// the fill price is the resolved price, commission is 0.1%, and the
// owner's simulated wallets move accordingly.
func (b *Brain) execTest(ctx context.Context, auto *models.Automation, tmpl *models.OrderTemplate, sym *models.Symbol, qty, price, limitPrice, stopPrice float64, spendQuote bool) (*models.Order, error) {
	if price <= 0 {
		return nil, errors.New("no market price to simulate against")
	}
	future := tmpl.IsFuture()
	userID := auto.UserID

	baseQty := qty
	quoteTotal := qty * price
	if spendQuote {
		// qty arrived as a quote amount on this path
		quoteTotal = qty
		baseQty = qty / price
	}
	commission := quoteTotal * testCommissionRate

	base := b.wallet(ctx, sym.Base, userID, future)
	quote := b.wallet(ctx, sym.Quote, userID, future)
	if tmpl.Side == models.SideBuy {
		if quote < quoteTotal+commission {
			return nil, errors.New("insufficient balance")
		}
		base += baseQty
		quote -= quoteTotal + commission
	} else {
		if base < baseQty {
			return nil, errors.New("insufficient balance")
		}
		base -= baseQty
		quote += quoteTotal - commission
	}

	walletIndex := models.IndexWallet
	if future {
		walletIndex = models.IndexFWallet
	}
	if err := b.deps.Store.Set(ctx, b.ownedKey(sym.Base, walletIndex, userID), base, false, 0); err != nil {
		return nil, err
	}
	if err := b.deps.Store.Set(ctx, b.ownedKey(sym.Quote, walletIndex, userID), quote, false, 0); err != nil {
		return nil, err
	}

	order := &models.Order{
		AutomationID: auto.ID,
		UserID:       userID,
		Symbol:       tmpl.Symbol,
		Side:         tmpl.Side,
		Type:         tmpl.Type,
		Status:       "FILLED",
		Quantity:     baseQty,
		LimitPrice:   limitPrice,
		StopPrice:    stopPrice,
		AvgPrice:     price,
		Commission:   commission,
		Net:          quoteTotal - commission,
	}
	b.writeLastOrder(ctx, order, future)
	return order, nil
}
