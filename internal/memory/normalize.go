package memory

import (
	"strconv"

	"hydra_bot/internal/models"
)

// The exchange streams deliver everything as strings plus a few
// server-churn fields nobody conditions on. Each fact type gets its
// numeric fields parsed and the churn stripped before the write.

func lightBook(value interface{}) map[string]interface{} {
	m := asMap(value)
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "symbol", "updateId", "bestAskQty", "bestBidQty":
			continue
		}
		out[k] = toNumber(v)
	}
	return out
}

func lightTicker(value interface{}) map[string]interface{} {
	m := asMap(value)
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "symbol" {
			continue
		}
		out[k] = toNumber(v)
	}
	return out
}

func lightMarkPrice(value interface{}) map[string]interface{} {
	m := asMap(value)
	out := make(map[string]interface{})
	for k, v := range m {
		switch k {
		case "symbol", "eventType", "eventTime", "fundingTime":
			continue
		case "markPrice", "indexPrice", "fundingRate":
			out[k] = toNumber(v)
		default:
			out[k] = v
		}
	}
	return out
}

func lightLiquidation(value interface{}) map[string]interface{} {
	m := asMap(value)
	out := make(map[string]interface{})
	for k, v := range m {
		switch k {
		case "symbol", "tradeTime", "eventTime", "eventType", "lastFilledQty":
			continue
		case "totalFilledQty", "avgPrice", "price", "origAmount":
			out[k] = toNumber(v)
		default:
			out[k] = v
		}
	}
	return out
}

func lightPosition(value interface{}) map[string]interface{} {
	m := asMap(value)
	out := map[string]interface{}{
		"symbol":       m["symbol"],
		"marginType":   m["marginType"],
		"positionSide": m["positionSide"],
	}
	for _, k := range []string{
		"positionAmt", "entryPrice", "markPrice", "notional",
		"isolatedWallet", "unRealizedProfit", "liquidationPrice",
		"leverage", "maxNotionalValue", "isolatedMargin",
	} {
		out[k] = toNumber(m[k])
	}
	out["isAutoAddMargin"] = m["isAutoAddMargin"] == "true" || m["isAutoAddMargin"] == true
	return out
}

// lightOrder reduces a fill to the fields rules condition on. Accepts
// either a *models.Order from the engine or a raw map from the user
// data stream.
func lightOrder(value interface{}) map[string]interface{} {
	if o, ok := value.(*models.Order); ok {
		return map[string]interface{}{
			"side":          string(o.Side),
			"type":          string(o.Type),
			"status":        o.Status,
			"quantity":      o.Quantity,
			"limitPrice":    o.LimitPrice,
			"stopPrice":     o.StopPrice,
			"avgPrice":      o.AvgPrice,
			"net":           o.Net,
			"priceRate":     o.PriceRate,
			"activatePrice": o.ActivatePrice,
			"reduceOnly":    o.ReduceOnly,
			"positionSide":  o.PositionSide,
			"closePosition": o.ClosePosition,
		}
	}

	m := asMap(value)
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "id", "symbol", "automationId", "userId", "orderId",
			"clientOrderId", "transactTime", "isMaker", "commission", "obs":
			continue
		case "limitPrice", "stopPrice", "avgPrice", "priceRate",
			"activatePrice", "net", "quantity":
			out[k] = toNumber(v)
		default:
			out[k] = v
		}
	}
	return out
}

func asMap(value interface{}) map[string]interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func toNumber(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
		return t
	default:
		return v
	}
}

// ToFloat extracts a numeric fact value; wallet balances are written
// as plain numbers but may come back as strings from the shared cache.
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
