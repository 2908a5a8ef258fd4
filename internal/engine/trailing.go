package engine

import (
	"context"
	"fmt"
	"strconv"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

// trailingEval drives one trailing rule through its lifecycle.
//
// While the template's limit price is still symbolic the rule is
// unarmed: the reference is resolved against memory exactly once,
// persisted as a literal, and no order is placed. Once armed, the rule
// waits for the price to reach the activation level, then ratchets a
// stop behind the market; the stop only ever tightens. When the price
// crosses back over the stop the order fires and the rule deactivates
// for good.
func (b *Brain) trailingEval(ctx context.Context, e *env, auto *models.Automation, action models.Action) models.Result {
	tmpl := action.OrderTemplate
	if tmpl == nil {
		return models.Errorf("automation %s trailing action has no template", auto.Name)
	}
	buy := tmpl.Side == models.SideBuy

	activation, err := strconv.ParseFloat(tmpl.LimitPrice, 64)
	if err != nil {
		// unarmed: pin the activation level to a literal
		resolved, err := b.calcPrice(ctx, e.user.ID, tmpl.Symbol, tmpl.LimitPrice, tmpl.LimitPriceMultiplier)
		if err != nil {
			return models.Errorf("automation %s trailing arm failed: %v", auto.Name, err)
		}
		sym, err := b.symbolInfo(ctx, tmpl.Symbol)
		if err != nil {
			return models.Errorf("automation %s trailing arm failed: %v", auto.Name, err)
		}
		_, str := floorTo(resolved, sym.TickSize, sym.QuotePrecision)
		tmpl.LimitPrice = str
		tmpl.LimitPriceMultiplier = 1
		if !b.deps.Test {
			err = b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
				return b.deps.OrderTemplates.UpdateLimitPrice(ctx, tx, auto.UserID, tmpl.ID, str)
			})
			if err != nil {
				return models.Errorf("automation %s trailing arm failed: %v", auto.Name, err)
			}
		}
		if auto.Logs {
			logger.Auto(auto.ID, "trailing armed at %s", tmpl.LimitPrice)
		}
		return models.Success(fmt.Sprintf("Trailing %s armed at %s", tmpl.Symbol, tmpl.LimitPrice))
	}

	bookKey := models.MemoryKey(tmpl.Symbol, models.IndexBook, "")
	side := "bestAsk"
	if !buy {
		side = "bestBid"
	}
	current, ok := b.memField(ctx, bookKey, "current", side)
	if !ok {
		return models.Result{}
	}
	previous, havePrev := b.memField(ctx, bookKey, "previous", side)

	// outside the activation zone nothing happens on this update
	if buy && current > activation {
		return models.Result{}
	}
	if !buy && current < activation {
		return models.Result{}
	}

	stop, _ := strconv.ParseFloat(tmpl.StopPrice, 64)

	// fire when the market crosses back over the ratcheted stop
	if stop > 0 && havePrev {
		crossed := current >= stop && previous < stop
		if !buy {
			crossed = current <= stop && previous > stop
		}
		if crossed {
			fire := *tmpl
			fire.Type = models.TypeMarket
			order, err := b.placeOrder(ctx, e, auto, &fire)
			if err != nil {
				return models.Errorf("automation %s trailing order failed: %v", auto.Name, err)
			}
			b.DeleteBrain(auto)
			auto.IsActive = false
			if !b.deps.Test {
				if err := b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
					return b.deps.Automations.SetActive(ctx, tx, auto.ID, false)
				}); err != nil {
					logger.Error("trailing deactivate %d: %v", auto.ID, err)
				}
			}
			res := models.Success(fmt.Sprintf("Order %s %s %s", order.Side, order.Symbol, order.Status))
			res.Order = order
			return res
		}
	}

	mult := tmpl.StopPriceMultiplier
	if mult <= 0 {
		return models.Errorf("automation %s trailing has no callback percentage", auto.Name)
	}
	candidate := current * (1 + mult/100)
	tightens := stop <= 0 || candidate < stop
	if !buy {
		candidate = current * (1 - mult/100)
		tightens = stop <= 0 || candidate > stop
	}
	if !tightens {
		return models.Result{}
	}

	sym, err := b.symbolInfo(ctx, tmpl.Symbol)
	if err != nil {
		return models.Errorf("automation %s trailing update failed: %v", auto.Name, err)
	}
	_, stopStr := floorTo(candidate, sym.TickSize, sym.QuotePrecision)
	if !b.deps.Test {
		err = b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
			return b.deps.OrderTemplates.UpdateStopPrice(ctx, tx, auto.UserID, tmpl.ID, stopStr)
		})
		if err != nil {
			return models.Errorf("automation %s trailing update failed: %v", auto.Name, err)
		}
	}
	tmpl.StopPrice = stopStr
	if auto.Logs {
		logger.Auto(auto.ID, "trailing stop moved to %s", stopStr)
	}
	return models.Result{}
}
