package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	"hydra_bot/internal/condition"
	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

// gridEval walks the ladder in row order, places the first level whose
// condition holds, then rebuilds the whole ladder around the new
// market price inside one transaction.
func (b *Brain) gridEval(ctx context.Context, e *env, auto *models.Automation) models.Result {
	if len(auto.Grids) == 0 {
		return models.Errorf("automation %s has no grid levels", auto.Name)
	}

	snapshot, err := b.deps.Store.GetAll(ctx, auto.IndexList()...)
	if err != nil {
		return models.Errorf("automation %s grid failed: %v", auto.Name, err)
	}

	grids := append([]models.Grid(nil), auto.Grids...)
	sort.Slice(grids, func(i, j int) bool { return grids[i].ID < grids[j].ID })

	var hit *models.Grid
	for i := range grids {
		expr, err := condition.Parse(grids[i].Conditions)
		if err != nil {
			logger.Auto(auto.ID, "grid level %d has a bad condition: %v", grids[i].ID, err)
			continue
		}
		if expr.Eval(snapshot) {
			hit = &grids[i]
			break
		}
	}
	if hit == nil {
		return models.Errorf("automation %s fired but no grid level matched", auto.Name)
	}
	if hit.OrderTemplate == nil {
		return models.Errorf("automation %s grid level %d has no template", auto.Name, hit.ID)
	}

	order, err := b.placeOrder(ctx, e, auto, hit.OrderTemplate)
	if err != nil {
		return models.Errorf("automation %s grid order failed: %v", auto.Name, err)
	}

	res := models.Success(fmt.Sprintf("Order %s %s %s", order.Side, order.Symbol, order.Status))
	res.Order = order
	if b.deps.Test {
		return res
	}

	// Keep the ladder the same size: the consumed level comes back
	// after regeneration drops the one closest to the market.
	err = b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return b.GenerateGrids(ctx, tx, auto, len(auto.Grids)+1, hit.OrderTemplate.Quantity)
	})
	if err != nil {
		return models.Errorf("automation %s grid regeneration failed: %v", auto.Name, err)
	}

	var fresh *models.Automation
	err = b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		fresh, err = b.deps.Automations.Get(ctx, tx, auto.ID)
		return err
	})
	if err != nil {
		return models.Errorf("automation %s grid reload failed: %v", auto.Name, err)
	}
	fresh.Test = auto.Test
	b.UpdateBrain(fresh)
	return res
}

// gridRange pulls the lower and upper bounds out of the automation's
// two range clauses (price > lower && price < upper).
func gridRange(conditions string) (lower, upper float64, err error) {
	expr, err := condition.Parse(conditions)
	if err != nil {
		return 0, 0, err
	}
	var haveLower, haveUpper bool
	for _, c := range expr.Clauses {
		f, ok := c.Right.Number()
		if !ok {
			continue
		}
		switch c.Op {
		case condition.OpGT, condition.OpGTE:
			lower, haveLower = f, true
		case condition.OpLT, condition.OpLTE:
			upper, haveUpper = f, true
		}
	}
	if !haveLower || !haveUpper || upper <= lower {
		return 0, 0, errors.Errorf("conditions %q do not define a price range", conditions)
	}
	return lower, upper, nil
}

// GenerateGrids rebuilds the ladder: levels evenly spaced targets
// between the range bounds, each snapped to the tick grid, buys below
// the current ask and sells at or above it. The level closest to the
// market is dropped so the rule does not fire again on the very next
// book update. Runs inside the caller's transaction.
func (b *Brain) GenerateGrids(ctx context.Context, tx db.Transaction, auto *models.Automation, levels int, quantity string) error {
	if levels < 2 {
		return errors.New("a grid needs at least two levels")
	}
	lower, upper, err := gridRange(auto.Conditions)
	if err != nil {
		return err
	}

	sym, err := b.deps.Symbols.Get(ctx, tx, auto.Symbol)
	if err != nil {
		return errors.Wrap(err, "load symbol")
	}
	current, ok := b.memField(ctx, models.MemoryKey(auto.Symbol, models.IndexBook, ""), "current", "bestAsk")
	if !ok {
		return errors.New("no book price in memory")
	}

	buyTmpl, sellTmpl, err := b.gridTemplates(ctx, tx, auto, quantity)
	if err != nil {
		return err
	}

	rows := buildGridRows(auto, sym, lower, upper, current, levels, buyTmpl.ID, sellTmpl.ID)

	if err := b.deps.Grids.DeleteByAutomation(ctx, tx, auto.ID); err != nil {
		return err
	}
	return b.deps.Grids.InsertBatch(ctx, tx, rows)
}

// buildGridRows lays the targets out and drops the one closest to the
// current ask; ties go to the lower level.
func buildGridRows(auto *models.Automation, sym *models.Symbol, lower, upper, current float64, levels int, buyID, sellID int64) []models.Grid {
	bookKey := models.MemoryKey(auto.Symbol, models.IndexBook, "")
	step := (upper - lower) / float64(levels)

	rows := make([]models.Grid, 0, levels)
	closest, closestDist := -1, math.MaxFloat64
	for i := 1; i <= levels; i++ {
		target, targetStr := floorTo(lower+step*float64(i), sym.TickSize, sym.QuotePrecision)

		var row models.Grid
		row.AutomationID = auto.ID
		if target < current {
			_, floorStr := floorTo(target-step, sym.TickSize, sym.QuotePrecision)
			row.OrderTemplateID = buyID
			row.Conditions = fmt.Sprintf(
				"MEMORY['%s'].current.bestAsk<%s && MEMORY['%s'].previous.bestAsk>=%s && MEMORY['%s'].current.bestAsk>%s",
				bookKey, targetStr, bookKey, targetStr, bookKey, floorStr)
		} else {
			_, ceilStr := floorTo(target+step, sym.TickSize, sym.QuotePrecision)
			row.OrderTemplateID = sellID
			row.Conditions = fmt.Sprintf(
				"MEMORY['%s'].current.bestBid>%s && MEMORY['%s'].previous.bestBid<=%s && MEMORY['%s'].current.bestBid<%s",
				bookKey, targetStr, bookKey, targetStr, bookKey, ceilStr)
		}
		rows = append(rows, row)

		if dist := math.Abs(current - target); dist < closestDist {
			closest, closestDist = len(rows)-1, dist
		}
	}
	return append(rows[:closest], rows[closest+1:]...)
}

// gridTemplates finds or creates the pair of market templates the
// ladder's rows point at, refreshing their quantity.
func (b *Brain) gridTemplates(ctx context.Context, tx db.Transaction, auto *models.Automation, quantity string) (buy, sell *models.OrderTemplate, err error) {
	existing, err := b.deps.OrderTemplates.GetByGridName(ctx, tx, auto.UserID, auto.Name)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range existing {
		if t.Side == models.SideBuy {
			buy = t
		} else {
			sell = t
		}
		if quantity != "" && t.Quantity != quantity {
			if err := b.deps.OrderTemplates.UpdateQuantity(ctx, tx, auto.UserID, t.ID, quantity); err != nil {
				return nil, nil, err
			}
			t.Quantity = quantity
		}
	}
	if buy == nil {
		buy, err = b.deps.OrderTemplates.Insert(ctx, tx, &models.OrderTemplate{
			UserID: auto.UserID, Name: auto.Name + " BUY", Symbol: auto.Symbol,
			Type: models.TypeMarket, Side: models.SideBuy, Quantity: quantity, QuantityMultiplier: 1,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	if sell == nil {
		sell, err = b.deps.OrderTemplates.Insert(ctx, tx, &models.OrderTemplate{
			UserID: auto.UserID, Name: auto.Name + " SELL", Symbol: auto.Symbol,
			Type: models.TypeMarket, Side: models.SideSell, Quantity: quantity, QuantityMultiplier: 1,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return buy, sell, nil
}
