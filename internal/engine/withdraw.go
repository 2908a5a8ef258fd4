package engine

import (
	"context"
	"fmt"
	"strconv"

	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
)

func (b *Brain) withdrawEval(ctx context.Context, e *env, auto *models.Automation, action models.Action) models.Result {
	tmpl := action.WithdrawTemplate
	if tmpl == nil {
		return models.Errorf("automation %s withdraw action has no template", auto.Name)
	}
	if b.deps.Test {
		return models.Errorf("automation %s cannot withdraw in test mode", auto.Name)
	}

	mult := tmpl.AmountMultiplier
	if mult <= 0 {
		mult = 1
	}

	var amount float64
	switch tmpl.Amount {
	case models.QtyMaxWallet:
		if mult > 1 {
			mult = 1
		}
		amount = b.wallet(ctx, tmpl.Coin, e.user.ID, false) * mult

	case models.QtyLastOrder:
		// the last order for this coin may sit under any symbol key
		pattern := fmt.Sprintf("*:%s", models.OwnedIndex(models.IndexLastOrder, e.user.ID))
		facts, err := b.deps.Store.Search(ctx, pattern)
		if err != nil {
			return models.Errorf("automation %s withdraw failed: %v", auto.Name, err)
		}
		for _, v := range facts {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if q, ok := memory.ToFloat(m["quantity"]); ok && q > 0 {
				amount = q * mult
				break
			}
		}

	default:
		f, err := strconv.ParseFloat(tmpl.Amount, 64)
		if err != nil {
			return models.Errorf("automation %s has an unknown withdraw amount %q", auto.Name, tmpl.Amount)
		}
		amount = f * mult
	}

	if amount <= 0 {
		return models.Errorf("automation %s withdraw amount resolved to zero", auto.Name)
	}

	res, err := e.client.Withdraw(ctx, tmpl.Coin, amount, tmpl.Address, tmpl.Network, tmpl.AddressTag)
	if err != nil {
		return models.Errorf("automation %s withdraw failed: %v", auto.Name, err)
	}
	return models.Success(fmt.Sprintf("Withdraw %s %s requested (id %s)", tmpl.Coin, strconv.FormatFloat(amount, 'f', -1, 64), res.ID))
}
