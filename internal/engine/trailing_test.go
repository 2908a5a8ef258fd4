package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/models"
)

func trailingAutomation(tmpl *models.OrderTemplate) *models.Automation {
	return &models.Automation{
		ID: 30, UserID: 1, Name: "ride the pump", Symbol: "BTCUSD",
		Indexes:  "BTCUSD:BOOK",
		IsActive: true,
		Test:     true,
		Actions:  []models.Action{{Type: models.ActionTrailing, OrderTemplate: tmpl}},
	}
}

func TestTrailingArmsOnce(t *testing.T) {
	brain, _, up := testBrain(t)
	tmpl := &models.OrderTemplate{
		ID: 201, UserID: 1, Symbol: "BTCUSD",
		Type: models.TypeTrailingStop, Side: models.SideSell,
		LimitPrice: models.PriceBookBid, LimitPriceMultiplier: 1,
		StopPriceMultiplier: 1,
		Quantity:            "0.5", QuantityMultiplier: 1,
	}
	auto := trailingAutomation(tmpl)
	brain.UpdateBrain(auto)

	pushBook(t, up, 30001, 30000)
	results := brain.OnMemoryUpdate(context.Background(), "BTCUSD:BOOK")
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "armed at 30000")
	assert.Equal(t, "30000", tmpl.LimitPrice, "activation pinned to a literal")
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 0, 1)
	tmpl := &models.OrderTemplate{
		ID: 201, UserID: 1, Symbol: "BTCUSD",
		Type: models.TypeTrailingStop, Side: models.SideSell,
		LimitPrice: "30000", StopPriceMultiplier: 1,
		Quantity: "0.5", QuantityMultiplier: 1,
	}
	auto := trailingAutomation(tmpl)
	brain.UpdateBrain(auto)
	ctx := context.Background()

	// below activation: nothing happens
	pushBook(t, up, 29001, 29000)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))
	assert.Empty(t, tmpl.StopPrice)

	// at activation: first stop 1% below the bid
	pushBook(t, up, 30001, 30000)
	brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	assert.Equal(t, "29700", tmpl.StopPrice)

	// market rises: the stop ratchets up
	pushBook(t, up, 30501, 30500)
	brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	assert.Equal(t, "30195", tmpl.StopPrice)

	// market dips but stays above the stop: the stop must not move down
	pushBook(t, up, 30301, 30300)
	brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	assert.Equal(t, "30195", tmpl.StopPrice)
}

func TestTrailingHoldsOutsideActivationZone(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 0, 1)
	tmpl := &models.OrderTemplate{
		ID: 201, UserID: 1, Symbol: "BTCUSD",
		Type: models.TypeTrailingStop, Side: models.SideSell,
		LimitPrice: "30000", StopPrice: "30195", StopPriceMultiplier: 1,
		Quantity: "0.5", QuantityMultiplier: 1,
	}
	auto := trailingAutomation(tmpl)
	brain.UpdateBrain(auto)
	ctx := context.Background()

	// one tick gaps through the stop and out of the activation zone;
	// outside the zone the rule holds, stop untouched
	pushBook(t, up, 30301, 30300)
	pushBook(t, up, 29901, 29900)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))
	assert.True(t, auto.IsActive)
	assert.Equal(t, "30195", tmpl.StopPrice)
}

func TestTrailingFiresOnceAndDeactivates(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 0, 1)
	tmpl := &models.OrderTemplate{
		ID: 201, UserID: 1, Symbol: "BTCUSD",
		Type: models.TypeTrailingStop, Side: models.SideSell,
		LimitPrice: "30000", StopPrice: "30195", StopPriceMultiplier: 1,
		Quantity: "0.5", QuantityMultiplier: 1,
	}
	auto := trailingAutomation(tmpl)
	brain.UpdateBrain(auto)
	ctx := context.Background()

	// previous above the stop, current below: fire
	pushBook(t, up, 30301, 30300)
	pushBook(t, up, 30101, 30100)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Order)
	assert.Equal(t, models.SideSell, results[0].Order.Side)
	assert.Equal(t, models.TypeMarket, results[0].Order.Type)
	assert.False(t, auto.IsActive)

	// terminal: the rule is gone from the registry
	brain.mu.Lock()
	_, registered := brain.automations[auto.ID]
	brain.mu.Unlock()
	assert.False(t, registered)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))
}
