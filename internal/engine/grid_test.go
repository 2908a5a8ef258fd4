package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/models"
)

func TestGridRange(t *testing.T) {
	lower, upper, err := gridRange(
		"MEMORY['BTCUSD:BOOK'].current.bestAsk>100 && MEMORY['BTCUSD:BOOK'].current.bestAsk<200")
	require.NoError(t, err)
	assert.Equal(t, 100.0, lower)
	assert.Equal(t, 200.0, upper)

	_, _, err = gridRange("MEMORY['BTCUSD:BOOK'].current.bestAsk>100")
	assert.Error(t, err)
}

func TestBuildGridRowsDropsClosest(t *testing.T) {
	auto := &models.Automation{ID: 7, Symbol: "BTCUSD"}
	sym := testSymbol()

	// range [100,200], 4 levels: targets 125, 150, 175, 200;
	// market at 155 drops the 150 level
	rows := buildGridRows(auto, sym, 100, 200, 155, 4, 101, 102)
	require.Len(t, rows, 3)

	assert.Equal(t, int64(101), rows[0].OrderTemplateID, "125 sits below the market: buy")
	assert.Contains(t, rows[0].Conditions, "current.bestAsk<125")
	assert.Contains(t, rows[0].Conditions, "previous.bestAsk>=125")
	assert.Contains(t, rows[0].Conditions, "current.bestAsk>100")

	assert.Equal(t, int64(102), rows[1].OrderTemplateID, "175 sits above the market: sell")
	assert.Contains(t, rows[1].Conditions, "current.bestBid>175")
	assert.Contains(t, rows[1].Conditions, "previous.bestBid<=175")
	assert.Contains(t, rows[1].Conditions, "current.bestBid<200")

	assert.Equal(t, int64(102), rows[2].OrderTemplateID)
	assert.Contains(t, rows[2].Conditions, "current.bestBid>200")

	for _, row := range rows {
		assert.Equal(t, int64(7), row.AutomationID)
		assert.NotContains(t, row.Conditions, "150", "consumed level must not come back")
	}
}

func TestBuildGridRowsTieGoesToLowerLevel(t *testing.T) {
	auto := &models.Automation{ID: 7, Symbol: "BTCUSD"}
	// market exactly between 150 and 175
	rows := buildGridRows(auto, testSymbol(), 100, 200, 162.5, 4, 101, 102)
	require.Len(t, rows, 3)
	assert.NotContains(t, rows[0].Conditions+rows[1].Conditions+rows[2].Conditions, "150")
	assert.Contains(t, rows[1].Conditions, "175")
}

func TestGridEvalPlacesFirstMatchingLevel(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 100000, 1)

	tmplBuy := &models.OrderTemplate{
		ID: 101, UserID: 1, Symbol: "BTCUSD",
		Type: models.TypeMarket, Side: models.SideBuy,
		Quantity: "0.1", QuantityMultiplier: 1,
	}
	auto := &models.Automation{
		ID: 20, UserID: 1, Name: "btc grid", Symbol: "BTCUSD",
		Indexes:    "BTCUSD:BOOK",
		Conditions: "MEMORY['BTCUSD:BOOK'].current.bestAsk>100 && MEMORY['BTCUSD:BOOK'].current.bestAsk<200",
		IsActive:   true,
		Test:       true,
		Actions:    []models.Action{{Type: models.ActionGrid}},
		Grids: []models.Grid{
			{ID: 2, AutomationID: 20, Conditions: "MEMORY['BTCUSD:BOOK'].current.bestAsk<175", OrderTemplate: tmplBuy},
			{ID: 1, AutomationID: 20, Conditions: "MEMORY['BTCUSD:BOOK'].current.bestAsk<125", OrderTemplate: tmplBuy},
		},
	}
	brain.UpdateBrain(auto)

	pushBook(t, up, 150, 149)
	results := brain.OnMemoryUpdate(context.Background(), "BTCUSD:BOOK")
	require.Len(t, results, 1)
	assert.Equal(t, "success", results[0].Type)
	require.NotNil(t, results[0].Order)
	assert.Equal(t, models.SideBuy, results[0].Order.Side)
}
