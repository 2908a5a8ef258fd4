package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
	"hydra_bot/pkg/logger"
)

func testSymbol() *models.Symbol {
	return &models.Symbol{
		Symbol: "BTCUSD", Base: "BTC", Quote: "USD",
		BasePrecision: 8, QuotePrecision: 2,
		TickSize: 0.01, StepSize: 0.00001, MinNotional: 10,
		IsActive: true,
	}
}

func testBrain(t *testing.T) (*Brain, *memory.LocalStore, *memory.Updater) {
	t.Helper()
	logger.Init()
	store := memory.NewLocalStore()
	brain := NewBrain(1, Deps{
		Store:         store,
		Test:          true,
		Owner:         &models.User{ID: 1, Name: "tester"},
		OwnerSettings: &models.Settings{},
		SymbolCache:   map[string]*models.Symbol{"BTCUSD": testSymbol()},
	})
	return brain, store, memory.NewUpdater(store, false)
}

func seedWallets(t *testing.T, store *memory.LocalStore, usd, btc float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "USD:WALLET_1", usd, false, 0))
	require.NoError(t, store.Set(ctx, "BTC:WALLET_1", btc, false, 0))
}

func pushBook(t *testing.T, up *memory.Updater, ask, bid float64) {
	t.Helper()
	err := up.Update(context.Background(), "BTCUSD", models.IndexBook, "", map[string]interface{}{
		"bestAsk": ask, "bestBid": bid,
	}, false)
	require.NoError(t, err)
}

func buyAutomation() *models.Automation {
	return &models.Automation{
		ID: 10, UserID: 1, Name: "buy the dip", Symbol: "BTCUSD",
		Indexes:    "BTCUSD:BOOK",
		Conditions: "MEMORY['BTCUSD:BOOK'].current.bestAsk<30000",
		IsActive:   true,
		Test:       true,
		Actions: []models.Action{{
			Type: models.ActionOrder,
			OrderTemplate: &models.OrderTemplate{
				ID: 1, UserID: 1, Symbol: "BTCUSD",
				Type: models.TypeMarket, Side: models.SideBuy,
				Quantity: "0.1", QuantityMultiplier: 1,
			},
		}},
	}
}

func TestUpdateBrainRefusesUnwakeable(t *testing.T) {
	brain, _, _ := testBrain(t)

	brain.UpdateBrain(&models.Automation{ID: 1, UserID: 1, Name: "dead", IsActive: true})

	assert.Empty(t, brain.automations)
	assert.Empty(t, brain.index)
}

func TestUpdateBrainIndexesEveryKey(t *testing.T) {
	brain, _, _ := testBrain(t)

	auto := buyAutomation()
	auto.Indexes = "BTCUSD:BOOK,BTCUSD:RSI_14_1h"
	brain.UpdateBrain(auto)

	assert.Len(t, brain.automations, 1)
	assert.Equal(t, []int64{10}, brain.index["BTCUSD:BOOK"])
	assert.Equal(t, []int64{10}, brain.index["BTCUSD:RSI_14_1h"])

	brain.DeleteBrain(auto)
	assert.Empty(t, brain.automations)
	assert.Empty(t, brain.index)
}

func TestEvalDecisionWaitsForAllFacts(t *testing.T) {
	brain, _, up := testBrain(t)
	auto := buyAutomation()
	auto.Indexes = "BTCUSD:BOOK,BTCUSD:RSI_14_1h"
	brain.UpdateBrain(auto)

	pushBook(t, up, 29000, 28999)
	results := brain.OnMemoryUpdate(context.Background(), "BTCUSD:BOOK")
	assert.Empty(t, results, "must not fire while RSI fact is missing")
}

func TestFiresOnDownwardCross(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 100000, 0)
	auto := buyAutomation()
	brain.UpdateBrain(auto)
	ctx := context.Background()

	// above the threshold: nothing
	pushBook(t, up, 30001, 30000)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))

	// crossing down: exactly one order
	pushBook(t, up, 29999, 29998)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 1)
	assert.Equal(t, "success", results[0].Type)
	require.NotNil(t, results[0].Order)
	assert.Equal(t, "FILLED", results[0].Order.Status)
	assert.InDelta(t, 0.1, results[0].Order.Quantity, 1e-9)

	// still below, but no fresh cross: the inverted clause holds it back
	pushBook(t, up, 29998, 29997)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))

	// simulated fill moved the wallets
	usd, err := store.Get(ctx, "USD:WALLET_1")
	require.NoError(t, err)
	got, _ := memory.ToFloat(usd)
	assert.Less(t, got, 100000.0)
	btc, err := store.Get(ctx, "BTC:WALLET_1")
	require.NoError(t, err)
	got, _ = memory.ToFloat(btc)
	assert.InDelta(t, 0.1, got, 1e-9)
}

func TestDuplicateIndexKeyFiresOnce(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 100000, 0)
	auto := buyAutomation()
	auto.Indexes = "BTCUSD:BOOK,BTCUSD:BOOK"
	brain.UpdateBrain(auto)
	ctx := context.Background()

	pushBook(t, up, 30001, 30000)
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"))

	pushBook(t, up, 29999, 29998)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 1, "one notification must place one order")
	require.NotNil(t, results[0].Order)
	assert.InDelta(t, 0.1, results[0].Order.Quantity, 1e-9)

	btc, err := store.Get(ctx, "BTC:WALLET_1")
	require.NoError(t, err)
	got, _ := memory.ToFloat(btc)
	assert.InDelta(t, 0.1, got, 1e-9, "a doubled fill would show here")
}

func TestLockedAutomationDropsUpdate(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 100000, 0)
	auto := buyAutomation()
	brain.UpdateBrain(auto)
	ctx := context.Background()

	pushBook(t, up, 30001, 30000)
	pushBook(t, up, 29999, 29998)

	brain.mu.Lock()
	brain.locks[auto.ID] = true
	brain.mu.Unlock()
	assert.Empty(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"), "locked rule must drop the update")

	brain.mu.Lock()
	delete(brain.locks, auto.ID)
	brain.mu.Unlock()
	assert.Len(t, brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK"), 1)
}

func TestInsufficientBalanceKeepsRuleAlive(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 5, 0) // nowhere near enough for 0.1 BTC
	auto := buyAutomation()
	brain.UpdateBrain(auto)
	ctx := context.Background()

	pushBook(t, up, 30001, 30000)
	pushBook(t, up, 29999, 29998)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError())
	assert.Contains(t, results[0].Text, "insufficient balance")

	// the failure must not unregister the automation
	brain.mu.Lock()
	_, registered := brain.automations[auto.ID]
	brain.mu.Unlock()
	assert.True(t, registered)
}

func TestSimulatedFillChargesCommissionUpfront(t *testing.T) {
	brain, store, up := testBrain(t)
	// covers the notional exactly but not the 0.1% commission
	seedWallets(t, store, 7499, 0)
	auto := buyAutomation()
	auto.Actions[0].OrderTemplate.Quantity = "0.25"
	brain.UpdateBrain(auto)
	ctx := context.Background()

	pushBook(t, up, 30001, 30000)
	pushBook(t, up, 29996, 29995)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError())
	assert.Contains(t, results[0].Text, "insufficient balance")

	// a rejected simulation must not touch the wallet
	usd, err := store.Get(ctx, "USD:WALLET_1")
	require.NoError(t, err)
	got, _ := memory.ToFloat(usd)
	assert.Equal(t, 7499.0, got)
}

func TestAlertActionsInOrderStopOnError(t *testing.T) {
	brain, store, up := testBrain(t)
	seedWallets(t, store, 5, 0)
	auto := buyAutomation()
	// alert first, then an order that will fail on balance
	auto.Actions = append([]models.Action{{Type: models.ActionAlertTelegram}}, auto.Actions...)
	brain.UpdateBrain(auto)
	ctx := context.Background()

	pushBook(t, up, 30001, 30000)
	pushBook(t, up, 29999, 29998)
	results := brain.OnMemoryUpdate(ctx, "BTCUSD:BOOK")
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0].Type)
	assert.True(t, results[1].IsError())
}

func TestEvalDecisionReportsBrokenAction(t *testing.T) {
	brain, store, _ := testBrain(t)
	auto := buyAutomation()
	auto.Conditions = ""
	auto.Actions = []models.Action{{Type: models.ActionOrder}} // nil template
	require.NoError(t, store.Set(context.Background(), "BTCUSD:BOOK", map[string]interface{}{}, false, 0))

	results := brain.EvalDecision(context.Background(), "BTCUSD:BOOK", auto)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError())
}
