package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/logger"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	ctx := context.Background()

	v, err := store.Get(ctx, "BTCUSD:BOOK")
	require.NoError(t, err)
	assert.Nil(t, v, "absent key reads as nil, not an error")

	require.NoError(t, store.Set(ctx, "BTCUSD:BOOK", 1.5, false, 0))
	v, err = store.Get(ctx, "BTCUSD:BOOK")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	all, err := store.GetAll(ctx, "BTCUSD:BOOK", "ETHUSD:BOOK")
	require.NoError(t, err)
	assert.Equal(t, 1.5, all["BTCUSD:BOOK"])
	assert.Nil(t, all["ETHUSD:BOOK"])

	require.NoError(t, store.Del(ctx, "BTCUSD:BOOK"))
	v, err = store.Get(ctx, "BTCUSD:BOOK")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLocalStoreNotifyAndSuppression(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	ctx := context.Background()

	var calls []string
	store.Subscribe("BTCUSD:BOOK", func(key string, _ interface{}) {
		calls = append(calls, key)
	})

	require.NoError(t, store.Set(ctx, "BTCUSD:BOOK", 1, false, 0))
	assert.Empty(t, calls, "notify=false must not wake subscribers")

	require.NoError(t, store.Set(ctx, "BTCUSD:BOOK", 2, true, 0))
	require.NoError(t, store.Set(ctx, "ETHUSD:BOOK", 3, true, 0))
	assert.Equal(t, []string{"BTCUSD:BOOK"}, calls)

	store.Unsubscribe("BTCUSD:BOOK")
	require.NoError(t, store.Set(ctx, "BTCUSD:BOOK", 4, true, 0))
	assert.Len(t, calls, 1)
}

func TestLocalStorePanickingHandlerDoesNotStopOthers(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	ctx := context.Background()

	ran := false
	store.Subscribe("K", func(string, interface{}) { panic("boom") })
	store.Subscribe("K", func(string, interface{}) { ran = true })

	require.NoError(t, store.Set(ctx, "K", 1, true, 0))
	assert.True(t, ran)
}

func TestLocalStoreSearch(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "USD:WALLET_1", 100.0, false, 0))
	require.NoError(t, store.Set(ctx, "BTC:WALLET_1", 2.0, false, 0))
	require.NoError(t, store.Set(ctx, "BTC:WALLET_2", 9.0, false, 0))

	facts, err := store.Search(ctx, "*:WALLET_1")
	require.NoError(t, err)
	assert.Len(t, facts, 2)
	assert.Equal(t, 100.0, facts["USD:WALLET_1"])
}

func TestUpdaterBookEnvelope(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	up := NewUpdater(store, false)
	ctx := context.Background()

	book := map[string]interface{}{
		"symbol": "BTCUSD", "updateId": 7,
		"bestAsk": "30000.10", "bestBid": "30000.00",
		"bestAskQty": "1", "bestBidQty": "2",
	}
	require.NoError(t, up.Update(ctx, "BTCUSD", models.IndexBook, "", book, false))

	v, err := store.Get(ctx, "BTCUSD:BOOK")
	require.NoError(t, err)
	env := v.(map[string]interface{})
	current := env["current"].(map[string]interface{})
	assert.Equal(t, 30000.10, current["bestAsk"], "numeric strings parse")
	assert.NotContains(t, current, "symbol")
	assert.NotContains(t, current, "updateId")
	assert.NotContains(t, current, "bestAskQty")

	// first write mirrors current into previous
	assert.Equal(t, current, env["previous"])

	book2 := map[string]interface{}{"bestAsk": "30001.00", "bestBid": "30000.90"}
	require.NoError(t, up.Update(ctx, "BTCUSD", models.IndexBook, "", book2, false))
	v, _ = store.Get(ctx, "BTCUSD:BOOK")
	env = v.(map[string]interface{})
	assert.Equal(t, 30000.10, env["previous"].(map[string]interface{})["bestAsk"])
	assert.Equal(t, 30001.00, env["current"].(map[string]interface{})["bestAsk"])
}

func TestUpdaterLastOrderNormalization(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	up := NewUpdater(store, false)
	ctx := context.Background()

	order := &models.Order{
		Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeMarket,
		Status: "FILLED", Quantity: 0.1, AvgPrice: 30000,
	}
	key := models.OwnedIndex(models.IndexLastOrder, 1)
	require.NoError(t, up.Update(ctx, "BTCUSD", key, "", order, false))

	v, err := store.Get(ctx, "BTCUSD:LAST_ORDER_1")
	require.NoError(t, err)
	m := v.(map[string]interface{})
	assert.Equal(t, "FILLED", m["status"])
	assert.Equal(t, 0.1, m["quantity"])
	assert.Equal(t, 30000.0, m["avgPrice"])
}

func TestUpdaterIntervalSuffixAndBatch(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	up := NewUpdater(store, false)
	ctx := context.Background()

	require.NoError(t, up.Update(ctx, "BTCUSD", "RSI_14", "1h", 42.0, false))
	v, err := store.Get(ctx, "BTCUSD:RSI_14_1h")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	require.NoError(t, up.UpdateAll(ctx, "BTCUSD", map[string]interface{}{
		"EMA_9": 29000.0, "SMA_20": 28000.0,
	}, "1h", false))
	v, _ = store.Get(ctx, "BTCUSD:EMA_9_1h")
	assert.Equal(t, 29000.0, v)
}

func TestClearWallet(t *testing.T) {
	logger.Init()
	store := NewLocalStore()
	up := NewUpdater(store, false)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "USD:WALLET_1", 100.0, false, 0))
	require.NoError(t, store.Set(ctx, "BTC:WALLET_1", 2.0, false, 0))
	require.NoError(t, store.Set(ctx, "BTC:WALLET_2", 9.0, false, 0))

	require.NoError(t, up.ClearWallet(ctx, 1))

	facts, err := store.Search(ctx, "*:WALLET_*")
	require.NoError(t, err)
	assert.Len(t, facts, 1)
	assert.Contains(t, facts, "BTC:WALLET_2")
}
