package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/models"
)

func TestParseIndicator(t *testing.T) {
	in, ok := parseIndicator("RSI_14")
	require.True(t, ok)
	assert.Equal(t, "RSI", in.kind)
	assert.Equal(t, 14, in.period)

	in, ok = parseIndicator("EMA_9_1h")
	require.True(t, ok)
	assert.Equal(t, "EMA", in.kind)
	assert.Equal(t, 9, in.period)
	assert.Equal(t, "EMA_9_1h", in.index)

	for _, bad := range []string{"BOOK", "WALLET_1", "RSI_x", "MACD_12"} {
		_, ok := parseIndicator(bad)
		assert.False(t, ok, bad)
	}
}

func TestSMA(t *testing.T) {
	v, ok := sma([]float64{1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	assert.InDelta(t, 3, v, 1e-9)

	v, ok = sma([]float64{1, 2, 3, 4, 5}, 2)
	require.True(t, ok)
	assert.InDelta(t, 4.5, v, 1e-9, "only the trailing window counts")

	_, ok = sma([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestEMAConvergesTowardsRecentPrices(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10, 10}
	v, ok := ema(flat, 3)
	require.True(t, ok)
	assert.InDelta(t, 10, v, 1e-9)

	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	e, ok := ema(rising, 3)
	require.True(t, ok)
	s, _ := sma(rising, 8)
	assert.Greater(t, e, s, "EMA weighs recent closes harder")
	assert.Less(t, e, 8.0)
}

func TestRSIBounds(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	v, ok := rsi(up, 5)
	require.True(t, ok)
	assert.InDelta(t, 100, v, 1e-9, "pure gains read as 100")

	down := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	v, ok = rsi(down, 5)
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-9, "pure losses read as 0")

	mixed := []float64{44, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83}
	v, ok = rsi(mixed, 5)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 100.0)

	_, ok = rsi([]float64{1, 2, 3}, 5)
	assert.False(t, ok)
}

func TestIntervalMs(t *testing.T) {
	assert.Equal(t, int64(60_000), intervalMs("1m"))
	assert.Equal(t, int64(15*60_000), intervalMs("15m"))
	assert.Equal(t, int64(3_600_000), intervalMs("1h"))
	assert.Equal(t, int64(86_400_000), intervalMs("1d"))
	assert.Equal(t, int64(60_000), intervalMs(""))
	assert.Equal(t, int64(60_000), intervalMs("junk"))
}

func TestSplitKey(t *testing.T) {
	sym, idx := splitKey("BTCUSD:RSI_14_1h")
	assert.Equal(t, "BTCUSD", sym)
	assert.Equal(t, "RSI_14_1h", idx)
}

func TestCandleMapCarriesEveryField(t *testing.T) {
	m := candleMap(models.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 9, Time: 42, IsComplete: true})
	assert.Equal(t, 1.5, m["close"])
	assert.Equal(t, int64(42), m["time"])
	assert.Equal(t, true, m["isComplete"])
}
