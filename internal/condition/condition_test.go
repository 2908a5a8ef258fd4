package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(prevAsk, curAsk float64) map[string]interface{} {
	return map[string]interface{}{
		"previous": map[string]interface{}{"bestAsk": prevAsk},
		"current":  map[string]interface{}{"bestAsk": curAsk},
	}
}

func TestParseAndEval(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		memory map[string]interface{}
		want   bool
	}{
		{
			name:   "single numeric clause true",
			raw:    "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000",
			memory: map[string]interface{}{"BTCUSDT:BOOK": book(30001, 29999)},
			want:   true,
		},
		{
			name:   "single numeric clause false",
			raw:    "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000",
			memory: map[string]interface{}{"BTCUSDT:BOOK": book(29998, 30001)},
			want:   false,
		},
		{
			name: "conjunction",
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk>100 && MEMORY['BTCUSDT:BOOK'].current.bestAsk<200",
			memory: map[string]interface{}{
				"BTCUSDT:BOOK": book(0, 150),
			},
			want: true,
		},
		{
			name: "reference against reference",
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk>MEMORY['BTCUSDT:BOOK'].previous.bestAsk",
			memory: map[string]interface{}{
				"BTCUSDT:BOOK": book(100, 101),
			},
			want: true,
		},
		{
			name:   "missing fact is false not error",
			raw:    "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000",
			memory: map[string]interface{}{},
			want:   false,
		},
		{
			name:   "missing path is false",
			raw:    "MEMORY['BTCUSDT:BOOK'].current.nope<30000",
			memory: map[string]interface{}{"BTCUSDT:BOOK": book(1, 1)},
			want:   false,
		},
		{
			name:   "string equality",
			raw:    "MEMORY['BTCUSDT:LAST_ORDER_1'].side=='BUY'",
			memory: map[string]interface{}{"BTCUSDT:LAST_ORDER_1": map[string]interface{}{"side": "BUY"}},
			want:   true,
		},
		{
			name:   "plain numeric fact",
			raw:    "MEMORY['USDT:WALLET_1']>=500",
			memory: map[string]interface{}{"USDT:WALLET_1": 500.0},
			want:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, expr.Eval(tc.memory))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{
		"MEMORY['BTCUSDT:BOOK'].current.bestAsk",
		"whatever<30000",
		"MEMORY['BTCUSDT:BOOK].current.bestAsk<30000",
		"MEMORY['BTCUSDT:BOOK'].current.bestAsk<abc",
	} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestStringRoundTrip(t *testing.T) {
	raw := "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000 && MEMORY['BTCUSDT:BOOK'].previous.bestAsk>=30000"
	expr, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, expr.String())
}

func TestInvert(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000",
			want: "MEMORY['BTCUSDT:BOOK'].previous.bestAsk>30000",
		},
		{
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk>=30000",
			want: "MEMORY['BTCUSDT:BOOK'].previous.bestAsk<30000",
		},
		{
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk<=30000",
			want: "MEMORY['BTCUSDT:BOOK'].previous.bestAsk>30000",
		},
		{
			raw:  "MEMORY['BTCUSDT:BOOK'].current.bestAsk==30000",
			want: "MEMORY['BTCUSDT:BOOK'].previous.bestAsk!=30000",
		},
	}

	for _, tc := range tests {
		expr, err := Parse(tc.raw)
		require.NoError(t, err)

		inv, ok := Invert(expr, "BTCUSDT:BOOK")
		require.True(t, ok)
		assert.Equal(t, tc.want, inv.String())
	}
}

func TestInvertSkipsClausesWithoutCurrent(t *testing.T) {
	expr, err := Parse("MEMORY['USDT:WALLET_1']>=500")
	require.NoError(t, err)

	_, ok := Invert(expr, "USDT:WALLET_1")
	assert.False(t, ok)
}

func TestInvertPicksTriggeringKey(t *testing.T) {
	raw := "MEMORY['ETHUSDT:BOOK'].current.bestBid>100 && MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000"
	expr, err := Parse(raw)
	require.NoError(t, err)

	inv, ok := Invert(expr, "BTCUSDT:BOOK")
	require.True(t, ok)
	assert.Equal(t, "MEMORY['BTCUSDT:BOOK'].previous.bestAsk>30000", inv.String())
}

func TestEdgeTriggeredFiring(t *testing.T) {
	// base condition plus its inversion only holds on the transition
	raw := "MEMORY['BTCUSDT:BOOK'].current.bestAsk<30000"
	expr, err := Parse(raw)
	require.NoError(t, err)

	inv, ok := Invert(expr, "BTCUSDT:BOOK")
	require.True(t, ok)
	full := &Expr{Clauses: append(append([]Clause{}, expr.Clauses...), inv)}

	// previous above, current below: fires
	assert.True(t, full.Eval(map[string]interface{}{"BTCUSDT:BOOK": book(30001, 29999)}))
	// still below on the next tick: does not fire again
	assert.False(t, full.Eval(map[string]interface{}{"BTCUSDT:BOOK": book(29999, 29998)}))
}
