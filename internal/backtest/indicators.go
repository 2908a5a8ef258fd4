package backtest

import (
	"strconv"
	"strings"

	"hydra_bot/internal/models"
)

// Replay recomputes only the indicators the selected automations
// actually reference. An indicator index looks like "RSI_14" or
// "EMA_9_1h"; the optional interval suffix is carried through to the
// memory key untouched.

type indicator struct {
	kind   string // RSI, EMA, SMA
	period int
	index  string // full index name, interval suffix included
}

func parseIndicator(index string) (indicator, bool) {
	parts := strings.Split(index, "_")
	if len(parts) < 2 {
		return indicator{}, false
	}
	kind := parts[0]
	switch kind {
	case "RSI", "EMA", "SMA":
	default:
		return indicator{}, false
	}
	period, err := strconv.Atoi(parts[1])
	if err != nil || period < 1 {
		return indicator{}, false
	}
	return indicator{kind: kind, period: period, index: index}, true
}

func (in indicator) calc(window *models.OHLC) (float64, bool) {
	switch in.kind {
	case "SMA":
		return sma(window.Close, in.period)
	case "EMA":
		return ema(window.Close, in.period)
	case "RSI":
		return rsi(window.Close, in.period)
	}
	return 0, false
}

func sma(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

func ema(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	// seed with the SMA of the first period, then smooth forward
	var seed float64
	for _, c := range closes[:period] {
		seed += c
	}
	value := seed / float64(period)
	k := 2 / (float64(period) + 1)
	for _, c := range closes[period:] {
		value = c*k + value*(1-k)
	}
	return value, true
}

// rsi is Wilder's RSI: smoothed average gains over smoothed average
// losses across the whole processed window.
func rsi(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if diff > 0 {
			g = diff
		} else {
			l = -diff
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
