package models

import "fmt"

type Candle struct {
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	Time       int64   `json:"time"`
	IsComplete bool    `json:"isComplete"`
}

// OHLC is a column-oriented candle series, the layout the exchange
// klines endpoint returns and the backtest driver iterates.
type OHLC struct {
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
	Time   []int64   `json:"time"`
}

func (o *OHLC) Len() int { return len(o.Time) }

func (o *OHLC) At(i int) Candle {
	return Candle{
		Open:       o.Open[i],
		High:       o.High[i],
		Low:        o.Low[i],
		Close:      o.Close[i],
		Volume:     o.Volume[i],
		Time:       o.Time[i],
		IsComplete: true,
	}
}

// Slice returns the first i+1 candles, the processed window indicator
// calculations run over during replay.
func (o *OHLC) Slice(i int) *OHLC {
	return &OHLC{
		Open:   o.Open[:i+1],
		High:   o.High[:i+1],
		Low:    o.Low[:i+1],
		Close:  o.Close[:i+1],
		Volume: o.Volume[:i+1],
		Time:   o.Time[:i+1],
	}
}

func (o *OHLC) Append(other *OHLC) {
	o.Open = append(o.Open, other.Open...)
	o.High = append(o.High, other.High...)
	o.Low = append(o.Low, other.Low...)
	o.Close = append(o.Close, other.Close...)
	o.Volume = append(o.Volume, other.Volume...)
	o.Time = append(o.Time, other.Time...)
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
