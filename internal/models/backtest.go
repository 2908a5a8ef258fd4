package models

import "time"

type Backtest struct {
	ID          int64
	UserID      int64
	Symbol      string
	StartDate   time.Time
	EndDate     time.Time
	Description string

	StartBase  float64
	StartQuote float64
	EndBase    float64
	EndQuote   float64
	BasePerc   float64
	QuotePerc  float64
}
