package models

import "fmt"

// Index names used as the middle part of memory keys
// "{symbol}:{index}[_{interval}]". User-owned indexes append "_{userID}".
const (
	IndexBook           = "BOOK"
	IndexTicker         = "TICKER"
	IndexMarkPrice      = "MARK_PRICE"
	IndexLastLiq        = "LAST_LIQ"
	IndexWallet         = "WALLET"
	IndexFWallet        = "FWALLET"
	IndexPosition       = "POSITION"
	IndexLastOrder      = "LAST_ORDER"
	IndexFLastOrder     = "FLAST_ORDER"
	IndexLastCandle     = "LAST_CANDLE"
	IndexPreviousCandle = "PREVIOUS_CANDLE"
)

// MemoryKey builds "{symbol}:{index}" or "{symbol}:{index}_{interval}".
func MemoryKey(symbol, index, interval string) string {
	if interval != "" {
		return fmt.Sprintf("%s:%s_%s", symbol, index, interval)
	}
	return fmt.Sprintf("%s:%s", symbol, index)
}

// OwnedIndex appends the owner suffix: "WALLET" + 42 => "WALLET_42".
func OwnedIndex(index string, userID int64) string {
	return fmt.Sprintf("%s_%d", index, userID)
}
