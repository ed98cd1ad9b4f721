package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one daily OHLC bar for a ticker, ordered by Timestamp.
type Candle struct {
	AssetId   int             `json:"id"`
	Ticker    string          `json:"ticker"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Closes extracts the close series from a candle slice, preserving order.
func Closes(candles []Candle) []decimal.Decimal {
	closes := make([]decimal.Decimal, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	return closes
}
