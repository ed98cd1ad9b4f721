package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioView is a read-only snapshot of the live portfolio taken at the
// start of a planning cycle. The engine never mutates it.
type PortfolioView struct {
	Positions map[string]PositionSnapshot
	Time      time.Time
}

// PositionSnapshot is one holding. Quantity is positive; the engine assumes
// no live short positions. LastPrice and MarketValue are only present when
// the broker supplied live data.
type PositionSnapshot struct {
	Ticker        string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	LastPrice     decimal.NullDecimal
	MarketValue   decimal.NullDecimal
}
