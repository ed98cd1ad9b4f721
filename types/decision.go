package types

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// DecisionAction is the audited outcome class of one engine decision.
type DecisionAction string

const (
	DecisionBuy     DecisionAction = "BUY"
	DecisionSell    DecisionAction = "SELL"
	DecisionHold    DecisionAction = "HOLD"
	DecisionSkip    DecisionAction = "SKIP"
	DecisionDefense DecisionAction = "DEFENSE_MODE"
)

// Decision is one row of the append-only decision ledger. Every skip, hold,
// sell, and buy the engine takes is recorded with its full indicator
// context, whether or not it produced an order. Indicator fields use
// NullDecimal so "unavailable" stays distinct from zero.
type Decision struct {
	Ticker         string
	Action         DecisionAction
	Quantity       decimal.Decimal
	Price          decimal.NullDecimal
	SentimentScore sql.NullFloat64
	DurationScore  sql.NullFloat64
	RSI14          decimal.NullDecimal
	SMA20          decimal.NullDecimal
	SMA50          decimal.NullDecimal
	ATR14          decimal.NullDecimal
	HighWaterMark  decimal.NullDecimal
	EntryPrice     decimal.NullDecimal
	ExitPrice      decimal.NullDecimal
	PnL            decimal.NullDecimal
	PnLPercent     decimal.NullDecimal
	EnvBias        sql.NullFloat64
	MacroReason    string
	Reason         string
}

// Scores is the most recently logged sentiment/duration pair for a ticker.
type Scores struct {
	Sentiment float64
	Duration  float64
}
