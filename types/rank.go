package types

import "github.com/shopspring/decimal"

// EntryKind distinguishes new candidates from existing holdings in the
// global ranked list.
type EntryKind string

const (
	EntryNewSignal EntryKind = "new_signal"
	EntryHolding   EntryKind = "holding"
)

// RankEntry is a transient ranking record. Score is always the product of
// the sentiment and duration scores at the time of ranking.
type RankEntry struct {
	Ticker    string
	Kind      EntryKind
	Score     float64
	Sentiment float64
	Duration  float64
	Price     decimal.Decimal
	Quantity  decimal.Decimal // holdings only
	Reason    string
}
