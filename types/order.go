package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a write-once output of one planning cycle. Fractional orders are
// market-only; limit orders always carry a valid LimitPrice.
type Order struct {
	Ticker     string              `json:"ticker"`
	Side       Side                `json:"action"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Fractional bool                `json:"fractional"`
	OrderType  OrderType           `json:"order_type"`
	LimitPrice decimal.NullDecimal `json:"limit_price,omitempty"`
	Reason     string              `json:"reason"`
	DecisionID int64               `json:"decision_id"`
	CreatedAt  time.Time           `json:"created_at"`
}

func NewLimitOrder(ticker string, side Side, quantity, limitPrice decimal.Decimal, reason string, decisionID int64, createdAt time.Time) Order {
	return Order{
		Ticker:     ticker,
		Side:       side,
		Quantity:   quantity,
		OrderType:  TypeLimit,
		LimitPrice: decimal.NewNullDecimal(limitPrice),
		Reason:     reason,
		DecisionID: decisionID,
		CreatedAt:  createdAt,
	}
}

func NewMarketOrder(ticker string, side Side, quantity decimal.Decimal, fractional bool, reason string, decisionID int64, createdAt time.Time) Order {
	return Order{
		Ticker:     ticker,
		Side:       side,
		Quantity:   quantity,
		Fractional: fractional,
		OrderType:  TypeMarket,
		Reason:     reason,
		DecisionID: decisionID,
		CreatedAt:  createdAt,
	}
}

// Plan is the full output of one planning cycle: the ordered order list plus
// the macro-context envelope it was generated under.
type Plan struct {
	Orders      []Order   `json:"orders"`
	EnvBias     float64   `json:"env_bias"`
	MacroReason string    `json:"macro_reason"`
	GeneratedAt time.Time `json:"generated_at"`
}
