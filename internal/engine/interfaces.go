package engine

import (
	"context"
	"time"

	"tradeplan/types"

	"github.com/shopspring/decimal"
)

// marketData is the market-data collaborator. Any error from FetchPrice or
// FetchHistory is treated as "unavailable" by the engine: the affected rule
// is skipped, the cycle continues.
type marketData interface {
	FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	FetchHistory(ctx context.Context, ticker string, days int) ([]types.Candle, error)
	ValidateTicker(ctx context.Context, ticker string) (bool, error)
}

// decisionLedger is the persistent decision store. Read failures degrade to
// neutral answers inside the engine; LogDecision failures propagate because
// decisions must not be lost silently.
type decisionLedger interface {
	LogDecision(ctx context.Context, d types.Decision) (int64, error)
	IsOnCooldown(ctx context.Context, ticker string, window time.Duration) (bool, error)
	LastBuyTime(ctx context.Context, ticker string) (time.Time, bool, error)
	LatestScores(ctx context.Context, ticker string) (types.Scores, bool, error)
}
