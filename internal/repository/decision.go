package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeplan/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// LogDecision appends one decision row and returns its ledger id. Failures
// here are not swallowed: decisions must not be lost silently.
func (db *Database) LogDecision(ctx context.Context, d types.Decision) (int64, error) {
	var id int64
	err := db.q.QueryRow(ctx, `
		INSERT INTO history (
			timestamp, ticker, action, quantity, price,
			sentiment_score, duration_score,
			rsi_14, sma_20, sma_50, atr_14, high_water_mark,
			decision_reason, entry_price, exit_price, pnl, pnl_percent,
			env_bias, macro_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`,
		time.Now(), d.Ticker, string(d.Action), d.Quantity, nullDecimal(d.Price),
		nullFloat(d.SentimentScore), nullFloat(d.DurationScore),
		nullDecimal(d.RSI14), nullDecimal(d.SMA20), nullDecimal(d.SMA50),
		nullDecimal(d.ATR14), nullDecimal(d.HighWaterMark),
		d.Reason, nullDecimal(d.EntryPrice), nullDecimal(d.ExitPrice),
		nullDecimal(d.PnL), nullDecimal(d.PnLPercent),
		nullFloat(d.EnvBias), d.MacroReason,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecisionNotLogged, err)
	}
	return id, nil
}

// IsOnCooldown reports whether the ticker had a non-rejected BUY inside the
// window.
func (db *Database) IsOnCooldown(ctx context.Context, ticker string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)

	var count int
	err := db.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM history
		WHERE ticker = $1
		  AND action = 'BUY'
		  AND timestamp > $2
		  AND (execution_status IS NULL OR execution_status <> 'rejected')`,
		ticker, cutoff,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastBuyTime returns the timestamp of the most recent BUY for a ticker;
// ok=false when the ticker has never been bought.
func (db *Database) LastBuyTime(ctx context.Context, ticker string) (time.Time, bool, error) {
	var ts time.Time
	err := db.q.QueryRow(ctx, `
		SELECT timestamp FROM history
		WHERE ticker = $1 AND action = 'BUY'
		ORDER BY timestamp DESC
		LIMIT 1`,
		ticker,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// LatestScores returns the most recently logged sentiment/duration pair for
// a ticker; ok=false when none was ever logged. A row with a missing
// duration defaults to the 0.5 midpoint.
func (db *Database) LatestScores(ctx context.Context, ticker string) (types.Scores, bool, error) {
	var sentiment, duration sql.NullFloat64
	err := db.q.QueryRow(ctx, `
		SELECT sentiment_score, duration_score FROM history
		WHERE ticker = $1 AND sentiment_score IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1`,
		ticker,
	).Scan(&sentiment, &duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Scores{}, false, nil
		}
		return types.Scores{}, false, err
	}

	scores := types.Scores{Sentiment: sentiment.Float64, Duration: 0.5}
	if duration.Valid {
		scores.Duration = duration.Float64
	}
	return scores, true, nil
}

// UpdateExecution records the broker's fill report against a logged
// decision.
func (db *Database) UpdateExecution(ctx context.Context, decisionID int64, orderID, status string, filledPrice, filledQty decimal.NullDecimal, filledAt *time.Time) error {
	_, err := db.q.Exec(ctx, `
		UPDATE history SET
			order_id = $1,
			execution_status = $2,
			filled_price = $3,
			filled_qty = $4,
			filled_at = $5
		WHERE id = $6`,
		orderID, status, nullDecimal(filledPrice), nullDecimal(filledQty), filledAt, decisionID,
	)
	return err
}

// UpdateOutcome records ground-truth prices observed after the decision.
func (db *Database) UpdateOutcome(ctx context.Context, decisionID int64, price7d, price14d decimal.NullDecimal, outcomePnLPct sql.NullFloat64) error {
	_, err := db.q.Exec(ctx, `
		UPDATE history SET
			price_after_7d = $1,
			price_after_14d = $2,
			outcome_pnl_pct = $3
		WHERE id = $4`,
		nullDecimal(price7d), nullDecimal(price14d), nullFloat(outcomePnLPct), decisionID,
	)
	return err
}

func nullDecimal(d decimal.NullDecimal) any {
	if d.Valid {
		return d.Decimal
	}
	return nil
}

func nullFloat(f sql.NullFloat64) any {
	if f.Valid {
		return f.Float64
	}
	return nil
}
