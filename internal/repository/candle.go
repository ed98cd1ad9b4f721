package repository

import (
	"context"
	"errors"

	"tradeplan/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// FetchPrice returns the most recent daily close for a ticker.
func (db *Database) FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := db.q.QueryRow(ctx, `
		SELECT c.close
		FROM candles c
		JOIN assets a ON a.id = c.asset_id
		WHERE a.ticker = $1
		ORDER BY c.ts DESC
		LIMIT 1`,
		ticker,
	).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrPriceUnavailable
		}
		return decimal.Zero, err
	}
	return price, nil
}

// FetchHistory returns up to `days` daily bars for a ticker, oldest first.
func (db *Database) FetchHistory(ctx context.Context, ticker string, days int) ([]types.Candle, error) {
	rows, err := db.q.Query(ctx, `
		SELECT c.asset_id, a.ticker, c.open, c.high, c.low, c.close, c.volume, c.ts
		FROM candles c
		JOIN assets a ON a.id = c.asset_id
		WHERE a.ticker = $1
		ORDER BY c.ts DESC
		LIMIT $2`,
		ticker, days,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []types.Candle
	for rows.Next() {
		var c types.Candle
		if err := rows.Scan(&c.AssetId, &c.Ticker, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Timestamp); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}

	// Query is newest-first for the LIMIT; callers want chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}
