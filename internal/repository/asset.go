package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ValidateTicker reports whether a ticker exists and is tradable. An unknown
// ticker is a definitive false, not an error; errors are reserved for the
// datasource being unreachable, which callers treat as fail-open.
func (db *Database) ValidateTicker(ctx context.Context, ticker string) (bool, error) {
	var tradable bool
	err := db.q.QueryRow(ctx,
		`SELECT tradable AND status = 'active' FROM assets WHERE ticker = $1`,
		ticker,
	).Scan(&tradable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return tradable, nil
}
