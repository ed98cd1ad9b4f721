package repository

import (
	"context"
	"time"

	"tradeplan/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// fakeQuerier satisfies querier and records the last statement it saw.
type fakeQuerier struct {
	row      pgx.Row
	rows     pgx.Rows
	queryErr error
	execErr  error

	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastSQL, q.lastArgs = sql, args
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL, q.lastArgs = sql, args
	return pgconn.CommandTag{}, q.execErr
}

func testDB(q querier) *Database {
	return &Database{q: q}
}

// fakeRow satisfies pgx.Row with a caller-supplied scan.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func errorRow(err error) fakeRow {
	return fakeRow{scan: func(...any) error { return err }}
}

// candleRows satisfies pgx.Rows over a fixed candle slice, in the order the
// query would return them (newest first).
type candleRows struct {
	candles []types.Candle
	idx     int
	rowsErr error
}

func (r *candleRows) Next() bool {
	r.idx++
	return r.idx <= len(r.candles)
}

func (r *candleRows) Scan(dest ...any) error {
	c := r.candles[r.idx-1]
	*(dest[0].(*int)) = c.AssetId
	*(dest[1].(*string)) = c.Ticker
	*(dest[2].(*decimal.Decimal)) = c.Open
	*(dest[3].(*decimal.Decimal)) = c.High
	*(dest[4].(*decimal.Decimal)) = c.Low
	*(dest[5].(*decimal.Decimal)) = c.Close
	*(dest[6].(*decimal.Decimal)) = c.Volume
	*(dest[7].(*time.Time)) = c.Timestamp
	return nil
}

func (r *candleRows) Close()                                       {}
func (r *candleRows) Err() error                                   { return r.rowsErr }
func (r *candleRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *candleRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *candleRows) Values() ([]any, error)                       { return nil, nil }
func (r *candleRows) RawValues() [][]byte                          { return nil }
func (r *candleRows) Conn() *pgx.Conn                              { return nil }
