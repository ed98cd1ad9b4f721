package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeplan/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func TestDatabase_FetchPrice(t *testing.T) {
	t.Run("returns the latest close", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*decimal.Decimal)) = decimal.NewFromFloat(505.25)
			return nil
		}}}
		got, err := testDB(q).FetchPrice(context.Background(), "NVDA")
		if err != nil {
			t.Fatalf("FetchPrice() error = %v", err)
		}
		if !got.Equal(decimal.NewFromFloat(505.25)) {
			t.Errorf("FetchPrice() = %s, want 505.25", got)
		}
	})

	t.Run("no candles maps to ErrPriceUnavailable", func(t *testing.T) {
		q := &fakeQuerier{row: errorRow(pgx.ErrNoRows)}
		_, err := testDB(q).FetchPrice(context.Background(), "GHOST")
		if !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("FetchPrice() error = %v, want ErrPriceUnavailable", err)
		}
	})
}

func TestDatabase_FetchHistory(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC)
	}
	bar := func(d int, close float64) types.Candle {
		return types.Candle{
			AssetId:   1,
			Ticker:    "NVDA",
			Open:      decimal.NewFromFloat(close),
			High:      decimal.NewFromFloat(close + 1),
			Low:       decimal.NewFromFloat(close - 1),
			Close:     decimal.NewFromFloat(close),
			Volume:    decimal.NewFromInt(1000),
			Timestamp: day(d),
		}
	}

	t.Run("reverses to chronological order", func(t *testing.T) {
		// The query returns newest first.
		q := &fakeQuerier{rows: &candleRows{candles: []types.Candle{
			bar(3, 102), bar(2, 101), bar(1, 100),
		}}}
		got, err := testDB(q).FetchHistory(context.Background(), "NVDA", 60)
		if err != nil {
			t.Fatalf("FetchHistory() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("FetchHistory() len = %d, want 3", len(got))
		}
		for i := 1; i < len(got); i++ {
			if !got[i].Timestamp.After(got[i-1].Timestamp) {
				t.Fatalf("candles not chronological: %v then %v", got[i-1].Timestamp, got[i].Timestamp)
			}
		}
		if !got[0].Close.Equal(decimal.NewFromInt(100)) {
			t.Errorf("oldest close = %s, want 100", got[0].Close)
		}
	})

	t.Run("empty result maps to ErrNoCandles", func(t *testing.T) {
		q := &fakeQuerier{rows: &candleRows{}}
		_, err := testDB(q).FetchHistory(context.Background(), "GHOST", 60)
		if !errors.Is(err, ErrNoCandles) {
			t.Fatalf("FetchHistory() error = %v, want ErrNoCandles", err)
		}
	})

	t.Run("row iteration errors propagate", func(t *testing.T) {
		rowsErr := errors.New("broken stream")
		q := &fakeQuerier{rows: &candleRows{candles: []types.Candle{bar(1, 100)}, rowsErr: rowsErr}}
		_, err := testDB(q).FetchHistory(context.Background(), "NVDA", 60)
		if !errors.Is(err, rowsErr) {
			t.Fatalf("FetchHistory() error = %v, want %v", err, rowsErr)
		}
	})
}
