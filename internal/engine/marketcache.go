package engine

import (
	"context"

	"tradeplan/types"

	"github.com/shopspring/decimal"
)

// MarketCache memoizes price and history lookups per ticker. One cache is
// owned by one planning cycle; it is never shared across cycles, so stale
// quotes cannot leak into a later run. Errors are memoized too: an
// unavailable ticker stays unavailable for the rest of the cycle.
type MarketCache struct {
	market marketData

	prices    map[string]priceResult
	histories map[string]historyResult
}

type priceResult struct {
	price decimal.Decimal
	err   error
}

type historyResult struct {
	candles []types.Candle
	err     error
}

func NewMarketCache(market marketData) *MarketCache {
	return &MarketCache{
		market:    market,
		prices:    make(map[string]priceResult),
		histories: make(map[string]historyResult),
	}
}

func (m *MarketCache) FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if r, ok := m.prices[ticker]; ok {
		return r.price, r.err
	}
	price, err := m.market.FetchPrice(ctx, ticker)
	m.prices[ticker] = priceResult{price: price, err: err}
	return price, err
}

func (m *MarketCache) FetchHistory(ctx context.Context, ticker string, days int) ([]types.Candle, error) {
	if r, ok := m.histories[ticker]; ok {
		return r.candles, r.err
	}
	candles, err := m.market.FetchHistory(ctx, ticker, days)
	m.histories[ticker] = historyResult{candles: candles, err: err}
	return candles, err
}

func (m *MarketCache) ValidateTicker(ctx context.Context, ticker string) (bool, error) {
	return m.market.ValidateTicker(ctx, ticker)
}
