package engine

import (
	"context"
	"errors"
	"time"

	"tradeplan/types"

	"github.com/shopspring/decimal"
)

var errDataSourceDown = errors.New("datasource down")

// fakeMarket answers from fixed maps; a ticker missing from a map is
// "unavailable" for that lookup. Call counts back the memoization tests.
type fakeMarket struct {
	prices      map[string]decimal.Decimal
	histories   map[string][]types.Candle
	notTradable map[string]bool
	validateErr error

	priceCalls    map[string]int
	historyCalls  map[string]int
	validateCalls map[string]int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		prices:        make(map[string]decimal.Decimal),
		histories:     make(map[string][]types.Candle),
		notTradable:   make(map[string]bool),
		priceCalls:    make(map[string]int),
		historyCalls:  make(map[string]int),
		validateCalls: make(map[string]int),
	}
}

func (m *fakeMarket) FetchPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	m.priceCalls[ticker]++
	price, ok := m.prices[ticker]
	if !ok {
		return decimal.Zero, errDataSourceDown
	}
	return price, nil
}

func (m *fakeMarket) FetchHistory(_ context.Context, ticker string, _ int) ([]types.Candle, error) {
	m.historyCalls[ticker]++
	candles, ok := m.histories[ticker]
	if !ok {
		return nil, errDataSourceDown
	}
	return candles, nil
}

func (m *fakeMarket) ValidateTicker(_ context.Context, ticker string) (bool, error) {
	m.validateCalls[ticker]++
	if m.validateErr != nil {
		return false, m.validateErr
	}
	return !m.notTradable[ticker], nil
}

// fakeLedger records every decision and answers reads from fixed maps.
type fakeLedger struct {
	decisions []types.Decision
	nextID    int64

	onCooldown map[string]bool
	lastBuy    map[string]time.Time
	scores     map[string]types.Scores

	logErr      error
	cooldownErr error
	lastBuyErr  error
	scoresErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		onCooldown: make(map[string]bool),
		lastBuy:    make(map[string]time.Time),
		scores:     make(map[string]types.Scores),
	}
}

func (l *fakeLedger) LogDecision(_ context.Context, d types.Decision) (int64, error) {
	if l.logErr != nil {
		return 0, l.logErr
	}
	l.nextID++
	l.decisions = append(l.decisions, d)
	return l.nextID, nil
}

func (l *fakeLedger) IsOnCooldown(_ context.Context, ticker string, _ time.Duration) (bool, error) {
	if l.cooldownErr != nil {
		return false, l.cooldownErr
	}
	return l.onCooldown[ticker], nil
}

func (l *fakeLedger) LastBuyTime(_ context.Context, ticker string) (time.Time, bool, error) {
	if l.lastBuyErr != nil {
		return time.Time{}, false, l.lastBuyErr
	}
	t, ok := l.lastBuy[ticker]
	return t, ok, nil
}

func (l *fakeLedger) LatestScores(_ context.Context, ticker string) (types.Scores, bool, error) {
	if l.scoresErr != nil {
		return types.Scores{}, false, l.scoresErr
	}
	s, ok := l.scores[ticker]
	return s, ok, nil
}

func (l *fakeLedger) byAction(action types.DecisionAction) []types.Decision {
	var out []types.Decision
	for _, d := range l.decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

// mockCandles builds bars with high=close+1 and low=close-1, giving a flat
// or unit-step close series a true range of exactly 2 per bar.
func mockCandles(closes ...float64) []types.Candle {
	candles := make([]types.Candle, 0, len(closes))
	for i, c := range closes {
		candles = append(candles, types.Candle{
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		})
	}
	return candles
}

func flatCloses(n int, value float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = value
	}
	return closes
}

func decliningCloses(n int, from, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = from - float64(i)*step
	}
	return closes
}

func holding(ticker string, qty, entry float64, lastPrice *float64) types.PositionSnapshot {
	pos := types.PositionSnapshot{
		Ticker:        ticker,
		Quantity:      decimal.NewFromFloat(qty),
		AvgEntryPrice: decimal.NewFromFloat(entry),
	}
	if lastPrice != nil {
		pos.LastPrice = decimal.NewNullDecimal(decimal.NewFromFloat(*lastPrice))
	}
	return pos
}

func price(v float64) *float64 { return &v }

func viewOf(positions ...types.PositionSnapshot) types.PortfolioView {
	view := types.PortfolioView{
		Positions: make(map[string]types.PositionSnapshot, len(positions)),
		Time:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, pos := range positions {
		view.Positions[pos.Ticker] = pos
	}
	return view
}
