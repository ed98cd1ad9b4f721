// Package indicator holds the pure technical primitives the engine consumes.
// Every function reports availability explicitly: a series too short for the
// requested period yields ok=false, never a padded or extrapolated value.
package indicator

import (
	"tradeplan/types"

	"github.com/shopspring/decimal"
)

const (
	DefaultATRPeriod = 14
	DefaultRSIPeriod = 14
)

var hundred = decimal.NewFromInt(100)

// ATR is the rolling mean of the true range over the trailing `period` bars,
// evaluated at the most recent bar. True range per bar is
// max(high-low, |high-prevClose|, |low-prevClose|). Requires period+1 bars.
func ATR(candles []types.Candle, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := decimal.Max(
			high.Sub(low),
			high.Sub(prevClose).Abs(),
			low.Sub(prevClose).Abs(),
		)
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// RSI is the relative strength index at the latest point, using the simple
// average of gains and losses over the trailing `period` day-over-day
// deltas. Requires period+1 points. A flat window (no gains, no losses) is
// unavailable rather than a made-up midpoint; an all-gain window is 100.
func RSI(series []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(series) < period+1 {
		return decimal.Zero, false
	}

	gains := decimal.Zero
	losses := decimal.Zero
	for i := len(series) - period; i < len(series); i++ {
		delta := series[i].Sub(series[i-1])
		if delta.IsPositive() {
			gains = gains.Add(delta)
		} else {
			losses = losses.Add(delta.Neg())
		}
	}

	if losses.IsZero() {
		if gains.IsZero() {
			return decimal.Zero, false
		}
		return hundred, true
	}

	rs := gains.Div(losses)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return rsi, true
}

// SMA is the rolling mean over the trailing `period` points. Requires
// `period` points.
func SMA(series []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(series) < period {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for i := len(series) - period; i < len(series); i++ {
		sum = sum.Add(series[i])
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// HighestHigh is the maximum high over the trailing `n` bars. Requires n
// bars.
func HighestHigh(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(candles) < n {
		return decimal.Zero, false
	}

	highest := candles[len(candles)-n].High
	for _, c := range candles[len(candles)-n:] {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
	}
	return highest, true
}
