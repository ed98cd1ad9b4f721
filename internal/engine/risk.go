package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeplan/internal/indicator"
	"tradeplan/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var ErrInvalidSnapshot = errors.New("invalid portfolio snapshot")

const hwmLookbackBars = 5

var (
	zeroLossGainThreshold = decimal.NewFromFloat(0.05)  // gain above which the stop is raised
	zeroLossStopFactor    = decimal.NewFromFloat(1.005) // guaranteed +0.5% buffer on entry
)

// riskEvaluator applies the per-holding sell rules for one planning cycle.
// Rules are an explicit ordered list; the first trigger wins and terminates
// evaluation for that holding, so a holding can never carry two conflicting
// sell reasons. Every holding gets a ledger row (hold or sell) with its
// computed indicator values attached.
type riskEvaluator struct {
	cfg    Config
	market marketData
	ledger decisionLedger
	log    zerolog.Logger
	now    func() time.Time

	atrMultiplier decimal.Decimal // per-cycle value, tightened in defense/freeze
	panicMode     bool            // disables the grace period
}

type ruleVerdict int

const (
	verdictNone ruleVerdict = iota
	verdictSell
	verdictHold
)

// holdingContext carries the per-holding inputs and the intermediate values
// the rules compute, so they end up in the audit row either way.
type holdingContext struct {
	ticker   string
	quantity decimal.Decimal
	entry    decimal.Decimal
	price    decimal.Decimal
	candles  []types.Candle

	atr14 decimal.NullDecimal
	sma20 decimal.NullDecimal
	sma50 decimal.NullDecimal

	stopPrice      decimal.Decimal
	zeroLossActive bool
	highWaterMark  decimal.NullDecimal
}

type sellRule struct {
	name     string
	evaluate func(e *riskEvaluator, ctx context.Context, hc *holdingContext) (ruleVerdict, string)
}

// rules returns the sell triggers in strict priority order.
func (e *riskEvaluator) rules() []sellRule {
	return []sellRule{
		{name: "dynamic stop-loss", evaluate: (*riskEvaluator).stopLossRule},
		{name: "trailing take-profit", evaluate: (*riskEvaluator).trailingProfitRule},
		{name: "trend breakdown", evaluate: (*riskEvaluator).trendBreakdownRule},
	}
}

// evaluate runs the rules over every long holding. It returns the sell
// orders it issued plus the aggregate estimated proceeds, which the planner
// recycles into the remaining budget.
func (e *riskEvaluator) evaluate(ctx context.Context, view types.PortfolioView) ([]types.Order, decimal.Decimal, error) {
	var orders []types.Order
	proceeds := decimal.Zero

	for _, ticker := range sortedTickers(view.Positions) {
		pos := view.Positions[ticker]
		if !pos.Quantity.IsPositive() {
			continue
		}
		if pos.AvgEntryPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: %s has negative entry price %s",
				ErrInvalidSnapshot, ticker, pos.AvgEntryPrice)
		}

		hc, ok, err := e.buildContext(ctx, ticker, pos)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !ok {
			continue
		}

		verdict, reason, ruleName := verdictNone, "", ""
		for _, rule := range e.rules() {
			verdict, reason = rule.evaluate(e, ctx, hc)
			if verdict != verdictNone {
				ruleName = rule.name
				break
			}
		}

		switch verdict {
		case verdictSell:
			order, saleValue, err := e.recordSell(ctx, hc, ruleName, reason)
			if err != nil {
				return nil, decimal.Zero, err
			}
			orders = append(orders, order)
			proceeds = proceeds.Add(saleValue)

		case verdictHold:
			// Terminal hold (grace period): already explained by the rule.
			if _, err := e.ledger.LogDecision(ctx, e.holdDecision(hc, reason)); err != nil {
				return nil, decimal.Zero, err
			}
			e.log.Info().Str("ticker", hc.ticker).Str("rule", ruleName).Msg(reason)

		default:
			safeReason := "Safe from ATR Stop & Trailing TP & Whipsaw Breakdown" + indicatorStatus(hc)
			if _, err := e.ledger.LogDecision(ctx, e.holdDecision(hc, safeReason)); err != nil {
				return nil, decimal.Zero, err
			}
			e.log.Info().
				Str("ticker", hc.ticker).
				Str("price", hc.price.StringFixed(2)).
				Str("stop", hc.stopPrice.StringFixed(2)).
				Bool("protected_profit", hc.zeroLossActive).
				Msg("holding safe")
		}
	}

	return orders, proceeds, nil
}

// buildContext resolves price, history and indicators for one holding. A
// holding without a usable price cannot be evaluated at all; it is logged as
// a hold and reported with ok=false.
func (e *riskEvaluator) buildContext(ctx context.Context, ticker string, pos types.PositionSnapshot) (*holdingContext, bool, error) {
	price := decimal.Zero
	if pos.LastPrice.Valid {
		price = pos.LastPrice.Decimal
	} else {
		fetched, err := e.market.FetchPrice(ctx, ticker)
		if err != nil {
			e.log.Warn().Str("ticker", ticker).Err(err).Msg("price unavailable, risk rules skipped")
			if _, err := e.ledger.LogDecision(ctx, types.Decision{
				Ticker:   ticker,
				Action:   types.DecisionHold,
				Quantity: pos.Quantity,
				Reason:   "HOLD: price unavailable, risk rules skipped",
			}); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		price = fetched
	}
	if price.IsNegative() {
		return nil, false, fmt.Errorf("%w: %s has negative price %s", ErrInvalidSnapshot, ticker, price)
	}

	hc := &holdingContext{
		ticker:   ticker,
		quantity: pos.Quantity,
		entry:    pos.AvgEntryPrice,
		price:    price,
	}

	candles, err := e.market.FetchHistory(ctx, ticker, e.cfg.HistoryDays)
	if err != nil {
		e.log.Debug().Str("ticker", ticker).Err(err).Msg("history unavailable")
	} else {
		hc.candles = candles
		closes := types.Closes(candles)
		if atr, ok := indicator.ATR(candles, e.cfg.ATRPeriod); ok {
			hc.atr14 = decimal.NewNullDecimal(atr)
		}
		if sma, ok := indicator.SMA(closes, 20); ok {
			hc.sma20 = decimal.NewNullDecimal(sma)
		}
		if sma, ok := indicator.SMA(closes, 50); ok {
			hc.sma50 = decimal.NewNullDecimal(sma)
		}
	}

	return hc, true, nil
}

// stopLossRule: ATR-sized stop under the entry price, falling back to the
// fixed stop percent when ATR is unavailable. Once unrealized gain exceeds
// 5% the zero-loss override raises the stop to at least entry × 1.005, and
// never lowers it.
func (e *riskEvaluator) stopLossRule(_ context.Context, hc *holdingContext) (ruleVerdict, string) {
	if hc.atr14.Valid && hc.atr14.Decimal.IsPositive() {
		hc.stopPrice = hc.entry.Sub(e.atrMultiplier.Mul(hc.atr14.Decimal))
	} else {
		hc.stopPrice = hc.entry.Mul(decimal.NewFromInt(1).Sub(e.cfg.StopLossPct))
	}

	// The override arms off the cycle high-water mark, not the current
	// price: the evaluation is stateless per call, so a position that ran
	// past +5% and pulled back must still see its raised stop. The override
	// only ever raises the stop, never lowers it.
	if hc.entry.IsPositive() {
		basis := hc.price
		if recentHigh, ok := indicator.HighestHigh(hc.candles, hwmLookbackBars); ok && recentHigh.GreaterThan(basis) {
			basis = recentHigh
		}
		gain := basis.Sub(hc.entry).Div(hc.entry)
		if gain.GreaterThan(zeroLossGainThreshold) {
			zeroLossStop := hc.entry.Mul(zeroLossStopFactor)
			if zeroLossStop.GreaterThan(hc.stopPrice) {
				hc.stopPrice = zeroLossStop
				hc.zeroLossActive = true
			}
		}
	}

	if !hc.price.LessThan(hc.stopPrice) {
		return verdictNone, ""
	}

	switch {
	case hc.zeroLossActive:
		return verdictSell, fmt.Sprintf(
			"SELL: Protected Profit Stop hit (+0.5%% Guaranteed) | Entry: $%s -> Current: $%s | Stop: $%s",
			hc.entry.StringFixed(2), hc.price.StringFixed(2), hc.stopPrice.StringFixed(2))
	case hc.atr14.Valid:
		return verdictSell, fmt.Sprintf(
			"SELL: ATR Stop triggered (-%s%%) | Entry: $%s -> Current: $%s | Stop: $%s (ATR: %s, Mult: %s)",
			dropPercent(hc.entry, hc.price), hc.entry.StringFixed(2), hc.price.StringFixed(2),
			hc.stopPrice.StringFixed(2), hc.atr14.Decimal.StringFixed(2), e.atrMultiplier.String())
	default:
		return verdictSell, fmt.Sprintf(
			"SELL: Hard Stop-Loss reached (-%s%%) | Entry: $%s -> Current: $%s | Threshold: -%s%% (ATR unavailable)",
			dropPercent(hc.entry, hc.price), hc.entry.StringFixed(2), hc.price.StringFixed(2),
			e.cfg.StopLossPct.Mul(decimal.NewFromInt(100)).StringFixed(0))
	}
}

// trailingProfitRule: arms once unrealized gain exceeds the activation
// threshold; the high-water mark is the max of the current price and the
// highest high over the last five bars, and a configured drop from it sells.
func (e *riskEvaluator) trailingProfitRule(_ context.Context, hc *holdingContext) (ruleVerdict, string) {
	if !hc.entry.IsPositive() {
		return verdictNone, ""
	}
	gain := hc.price.Sub(hc.entry).Div(hc.entry)
	if !gain.GreaterThan(e.cfg.TrailingActivationPct) {
		return verdictNone, ""
	}

	hwm := hc.price
	if recentHigh, ok := indicator.HighestHigh(hc.candles, hwmLookbackBars); ok && recentHigh.GreaterThan(hwm) {
		hwm = recentHigh
	}
	hc.highWaterMark = decimal.NewNullDecimal(hwm)

	trailingStop := hwm.Mul(decimal.NewFromInt(1).Sub(e.cfg.TrailingDropPct))
	if !hc.price.LessThan(trailingStop) {
		e.log.Info().
			Str("ticker", hc.ticker).
			Str("gain_pct", gain.Mul(decimal.NewFromInt(100)).StringFixed(1)).
			Str("peak", hwm.StringFixed(2)).
			Str("trail_stop", trailingStop.StringFixed(2)).
			Msg("trailing take-profit armed")
		return verdictNone, ""
	}

	dropFromPeak := hwm.Sub(hc.price).Div(hwm).Mul(decimal.NewFromInt(100))
	return verdictSell, fmt.Sprintf(
		"SELL: Trailing Profit Taken (%s%% drop from peak of $%s) | Gain: +%s%% | Entry: $%s -> Current: $%s",
		dropFromPeak.StringFixed(1), hwm.StringFixed(2),
		gain.Mul(decimal.NewFromInt(100)).StringFixed(1),
		hc.entry.StringFixed(2), hc.price.StringFixed(2))
}

// trendBreakdownRule: whipsaw-protected. BOTH price < SMA20 and
// SMA20 < SMA50 are required; a single-SMA breach never sells. Holdings
// bought within the grace period hold instead, unless panic mode is set.
func (e *riskEvaluator) trendBreakdownRule(ctx context.Context, hc *holdingContext) (ruleVerdict, string) {
	if !hc.sma20.Valid || !hc.price.LessThan(hc.sma20.Decimal) {
		return verdictNone, ""
	}

	gap := hc.sma20.Decimal.Sub(hc.price).Div(hc.sma20.Decimal).Mul(decimal.NewFromInt(100))

	if !hc.sma50.Valid {
		e.log.Info().
			Str("ticker", hc.ticker).
			Str("gap_pct", gap.StringFixed(1)).
			Msg("price below SMA20 but SMA50 unavailable, whipsaw protection holds")
		return verdictNone, ""
	}
	if !hc.sma20.Decimal.LessThan(hc.sma50.Decimal) {
		return verdictNone, ""
	}

	if !e.panicMode {
		if lastBuy, ok := e.lastBuyTime(ctx, hc.ticker); ok {
			held := e.now().Sub(lastBuy)
			if held < e.cfg.GracePeriod {
				return verdictHold, fmt.Sprintf(
					"Grace Period (%.1fh): Whipsaw breakdown suppressed", held.Hours())
			}
		}
	}

	return verdictSell, fmt.Sprintf(
		"SELL: Trend Breakdown (Price $%s < SMA20 $%s < SMA50 $%s, gap %s%%)",
		hc.price.StringFixed(2), hc.sma20.Decimal.StringFixed(2),
		hc.sma50.Decimal.StringFixed(2), gap.StringFixed(1))
}

// lastBuyTime degrades to "long-held" when the ledger cannot answer.
func (e *riskEvaluator) lastBuyTime(ctx context.Context, ticker string) (time.Time, bool) {
	t, ok, err := e.ledger.LastBuyTime(ctx, ticker)
	if err != nil {
		e.log.Warn().Str("ticker", ticker).Err(err).Msg("last buy time unavailable, assuming long-held")
		return time.Time{}, false
	}
	return t, ok
}

func (e *riskEvaluator) recordSell(ctx context.Context, hc *holdingContext, ruleName, reason string) (types.Order, decimal.Decimal, error) {
	saleValue := hc.price.Mul(hc.quantity)

	var pnl, pnlPct decimal.NullDecimal
	pnl = decimal.NewNullDecimal(hc.price.Sub(hc.entry).Mul(hc.quantity))
	if hc.entry.IsPositive() {
		pnlPct = decimal.NewNullDecimal(hc.price.Sub(hc.entry).Div(hc.entry).Mul(decimal.NewFromInt(100)))
	}

	decisionID, err := e.ledger.LogDecision(ctx, types.Decision{
		Ticker:        hc.ticker,
		Action:        types.DecisionSell,
		Quantity:      hc.quantity,
		Price:         decimal.NewNullDecimal(hc.price),
		SMA20:         hc.sma20,
		SMA50:         hc.sma50,
		ATR14:         hc.atr14,
		HighWaterMark: hc.highWaterMark,
		EntryPrice:    decimal.NewNullDecimal(hc.entry),
		ExitPrice:     decimal.NewNullDecimal(hc.price),
		PnL:           pnl,
		PnLPercent:    pnlPct,
		Reason:        reason,
	})
	if err != nil {
		return types.Order{}, decimal.Zero, err
	}

	e.log.Warn().
		Str("ticker", hc.ticker).
		Str("rule", ruleName).
		Str("proceeds", saleValue.StringFixed(2)).
		Int64("decision_id", decisionID).
		Msg(reason)

	order := types.NewLimitOrder(hc.ticker, types.SideTypeSell, hc.quantity, hc.price, reason, decisionID, e.now())
	return order, saleValue, nil
}

func (e *riskEvaluator) holdDecision(hc *holdingContext, reason string) types.Decision {
	return types.Decision{
		Ticker:   hc.ticker,
		Action:   types.DecisionHold,
		Quantity: hc.quantity,
		Price:    decimal.NewNullDecimal(hc.price),
		SMA20:    hc.sma20,
		SMA50:    hc.sma50,
		ATR14:    hc.atr14,
		Reason:   reason,
	}
}

func indicatorStatus(hc *holdingContext) string {
	status := ""
	if hc.sma20.Valid {
		status += " | SMA20: $" + hc.sma20.Decimal.StringFixed(2)
	}
	if hc.sma50.Valid {
		status += " | SMA50: $" + hc.sma50.Decimal.StringFixed(2)
	}
	if hc.atr14.Valid {
		status += " | ATR: " + hc.atr14.Decimal.StringFixed(2)
	}
	return status
}

func dropPercent(entry, price decimal.Decimal) string {
	if !entry.IsPositive() {
		return "0.0"
	}
	return decimal.NewFromInt(1).Sub(price.Div(entry)).Mul(decimal.NewFromInt(100)).StringFixed(1)
}
