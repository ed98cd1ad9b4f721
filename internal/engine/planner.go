package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeplan/internal/indicator"
	"tradeplan/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var ErrInvalidEnvBias = errors.New("env bias out of range")

var (
	one = decimal.NewFromInt(1)

	defenseBiasCeiling = 0.5 // below this all new buys freeze
	panicBiasCeiling   = 0.3 // below this the grace period is ignored

	defenseATRFactor = decimal.NewFromFloat(0.7) // defense mode tightens stops by 30%
	freezeATRFactor  = decimal.NewFromFloat(0.5) // full freeze tightens stops by 50%

	rsiOverbought     = decimal.NewFromInt(75)
	rsiWarnOverbought = decimal.NewFromInt(65)
	rsiOversold       = decimal.NewFromInt(35)

	highConvictionScore = 0.5
	swapImproveFactor   = 1.2  // new score must beat the holding's by 20%
	swapDeadScore       = 0.01 // holdings at or below this are beaten by any score > 0.1
	swapDeadBeatScore   = 0.1
	swapPortion         = decimal.NewFromFloat(0.5)
)

// Planner is the top-level allocation algorithm. One Plan call is one
// planning cycle: synchronous, run-to-completion, no shared state across
// invocations. Collaborator failures degrade the cycle (rules skipped,
// validation fails open); only ledger writes and malformed economics abort
// it.
type Planner struct {
	cfg    Config
	market marketData
	ledger decisionLedger
	log    zerolog.Logger
	now    func() time.Time
}

func NewPlanner(cfg Config, market marketData, ledger decisionLedger, log zerolog.Logger) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{
		cfg:    cfg,
		market: market,
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}, nil
}

// cycle is the mutable state of one planning run.
type cycle struct {
	market    *MarketCache
	view      types.PortfolioView
	rank      []types.RankEntry
	orders    []types.Order
	remaining decimal.Decimal
	sold      map[string]bool
}

// Plan converts one cycle's candidate signals plus the portfolio snapshot
// into an ordered list of orders. Risk sells come first; freed liquidity is
// immediately available for the buys that follow.
func (p *Planner) Plan(ctx context.Context, env types.SignalEnvelope, view types.PortfolioView) (types.Plan, error) {
	if env.EnvBias < 0 || env.EnvBias > 1 {
		return types.Plan{}, fmt.Errorf("%w: %f", ErrInvalidEnvBias, env.EnvBias)
	}

	envBias := decimal.NewFromFloat(env.EnvBias)
	freezeMode := env.EnvBias == 0
	defenseMode := env.EnvBias < defenseBiasCeiling
	panicMode := env.EnvBias < panicBiasCeiling

	atrMultiplier := p.cfg.ATRMultiplier
	switch {
	case freezeMode:
		atrMultiplier = atrMultiplier.Mul(freezeATRFactor)
	case defenseMode:
		atrMultiplier = atrMultiplier.Mul(defenseATRFactor)
	}

	effectiveBudget := p.cfg.TotalBudget.Mul(envBias)
	costBasis, err := p.costBasis(view)
	if err != nil {
		return types.Plan{}, err
	}

	c := &cycle{
		market:    NewMarketCache(p.market),
		view:      view,
		remaining: effectiveBudget.Sub(costBasis),
		sold:      make(map[string]bool),
	}

	p.log.Info().
		Str("total_budget", p.cfg.TotalBudget.StringFixed(2)).
		Str("effective_budget", effectiveBudget.StringFixed(2)).
		Str("cost_basis", costBasis.StringFixed(2)).
		Str("remaining", c.remaining.StringFixed(2)).
		Float64("env_bias", env.EnvBias).
		Bool("defense_mode", defenseMode).
		Bool("panic_mode", panicMode).
		Msg("planning cycle start")

	signals := env.Signals
	if defenseMode || freezeMode {
		signals = nil
		modeName := "Defense Mode"
		if freezeMode {
			modeName = "Safe Hold Mode"
		}
		p.log.Warn().
			Float64("env_bias", env.EnvBias).
			Str("macro_reason", env.MacroReason).
			Msgf("%s: all new buys frozen", modeName)
		if _, err := p.ledger.LogDecision(ctx, types.Decision{
			Ticker:         "SYSTEM",
			Action:         types.DecisionDefense,
			SentimentScore: sql.NullFloat64{Valid: true},
			DurationScore:  sql.NullFloat64{Valid: true},
			EnvBias:        sql.NullFloat64{Float64: env.EnvBias, Valid: true},
			MacroReason:    env.MacroReason,
			Reason: fmt.Sprintf("%s: env_bias=%.2f. All buys frozen. Reason: %s",
				modeName, env.EnvBias, env.MacroReason),
		}); err != nil {
			return types.Plan{}, err
		}
	}

	ranker := &ranker{
		market:    c.market,
		ledger:    p.ledger,
		validator: newValidator(c.market, p.log),
		log:       p.log,
	}
	c.rank, err = ranker.build(ctx, signals, view)
	if err != nil {
		return types.Plan{}, err
	}

	evaluator := &riskEvaluator{
		cfg:           p.cfg,
		market:        c.market,
		ledger:        p.ledger,
		log:           p.log,
		now:           p.now,
		atrMultiplier: atrMultiplier,
		panicMode:     panicMode,
	}
	riskSells, proceeds, err := evaluator.evaluate(ctx, view)
	if err != nil {
		return types.Plan{}, err
	}
	c.orders = append(c.orders, riskSells...)
	for _, o := range riskSells {
		c.sold[o.Ticker] = true
	}
	if proceeds.IsPositive() {
		c.remaining = c.remaining.Add(proceeds)
		p.log.Info().
			Str("proceeds", proceeds.StringFixed(2)).
			Str("remaining", c.remaining.StringFixed(2)).
			Msg("liquidity recycled from risk sells")
	}

	if err := p.planBuys(ctx, c); err != nil {
		return types.Plan{}, err
	}

	return types.Plan{
		Orders:      c.orders,
		EnvBias:     env.EnvBias,
		MacroReason: env.MacroReason,
		GeneratedAt: p.now(),
	}, nil
}

func (p *Planner) costBasis(view types.PortfolioView) (decimal.Decimal, error) {
	total := decimal.Zero
	for ticker, pos := range view.Positions {
		if !pos.Quantity.IsPositive() {
			continue
		}
		if pos.AvgEntryPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %s has negative entry price %s",
				ErrInvalidSnapshot, ticker, pos.AvgEntryPrice)
		}
		total = total.Add(pos.Quantity.Mul(pos.AvgEntryPrice))
	}
	return total, nil
}

// planBuys walks the ranked list top-down, applying cooldown, concentration
// and technical filters, then sizing. Candidates that cannot be funded fall
// back to a partial-position swap against the weakest beatable holding.
func (p *Planner) planBuys(ctx context.Context, c *cycle) error {
	for _, entry := range c.rank {
		if entry.Kind != types.EntryNewSignal {
			continue
		}
		if entry.Price.IsNegative() {
			return fmt.Errorf("%w: %s has negative price %s", ErrInvalidSnapshot, entry.Ticker, entry.Price)
		}
		if entry.Price.IsZero() {
			if err := p.logSkip(ctx, entry, "SKIP: non-positive price", nil); err != nil {
				return err
			}
			continue
		}

		skipped, err := p.applyGuards(ctx, c, entry)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		ta, skipped, err := p.applyTechnicalFilters(ctx, c, entry)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		bought, err := p.sizeBuy(ctx, c, entry, ta)
		if err != nil {
			return err
		}
		if bought {
			continue
		}

		if err := p.trySwap(ctx, c, entry); err != nil {
			return err
		}
	}
	return nil
}

// applyGuards enforces the cooldown and concentration rules. Ledger read
// failures degrade to "not on cooldown" rather than blocking the candidate.
func (p *Planner) applyGuards(ctx context.Context, c *cycle, entry types.RankEntry) (bool, error) {
	onCooldown, err := p.ledger.IsOnCooldown(ctx, entry.Ticker, p.cfg.CooldownWindow)
	if err != nil {
		p.log.Warn().Str("ticker", entry.Ticker).Err(err).Msg("cooldown check unavailable, assuming clear")
		onCooldown = false
	}
	if onCooldown {
		reason := fmt.Sprintf("SKIP: %.0f-hour cooldown active", p.cfg.CooldownWindow.Hours())
		return true, p.logSkip(ctx, entry, reason, nil)
	}

	maxShares := p.maxSharesFor(entry.Price)
	held := c.view.Positions[entry.Ticker].Quantity
	if held.GreaterThanOrEqual(maxShares) {
		reason := fmt.Sprintf("SKIP: Max concentration reached (%s/%s shares)", held, maxShares)
		return true, p.logSkip(ctx, entry, reason, nil)
	}
	return false, nil
}

// maxSharesFor derives the per-ticker share ceiling from the TOTAL budget,
// not the env-bias-scaled one: concentration is a position-size ceiling, not
// a macro mood dial.
func (p *Planner) maxSharesFor(price decimal.Decimal) decimal.Decimal {
	return p.cfg.TotalBudget.Mul(p.cfg.MaxConcentrationPct).Div(price).Floor()
}

// taContext is the indicator snapshot computed for a buy candidate, kept for
// the audit rows.
type taContext struct {
	rsi   decimal.NullDecimal
	sma20 decimal.NullDecimal
	sma50 decimal.NullDecimal
}

// applyTechnicalFilters runs the overbought and downtrend entry filters.
// Missing history disables both: unavailability means "cannot evaluate this
// rule", never a failed rule.
func (p *Planner) applyTechnicalFilters(ctx context.Context, c *cycle, entry types.RankEntry) (taContext, bool, error) {
	var ta taContext

	candles, err := c.market.FetchHistory(ctx, entry.Ticker, p.cfg.HistoryDays)
	if err != nil {
		p.log.Debug().Str("ticker", entry.Ticker).Err(err).Msg("history unavailable, entry filters skipped")
		return ta, false, nil
	}
	closes := types.Closes(candles)
	if rsi, ok := indicator.RSI(closes, indicator.DefaultRSIPeriod); ok {
		ta.rsi = decimal.NewNullDecimal(rsi)
	}
	if sma, ok := indicator.SMA(closes, 20); ok {
		ta.sma20 = decimal.NewNullDecimal(sma)
	}
	if sma, ok := indicator.SMA(closes, 50); ok {
		ta.sma50 = decimal.NewNullDecimal(sma)
	}

	// Overbought filter.
	if ta.rsi.Valid {
		overbought := ta.rsi.Decimal.GreaterThan(rsiOverbought) ||
			(ta.rsi.Decimal.GreaterThanOrEqual(rsiWarnOverbought) &&
				ta.sma20.Valid && entry.Price.LessThanOrEqual(ta.sma20.Decimal))
		if overbought {
			reason := fmt.Sprintf("SKIP BUY: Technicals weak (RSI %s)", ta.rsi.Decimal.StringFixed(1))
			return ta, true, p.logSkip(ctx, entry, reason, &ta)
		}
	}

	// Downtrend entry filter: confirmed downtrend (or price below SMA20 with
	// SMA50 unavailable) rejects the buy unless the candidate is oversold or
	// high conviction.
	if ta.sma20.Valid && entry.Price.LessThan(ta.sma20.Decimal) &&
		(!ta.sma50.Valid || ta.sma20.Decimal.LessThan(ta.sma50.Decimal)) {

		gap := ta.sma20.Decimal.Sub(entry.Price).Div(ta.sma20.Decimal).Mul(decimal.NewFromInt(100))
		isOversold := ta.rsi.Valid && ta.rsi.Decimal.LessThan(rsiOversold)
		isHighConviction := entry.Score >= highConvictionScore

		if isOversold || isHighConviction {
			why := fmt.Sprintf("High Conviction (Rank %.2f)", entry.Score)
			if isOversold {
				why = "Oversold (RSI < 35)"
			}
			p.log.Info().
				Str("ticker", entry.Ticker).
				Str("gap_pct", gap.StringFixed(1)).
				Str("why", why).
				Msg("contrarian entry accepted in downtrend")
		} else {
			var reason string
			if ta.sma50.Valid {
				reason = fmt.Sprintf("SKIP BUY: confirmed downtrend (Price $%s < SMA20 $%s < SMA50 $%s, gap %s%%)",
					entry.Price.StringFixed(2), ta.sma20.Decimal.StringFixed(2),
					ta.sma50.Decimal.StringFixed(2), gap.StringFixed(1))
			} else {
				reason = fmt.Sprintf("SKIP BUY: below SMA20 (Price $%s < SMA20 $%s, gap %s%%, SMA50 unavailable)",
					entry.Price.StringFixed(2), ta.sma20.Decimal.StringFixed(2), gap.StringFixed(1))
			}
			return ta, true, p.logSkip(ctx, entry, reason, &ta)
		}
	}

	return ta, false, nil
}

// sizeBuy sizes a funded buy for the candidate: whole shares as a limit
// order when at least one is affordable (never zero — a single share is
// forced while the concentration cap allows it), otherwise a fractional
// market order filling the budget gap. Returns false when no buy could be
// funded at all.
func (p *Planner) sizeBuy(ctx context.Context, c *cycle, entry types.RankEntry, ta taContext) (bool, error) {
	targetValue := p.cfg.TotalBudget.Mul(p.cfg.RiskPerTradePct)
	rawQty := targetValue.Div(entry.Price)

	if c.remaining.GreaterThanOrEqual(entry.Price) {
		shares := rawQty.Floor()
		if shares.IsZero() && p.maxSharesFor(entry.Price).GreaterThanOrEqual(one) {
			p.log.Info().
				Str("ticker", entry.Ticker).
				Str("price", entry.Price.StringFixed(2)).
				Str("target_value", targetValue.StringFixed(2)).
				Msg("upgrading trade to a single share")
			shares = one
		}
		if shares.IsPositive() {
			cost := shares.Mul(entry.Price)
			if cost.GreaterThan(c.remaining) {
				shares = c.remaining.Div(entry.Price).Floor()
				cost = shares.Mul(entry.Price)
			}
			if shares.IsPositive() {
				reason := fmt.Sprintf("Holistic Buy (Rank %.3f).", entry.Score)
				decisionID, err := p.logBuy(ctx, entry, shares, ta, reason)
				if err != nil {
					return false, err
				}
				c.orders = append(c.orders, types.NewLimitOrder(
					entry.Ticker, types.SideTypeBuy, shares, entry.Price, reason, decisionID, p.now()))
				c.remaining = c.remaining.Sub(cost)
				p.log.Info().
					Str("ticker", entry.Ticker).
					Str("qty", shares.String()).
					Str("limit", entry.Price.StringFixed(2)).
					Str("remaining", c.remaining.StringFixed(2)).
					Int64("decision_id", decisionID).
					Msg("buy planned")
				return true, nil
			}
		}
		return false, nil
	}

	// Gap-filler: the candidate's target is below one share and the leftover
	// budget cannot fund a whole share either; spend it on a fractional
	// market order.
	if rawQty.IsPositive() && rawQty.LessThan(one) && c.remaining.IsPositive() {
		fracQty := c.remaining.Div(entry.Price).Round(4)
		if fracQty.IsPositive() {
			cost := fracQty.Mul(entry.Price)
			reason := fmt.Sprintf("Fractional Gap-Fill (Rank %.3f, Qty %s).", entry.Score, fracQty)
			decisionID, err := p.logBuy(ctx, entry, fracQty, ta, reason)
			if err != nil {
				return false, err
			}
			c.orders = append(c.orders, types.NewMarketOrder(
				entry.Ticker, types.SideTypeBuy, fracQty, true, reason, decisionID, p.now()))
			c.remaining = c.remaining.Sub(cost)
			p.log.Info().
				Str("ticker", entry.Ticker).
				Str("qty", fracQty.String()).
				Str("remaining", c.remaining.StringFixed(2)).
				Int64("decision_id", decisionID).
				Msg("fractional buy planned")
			return true, nil
		}
	}

	return false, nil
}

// trySwap funds an unfundable candidate by selling half of the weakest
// beatable holding. At most one swap per candidate; a holding is swapped at
// most once per cycle and never after a risk sell.
func (p *Planner) trySwap(ctx context.Context, c *cycle, entry types.RankEntry) error {
	for i := len(c.rank) - 1; i >= 0; i-- {
		holding := c.rank[i]
		if holding.Kind != types.EntryHolding || c.sold[holding.Ticker] {
			continue
		}
		if !holding.Price.IsPositive() || !holding.Quantity.IsPositive() {
			continue
		}

		thresholdMet := false
		if holding.Score <= swapDeadScore {
			thresholdMet = entry.Score > swapDeadBeatScore
		} else if entry.Score > holding.Score*swapImproveFactor {
			thresholdMet = true
		}
		if !thresholdMet {
			continue
		}

		swapQty := holding.Quantity.Mul(swapPortion).Floor()
		if !swapQty.IsPositive() {
			p.log.Debug().
				Str("holding", holding.Ticker).
				Str("qty", holding.Quantity.String()).
				Msg("swap skipped, half position rounds to zero")
			continue
		}

		p.log.Info().
			Str("new", entry.Ticker).
			Float64("new_score", entry.Score).
			Str("old", holding.Ticker).
			Float64("old_score", holding.Score).
			Msg("partial swap")

		proceeds := swapQty.Mul(holding.Price)
		c.sold[holding.Ticker] = true

		sellReason := fmt.Sprintf("Partial Swap for %s", entry.Ticker)
		sellID, err := p.ledger.LogDecision(ctx, types.Decision{
			Ticker:   holding.Ticker,
			Action:   types.DecisionSell,
			Quantity: swapQty,
			Price:    decimal.NewNullDecimal(holding.Price),
			Reason:   sellReason,
		})
		if err != nil {
			return err
		}
		c.orders = append(c.orders, types.NewLimitOrder(
			holding.Ticker, types.SideTypeSell, swapQty, holding.Price, sellReason, sellID, p.now()))

		rawSwapQty := proceeds.Div(entry.Price)
		buyCost := decimal.Zero
		switch {
		case rawSwapQty.GreaterThanOrEqual(one):
			buyQty := rawSwapQty.Floor()
			reason := fmt.Sprintf("Swap Buy via %s (proceeds $%s).", holding.Ticker, proceeds.StringFixed(2))
			buyID, err := p.logBuy(ctx, entry, buyQty, taContext{}, reason)
			if err != nil {
				return err
			}
			c.orders = append(c.orders, types.NewLimitOrder(
				entry.Ticker, types.SideTypeBuy, buyQty, entry.Price, reason, buyID, p.now()))
			buyCost = buyQty.Mul(entry.Price)

		case rawSwapQty.IsPositive():
			buyQty := rawSwapQty.Round(4)
			if buyQty.IsPositive() {
				reason := fmt.Sprintf("Swap Buy via %s (proceeds $%s).", holding.Ticker, proceeds.StringFixed(2))
				buyID, err := p.logBuy(ctx, entry, buyQty, taContext{}, reason)
				if err != nil {
					return err
				}
				c.orders = append(c.orders, types.NewMarketOrder(
					entry.Ticker, types.SideTypeBuy, buyQty, true, reason, buyID, p.now()))
				buyCost = buyQty.Mul(entry.Price)
			}
		}

		leftover := proceeds.Sub(buyCost)
		if leftover.IsPositive() {
			c.remaining = c.remaining.Add(leftover)
			p.log.Info().
				Str("leftover", leftover.StringFixed(2)).
				Str("remaining", c.remaining.StringFixed(2)).
				Msg("swap leftover recycled")
		}
		return nil // one swap per candidate
	}
	return nil
}

func (p *Planner) logBuy(ctx context.Context, entry types.RankEntry, qty decimal.Decimal, ta taContext, reason string) (int64, error) {
	return p.ledger.LogDecision(ctx, types.Decision{
		Ticker:         entry.Ticker,
		Action:         types.DecisionBuy,
		Quantity:       qty,
		Price:          decimal.NewNullDecimal(entry.Price),
		SentimentScore: sql.NullFloat64{Float64: entry.Sentiment, Valid: true},
		DurationScore:  sql.NullFloat64{Float64: entry.Duration, Valid: true},
		RSI14:          ta.rsi,
		SMA20:          ta.sma20,
		SMA50:          ta.sma50,
		Reason:         reason,
	})
}

func (p *Planner) logSkip(ctx context.Context, entry types.RankEntry, reason string, ta *taContext) error {
	d := types.Decision{
		Ticker:         entry.Ticker,
		Action:         types.DecisionSkip,
		Price:          decimal.NewNullDecimal(entry.Price),
		SentimentScore: sql.NullFloat64{Float64: entry.Sentiment, Valid: true},
		DurationScore:  sql.NullFloat64{Float64: entry.Duration, Valid: true},
		Reason:         reason,
	}
	if ta != nil {
		d.RSI14 = ta.rsi
		d.SMA20 = ta.sma20
		d.SMA50 = ta.sma50
	}
	p.log.Info().Str("ticker", entry.Ticker).Msg(reason)
	_, err := p.ledger.LogDecision(ctx, d)
	return err
}
