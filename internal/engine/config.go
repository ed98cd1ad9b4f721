package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid planner config")

// Config carries the risk and money-management parameters for one planner.
// Validate rejects malformed configuration before any order is planned; the
// cycle must abort rather than emit an order with undefined economics.
type Config struct {
	TotalBudget         decimal.Decimal
	RiskPerTradePct     decimal.Decimal // fraction of TotalBudget targeted per trade
	StopLossPct         decimal.Decimal // fixed stop fallback when ATR is unavailable
	MaxConcentrationPct decimal.Decimal // per-ticker cost ceiling as fraction of TotalBudget

	ATRMultiplier decimal.Decimal
	ATRPeriod     int

	TrailingActivationPct decimal.Decimal // unrealized gain that arms the trailing stop
	TrailingDropPct       decimal.Decimal // drop from the high-water mark that fires it

	CooldownWindow time.Duration // no re-BUY of a ticker inside this window
	GracePeriod    time.Duration // trend-breakdown suppression for fresh holdings
	HistoryDays    int           // daily bars requested per ticker
}

// DefaultConfig mirrors the production risk parameters.
func DefaultConfig(totalBudget decimal.Decimal) Config {
	return Config{
		TotalBudget:           totalBudget,
		RiskPerTradePct:       decimal.NewFromFloat(0.10),
		StopLossPct:           decimal.NewFromFloat(0.08),
		MaxConcentrationPct:   decimal.NewFromFloat(0.20),
		ATRMultiplier:         decimal.NewFromFloat(2.0),
		ATRPeriod:             14,
		TrailingActivationPct: decimal.NewFromFloat(0.10),
		TrailingDropPct:       decimal.NewFromFloat(0.03),
		CooldownWindow:        4 * time.Hour,
		GracePeriod:           24 * time.Hour,
		HistoryDays:           60,
	}
}

func (c Config) Validate() error {
	if !c.TotalBudget.IsPositive() {
		return fmt.Errorf("%w: total budget must be positive, got %s", ErrInvalidConfig, c.TotalBudget)
	}
	one := decimal.NewFromInt(1)
	for _, pct := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"risk per trade", c.RiskPerTradePct},
		{"stop loss", c.StopLossPct},
		{"max concentration", c.MaxConcentrationPct},
		{"trailing activation", c.TrailingActivationPct},
		{"trailing drop", c.TrailingDropPct},
	} {
		if !pct.value.IsPositive() || pct.value.GreaterThan(one) {
			return fmt.Errorf("%w: %s percent must be in (0,1], got %s", ErrInvalidConfig, pct.name, pct.value)
		}
	}
	if !c.ATRMultiplier.IsPositive() {
		return fmt.Errorf("%w: ATR multiplier must be positive, got %s", ErrInvalidConfig, c.ATRMultiplier)
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("%w: ATR period must be positive, got %d", ErrInvalidConfig, c.ATRPeriod)
	}
	if c.CooldownWindow <= 0 || c.GracePeriod <= 0 {
		return fmt.Errorf("%w: cooldown and grace windows must be positive", ErrInvalidConfig)
	}
	if c.HistoryDays <= 0 {
		return fmt.Errorf("%w: history days must be positive, got %d", ErrInvalidConfig, c.HistoryDays)
	}
	return nil
}
