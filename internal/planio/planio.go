// Package planio reads the engine's input documents (sentiment signals and
// the portfolio snapshot) and writes the execution plan.
package planio

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"tradeplan/types"

	"github.com/shopspring/decimal"
)

// ReadSignals loads the sentiment document. The current format is an
// envelope {signals, global_env_bias, macro_reason}; a plain signal array
// (the pre-macro format) is still accepted and defaults to full bias.
func ReadSignals(path string) (types.SignalEnvelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.SignalEnvelope{}, fmt.Errorf("read signals: %w", err)
	}

	// A missing bias key means normal mode, not a freeze; only an explicit
	// 0 freezes the cycle.
	envelope := types.SignalEnvelope{EnvBias: 1.0}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Signals != nil {
		return envelope, nil
	}

	var legacy []types.CandidateSignal
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return types.SignalEnvelope{}, fmt.Errorf("parse signals %s: %w", path, err)
	}
	return types.SignalEnvelope{
		Signals:     legacy,
		EnvBias:     1.0,
		MacroReason: "Legacy format (no macro data)",
	}, nil
}

type portfolioDoc struct {
	Positions map[string]positionDoc `json:"positions"`
}

type positionDoc struct {
	Shares       decimal.Decimal     `json:"shares"`
	BuyPrice     decimal.Decimal     `json:"buy_price"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	MarketValue  decimal.NullDecimal `json:"market_value"`
}

// ReadPortfolio loads the portfolio snapshot file.
func ReadPortfolio(path string, now time.Time) (types.PortfolioView, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.PortfolioView{}, fmt.Errorf("read portfolio: %w", err)
	}

	var doc portfolioDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.PortfolioView{}, fmt.Errorf("parse portfolio %s: %w", path, err)
	}

	view := types.PortfolioView{
		Positions: make(map[string]types.PositionSnapshot, len(doc.Positions)),
		Time:      now,
	}
	for ticker, pos := range doc.Positions {
		view.Positions[ticker] = types.PositionSnapshot{
			Ticker:        ticker,
			Quantity:      pos.Shares,
			AvgEntryPrice: pos.BuyPrice,
			LastPrice:     pos.CurrentPrice,
			MarketValue:   pos.MarketValue,
		}
	}
	return view, nil
}

// WritePlan serializes the plan for the broker adapter.
func WritePlan(path string, plan types.Plan) error {
	raw, err := json.MarshalIndent(plan, "", "    ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
