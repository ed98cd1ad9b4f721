package main

import (
	"context"
	"time"

	"tradeplan/internal/config"
	"tradeplan/internal/engine"
	"tradeplan/internal/planio"
	"tradeplan/internal/repository"
	"tradeplan/pkg/logger"
	"tradeplan/types"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	db, err := repository.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	env, err := planio.ReadSignals(cfg.SignalsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading signals failed")
	}
	view, err := planio.ReadPortfolio(cfg.PortfolioPath, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("loading portfolio failed")
	}
	log.Info().
		Int("signals", len(env.Signals)).
		Int("positions", len(view.Positions)).
		Float64("env_bias", env.EnvBias).
		Msg("inputs loaded")

	engineCfg := engine.DefaultConfig(decimal.NewFromFloat(cfg.TotalBudget))
	engineCfg.RiskPerTradePct = decimal.NewFromFloat(cfg.RiskPerTradePct)
	engineCfg.StopLossPct = decimal.NewFromFloat(cfg.StopLossPct)
	engineCfg.MaxConcentrationPct = decimal.NewFromFloat(cfg.MaxConcentrationPct)

	ctx := context.Background()

	// Warm one per-cycle market cache so the planner never re-queries a
	// ticker it already saw.
	market := engine.NewMarketCache(db)
	prefetch(ctx, market, engineCfg.HistoryDays, referencedTickers(env, view))

	planner, err := engine.NewPlanner(engineCfg, market, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("planner configuration invalid")
	}

	plan, err := planner.Plan(ctx, env, view)
	if err != nil {
		log.Fatal().Err(err).Msg("planning cycle aborted")
	}

	if err := planio.WritePlan(cfg.PlanPath, plan); err != nil {
		log.Fatal().Err(err).Msg("writing plan failed")
	}
	log.Info().
		Int("orders", len(plan.Orders)).
		Str("path", cfg.PlanPath).
		Msg("execution plan written")
}

func referencedTickers(env types.SignalEnvelope, view types.PortfolioView) []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, sig := range env.Signals {
		if sig.Action == types.SignalActionBuy && !seen[sig.Ticker] {
			seen[sig.Ticker] = true
			tickers = append(tickers, sig.Ticker)
		}
	}
	for ticker := range view.Positions {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	return tickers
}

func prefetch(ctx context.Context, market *engine.MarketCache, historyDays int, tickers []string) {
	if len(tickers) == 0 {
		return
	}
	bar := initProgressBar(len(tickers))
	for _, ticker := range tickers {
		// Unavailable data is fine here; the planner handles it per rule.
		_, _ = market.FetchPrice(ctx, ticker)
		_, _ = market.FetchHistory(ctx, ticker, historyDays)
		bar.Add(1)
	}
}

func initProgressBar(maxTicks int) *progressbar.ProgressBar {
	return progressbar.NewOptions(maxTicks,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Fetching market data..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
