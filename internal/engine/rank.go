package engine

import (
	"context"
	"database/sql"
	"sort"

	"tradeplan/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ranker merges new candidate signals and existing holdings into the single
// ranked list the planner consumes, ordered descending by
// sentiment × duration. New signals are inserted before holdings and the
// sort is stable, so equal scores keep their insertion order. An entry never
// appears twice.
type ranker struct {
	market    marketData
	ledger    decisionLedger
	validator *validator
	log       zerolog.Logger
}

func (r *ranker) build(ctx context.Context, signals []types.CandidateSignal, view types.PortfolioView) ([]types.RankEntry, error) {
	entries := make([]types.RankEntry, 0, len(signals)+len(view.Positions))

	for _, sig := range signals {
		if sig.Action != types.SignalActionBuy {
			continue
		}

		if !r.validator.validate(ctx, sig.Ticker) {
			r.log.Info().Str("ticker", sig.Ticker).Msg("skip: ticker not tradable")
			if _, err := r.ledger.LogDecision(ctx, types.Decision{
				Ticker:         sig.Ticker,
				Action:         types.DecisionSkip,
				SentimentScore: sql.NullFloat64{Float64: sig.SentimentScore, Valid: true},
				DurationScore:  sql.NullFloat64{Float64: sig.DurationScore, Valid: true},
				Reason:         "SKIP: ticker not found or not tradable",
			}); err != nil {
				return nil, err
			}
			continue
		}

		price, err := r.market.FetchPrice(ctx, sig.Ticker)
		if err != nil {
			r.log.Info().Str("ticker", sig.Ticker).Err(err).Msg("skip: price unavailable")
			if _, err := r.ledger.LogDecision(ctx, types.Decision{
				Ticker:         sig.Ticker,
				Action:         types.DecisionSkip,
				SentimentScore: sql.NullFloat64{Float64: sig.SentimentScore, Valid: true},
				DurationScore:  sql.NullFloat64{Float64: sig.DurationScore, Valid: true},
				Reason:         "SKIP: price unavailable",
			}); err != nil {
				return nil, err
			}
			continue
		}

		entries = append(entries, types.RankEntry{
			Ticker:    sig.Ticker,
			Kind:      types.EntryNewSignal,
			Score:     sig.SentimentScore * sig.DurationScore,
			Sentiment: sig.SentimentScore,
			Duration:  sig.DurationScore,
			Price:     price,
			Reason:    sig.Reasoning,
		})
	}

	for _, ticker := range sortedTickers(view.Positions) {
		pos := view.Positions[ticker]
		if !pos.Quantity.IsPositive() {
			continue
		}

		scores := r.latestScores(ctx, ticker)

		price := decimal.Zero
		if pos.LastPrice.Valid {
			price = pos.LastPrice.Decimal
		} else if fetched, err := r.market.FetchPrice(ctx, ticker); err == nil {
			price = fetched
		}

		entries = append(entries, types.RankEntry{
			Ticker:    ticker,
			Kind:      types.EntryHolding,
			Score:     scores.Sentiment * scores.Duration,
			Sentiment: scores.Sentiment,
			Duration:  scores.Duration,
			Price:     price,
			Quantity:  pos.Quantity,
			Reason:    "Existing Position",
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries, nil
}

// latestScores degrades to a neutral pair when the ledger has no scores for
// the ticker or cannot be read.
func (r *ranker) latestScores(ctx context.Context, ticker string) types.Scores {
	scores, ok, err := r.ledger.LatestScores(ctx, ticker)
	if err != nil {
		r.log.Warn().Str("ticker", ticker).Err(err).Msg("latest scores unavailable, using neutral")
		return types.Scores{}
	}
	if !ok {
		return types.Scores{}
	}
	return scores
}

func sortedTickers(positions map[string]types.PositionSnapshot) []string {
	tickers := make([]string, 0, len(positions))
	for t := range positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
