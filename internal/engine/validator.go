package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// validator memoizes tradability checks for the lifetime of one planning
// cycle. When the market-data collaborator errors the check fails OPEN and
// the ticker is assumed valid: availability over safety, so an offline data
// source never blocks the whole pipeline. A definitive "not tradable" answer
// still drops the ticker.
type validator struct {
	market marketData
	cache  map[string]bool
	log    zerolog.Logger
}

func newValidator(market marketData, log zerolog.Logger) *validator {
	return &validator{
		market: market,
		cache:  make(map[string]bool),
		log:    log,
	}
}

func (v *validator) validate(ctx context.Context, ticker string) bool {
	if valid, ok := v.cache[ticker]; ok {
		return valid
	}

	valid, err := v.market.ValidateTicker(ctx, ticker)
	if err != nil {
		v.log.Warn().Str("ticker", ticker).Err(err).
			Msg("ticker validation unavailable, failing open")
		v.cache[ticker] = true
		return true
	}

	v.cache[ticker] = valid
	return valid
}
