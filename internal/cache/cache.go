// Package cache
package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/quote"
)

// Tier is one layer of the cache hierarchy. A miss is (nil, nil); errors are
// reserved for infrastructure failures (connection loss, corrupt payloads).
type Tier interface {
	Name() string
	Get(ctx context.Context, symbol string) (*quote.Quote, error)
	Put(ctx context.Context, symbol string, q quote.Quote) error
	Delete(ctx context.Context, symbol string) error
}

// StaleReader is implemented by tiers that can serve entries past their TTL.
// The resolver uses it as the rate-governor-denial fallback.
type StaleReader interface {
	GetStale(ctx context.Context, symbol string) (*quote.Quote, error)
}

// Tiered checks tiers fastest-first on reads, promoting hits into faster
// tiers; writes populate every tier.
type Tiered struct {
	tiers  []Tier
	logger zerolog.Logger
}

func NewTiered(logger zerolog.Logger, tiers ...Tier) *Tiered {
	return &Tiered{
		tiers:  tiers,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Get returns the freshest cached quote for symbol, or (nil, nil) on a miss
// in every tier. A hit in a slower tier is promoted before returning.
func (t *Tiered) Get(ctx context.Context, symbol string) (*quote.Quote, error) {
	symbol = quote.NormalizeSymbol(symbol)
	for i, tier := range t.tiers {
		q, err := tier.Get(ctx, symbol)
		if err != nil {
			t.logger.Warn().Err(err).Str("tier", tier.Name()).Str("symbol", symbol).Msg("Tier read failed")
			continue
		}
		if q == nil {
			continue
		}
		q.Cached = true
		for j := 0; j < i; j++ {
			if perr := t.tiers[j].Put(ctx, symbol, *q); perr != nil {
				t.logger.Warn().Err(perr).Str("tier", t.tiers[j].Name()).Str("symbol", symbol).Msg("Tier promotion failed")
			}
		}
		t.logger.Debug().Str("tier", tier.Name()).Str("symbol", symbol).Msg("Cache hit")
		return q, nil
	}
	return nil, nil
}

// Put writes the quote into all tiers. A failure in one tier does not stop
// the others; the first error is reported.
func (t *Tiered) Put(ctx context.Context, symbol string, q quote.Quote) error {
	symbol = quote.NormalizeSymbol(symbol)
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Put(ctx, symbol, q); err != nil {
			t.logger.Warn().Err(err).Str("tier", tier.Name()).Str("symbol", symbol).Msg("Tier write failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("writing %s to tier %s: %w", symbol, tier.Name(), err)
			}
		}
	}
	return firstErr
}

// GetStale reads the slowest stale-capable tier ignoring TTL.
func (t *Tiered) GetStale(ctx context.Context, symbol string) (*quote.Quote, error) {
	symbol = quote.NormalizeSymbol(symbol)
	for i := len(t.tiers) - 1; i >= 0; i-- {
		sr, ok := t.tiers[i].(StaleReader)
		if !ok {
			continue
		}
		q, err := sr.GetStale(ctx, symbol)
		if err != nil {
			t.logger.Warn().Err(err).Str("tier", t.tiers[i].Name()).Str("symbol", symbol).Msg("Stale read failed")
			continue
		}
		if q != nil {
			q.Cached = true
			return q, nil
		}
	}
	return nil, nil
}
