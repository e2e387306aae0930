// Package resolver
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/provider"
	"github.com/papersim/trading-engine/internal/quote"
)

// Cache is the tiered quote cache contract the engine depends on.
type Cache interface {
	Get(ctx context.Context, symbol string) (*quote.Quote, error)
	Put(ctx context.Context, symbol string, q quote.Quote) error
	GetStale(ctx context.Context, symbol string) (*quote.Quote, error)
}

// Governor gates live provider calls.
type Governor interface {
	TryAcquire(provider string) bool
}

// Result is the outcome of one resolution call. Symbols that could not be
// priced are listed in Unresolved; callers must treat them as "price
// currently unavailable", never substitute a synthetic value.
type Result struct {
	Quotes     map[string]quote.Quote `json:"quotes"`
	Unresolved []string               `json:"unresolved_symbols"`
}

// Engine answers "give me fresh-enough quotes for these symbols" while
// minimizing upstream calls: cache first, governor before fetch, stale-store
// fallback before giving up.
type Engine struct {
	cache     Cache
	governor  Governor
	providers []provider.Provider
	logger    zerolog.Logger

	mu           sync.Mutex
	lastTS       map[string]int64 // per-symbol monotone timestamps
	lastActivity time.Time
}

func New(cache Cache, governor Governor, providers []provider.Provider, logger zerolog.Logger) *Engine {
	return &Engine{
		cache:     cache,
		governor:  governor,
		providers: providers,
		logger:    logger.With().Str("component", "resolver").Logger(),
		lastTS:    make(map[string]int64),
	}
}

// GetQuotes resolves quotes for symbols. With forceRefresh the cache-read
// step is skipped and every symbol goes to its providers (still governed).
// Partial success is normal; per-symbol misses never surface as errors.
func (e *Engine) GetQuotes(ctx context.Context, symbols []string, forceRefresh bool) Result {
	e.recordActivity()
	return e.resolve(ctx, symbols, forceRefresh)
}

func (e *Engine) resolve(ctx context.Context, symbols []string, forceRefresh bool) Result {
	result := Result{Quotes: make(map[string]quote.Quote)}

	ordered := dedupe(symbols)
	if len(ordered) == 0 {
		return result
	}

	// Step 1: cache partition.
	var pending []string
	if forceRefresh {
		pending = ordered
	} else {
		for _, s := range ordered {
			q, err := e.cache.Get(ctx, s)
			if err != nil {
				e.logger.Warn().Err(err).Str("symbol", s).Msg("Cache read failed")
			}
			if q != nil {
				result.Quotes[s] = *q
				continue
			}
			pending = append(pending, s)
		}
	}

	// Steps 2-4: route pending symbols through supporting providers in
	// registration order. A symbol failed by one provider is offered to the
	// next that claims it; a governor denial sends the whole group to the
	// stale-store fallback instead.
	var fallback []string
	maxRounds := len(e.providers)
	for round := 0; round < maxRounds && len(pending) > 0; round++ {
		groups := make(map[int][]string)
		var exhausted []string
		for _, s := range pending {
			supported := e.providerIndexesFor(s)
			if round >= len(supported) {
				exhausted = append(exhausted, s)
				continue
			}
			idx := supported[round]
			groups[idx] = append(groups[idx], s)
		}
		fallback = append(fallback, exhausted...)

		var mu sync.Mutex
		var wg sync.WaitGroup
		var nextPending []string
		for idx, group := range groups {
			p := e.providers[idx]
			if !e.governor.TryAcquire(p.Name()) {
				e.logger.Info().Str("provider", p.Name()).Int("symbols", len(group)).
					Msg("Rate governor denied live fetch, deferring to stale store")
				fallback = append(fallback, group...)
				continue
			}
			wg.Add(1)
			go func(p provider.Provider, group []string) {
				defer wg.Done()
				quotes, failed := p.FetchQuotes(ctx, group)
				mu.Lock()
				defer mu.Unlock()
				for _, q := range quotes {
					fresh := e.clampTimestamp(q)
					if err := e.cache.Put(ctx, fresh.Symbol, fresh); err != nil {
						e.logger.Warn().Err(err).Str("symbol", fresh.Symbol).Msg("Cache write failed")
					}
					result.Quotes[fresh.Symbol] = fresh
				}
				nextPending = append(nextPending, failed...)
			}(p, group)
		}
		wg.Wait()
		pending = nextPending
	}
	fallback = append(fallback, pending...)

	// Step 3b/5: stale-store fallback, then merge.
	for _, s := range fallback {
		if _, ok := result.Quotes[s]; ok {
			continue
		}
		q, err := e.cache.GetStale(ctx, s)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", s).Msg("Stale fallback read failed")
		}
		if q != nil {
			result.Quotes[s] = *q
			continue
		}
		result.Unresolved = append(result.Unresolved, s)
	}

	return result
}

// providerIndexesFor lists providers claiming s, in registration order.
func (e *Engine) providerIndexesFor(s string) []int {
	var out []int
	for i, p := range e.providers {
		if p.Supports(s) {
			out = append(out, i)
		}
	}
	return out
}

// clampTimestamp enforces per-symbol monotone non-decreasing timestamps
// within this resolver instance.
func (e *Engine) clampTimestamp(q quote.Quote) quote.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastTS[q.Symbol]; ok && q.Timestamp < last {
		q.Timestamp = last
	}
	e.lastTS[q.Symbol] = q.Timestamp
	return q
}

func (e *Engine) recordActivity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivity = time.Now()
}

// RecentActivity reports whether any caller resolved quotes within window.
func (e *Engine) RecentActivity(window time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastActivity.IsZero() {
		return false
	}
	return time.Since(e.lastActivity) < window
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = quote.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
