// Package provider
package provider

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/quote"
)

// Provider is the interface for all upstream quote sources. Adapters never
// invent a price: an unsupported or unfetchable symbol is absent from the
// result and listed in failed, never defaulted.
type Provider interface {
	Name() string
	Supports(symbol string) bool
	FetchQuotes(ctx context.Context, symbols []string) (quotes []quote.Quote, failed []string)
}

// RetryPolicy controls exponential backoff for transient upstream failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the engine defaults: three attempts, half a
// second doubling up to eight seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// retry wraps fn with retry logic for transient errors, using exponential
// backoff with a small random jitter to avoid thundering herd.
func retry(ctx context.Context, logger zerolog.Logger, policy RetryPolicy, fn func() error) error {
	backoff := policy.BaseDelay
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if attempt == policy.Attempts {
			break
		}
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/5+1))
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", policy.Attempts).
			Dur("backoff", sleep).Msg("Fetch attempt failed, backing off")
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > policy.MaxDelay {
			backoff = policy.MaxDelay
		}
	}
	return err
}

// shortCache is the adapter-local cache that absorbs hot re-requests inside
// a single resolution burst. It is deliberately tiny and short-lived; the
// tiered cache owns real retention.
type shortCache struct {
	mu      sync.Mutex
	entries map[string]shortEntry
	ttl     time.Duration
	now     func() time.Time
}

type shortEntry struct {
	q        quote.Quote
	cachedAt time.Time
}

func newShortCache(ttl time.Duration) *shortCache {
	return &shortCache{entries: make(map[string]shortEntry), ttl: ttl, now: time.Now}
}

func (c *shortCache) get(symbol string) (*quote.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || c.now().Sub(e.cachedAt) > c.ttl {
		return nil, false
	}
	q := e.q
	return &q, true
}

func (c *shortCache) put(q quote.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[quote.NormalizeSymbol(q.Symbol)] = shortEntry{q: q, cachedAt: c.now()}
}
