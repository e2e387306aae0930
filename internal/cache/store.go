package cache

import (
	"context"
	"time"

	"github.com/papersim/trading-engine/internal/db"
	"github.com/papersim/trading-engine/internal/quote"
)

// Store is the slowest tier, backed by the durable quote store. It expires
// lazily on read and can serve stale entries as a last-resort fallback when
// the rate governor denies a live fetch. Expired entries are kept until they
// pass the retention horizon, so the stale fallback has something to serve.
type Store struct {
	store     db.QuoteStore
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewStore(store db.QuoteStore, ttl time.Duration) *Store {
	return &Store{store: store, ttl: ttl, retention: 24 * time.Hour, now: time.Now}
}

func (s *Store) Name() string { return "store" }

func (s *Store) Get(ctx context.Context, symbol string) (*quote.Quote, error) {
	q, cachedAt, err := s.store.GetQuote(ctx, symbol)
	if err != nil || q == nil {
		return nil, err
	}
	age := s.now().Sub(cachedAt)
	if age > s.ttl {
		if age > s.retention {
			_ = s.store.DeleteQuote(ctx, symbol)
		}
		return nil, nil
	}
	return q, nil
}

// GetStale returns whatever the store holds, regardless of age.
func (s *Store) GetStale(ctx context.Context, symbol string) (*quote.Quote, error) {
	q, _, err := s.store.GetQuote(ctx, symbol)
	return q, err
}

func (s *Store) Put(ctx context.Context, symbol string, q quote.Quote) error {
	return s.store.SaveQuote(ctx, q, s.now())
}

func (s *Store) Delete(ctx context.Context, symbol string) error {
	return s.store.DeleteQuote(ctx, symbol)
}
