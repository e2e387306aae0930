package cache

import (
	"context"
	"sync"
	"time"

	"github.com/papersim/trading-engine/internal/quote"
)

// entry wraps a quote with its caching moment. Entries are replaced
// wholesale, never updated in place.
type entry struct {
	q        quote.Quote
	cachedAt time.Time
}

// Memory is the fastest tier: an in-process map with a short TTL and a
// periodic sweep to bound memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(ctx context.Context, symbol string) (*quote.Quote, error) {
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.now().Sub(e.cachedAt) > m.ttl {
		// Expired entry behaves as a miss; the sweep reclaims it.
		return nil, nil
	}
	q := e.q
	return &q, nil
}

func (m *Memory) Put(ctx context.Context, symbol string, q quote.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[symbol] = entry{q: q, cachedAt: m.now()}
	return nil
}

func (m *Memory) Delete(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, symbol)
	return nil
}

// Sweep removes expired entries and reports how many were purged. Scheduled
// periodically by the owner.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for symbol, e := range m.entries {
		if now.Sub(e.cachedAt) > m.ttl {
			delete(m.entries, symbol)
			purged++
		}
	}
	return purged
}

// Len reports the number of resident entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
