package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/papersim/trading-engine/internal/journal"
	"github.com/papersim/trading-engine/internal/quote"
)

// MemoryStorage is an in-memory Storage used in tests and db-less runs.
type MemoryStorage struct {
	mu sync.RWMutex

	quotes   map[string]storedQuote
	txs      map[string]Transaction
	txOrder  []string // insertion order, oldest first
	events   []journal.Event
}

type storedQuote struct {
	q        quote.Quote
	cachedAt time.Time
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		quotes: make(map[string]storedQuote),
		txs:    make(map[string]Transaction),
		events: make([]journal.Event, 0, 256),
	}
}

// -------- QuoteStore --------

func (m *MemoryStorage) SaveQuote(ctx context.Context, q quote.Quote, cachedAt time.Time) error {
	if err := q.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[quote.NormalizeSymbol(q.Symbol)] = storedQuote{q: q, cachedAt: cachedAt.UTC()}
	return nil
}

func (m *MemoryStorage) GetQuote(ctx context.Context, symbol string) (*quote.Quote, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.quotes[quote.NormalizeSymbol(symbol)]; ok {
		q := s.q
		return &q, s.cachedAt, nil
	}
	return nil, time.Time{}, nil
}

func (m *MemoryStorage) DeleteQuote(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, quote.NormalizeSymbol(symbol))
	return nil
}

// -------- TransactionStore --------

func (m *MemoryStorage) SaveTransaction(ctx context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; !exists {
		m.txOrder = append(m.txOrder, tx.ID)
	}
	m.txs[tx.ID] = tx
	return nil
}

func (m *MemoryStorage) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()
	m.txs[id] = tx
	return nil
}

func (m *MemoryStorage) GetTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]Transaction, 0, len(m.txs))
	for _, id := range m.txOrder {
		out = append(out, m.txs[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }
