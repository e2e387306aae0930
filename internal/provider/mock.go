package provider

import (
	"context"
	"sync"
	"time"

	"github.com/papersim/trading-engine/internal/quote"
)

// Mock is a scriptable provider for tests.
type Mock struct {
	mu        sync.Mutex
	name      string
	prices    map[string]float64
	failAll   bool
	callCount int
	fetched   [][]string
}

func NewMock(name string, prices map[string]float64) *Mock {
	return &Mock{name: name, prices: prices}
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Supports(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.prices[quote.NormalizeSymbol(symbol)]
	return ok
}

// SetPrice changes the price served for symbol; a zero price removes it.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := quote.NormalizeSymbol(symbol)
	if price == 0 {
		delete(m.prices, s)
		return
	}
	m.prices[s] = price
}

// FailAll makes every subsequent fetch report all symbols as failed.
func (m *Mock) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// CallCount reports how many FetchQuotes invocations reached the upstream.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *Mock) FetchQuotes(ctx context.Context, symbols []string) ([]quote.Quote, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.fetched = append(m.fetched, append([]string(nil), symbols...))

	var quotes []quote.Quote
	var failed []string
	now := time.Now().UnixMilli()
	for _, s := range symbols {
		s = quote.NormalizeSymbol(s)
		price, ok := m.prices[s]
		if !ok || m.failAll {
			failed = append(failed, s)
			continue
		}
		quotes = append(quotes, quote.Quote{
			Symbol:    s,
			Price:     price,
			Close:     price,
			Timestamp: now,
			Source:    m.name,
		})
	}
	return quotes, failed
}
