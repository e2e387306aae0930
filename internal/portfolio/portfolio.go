// Package portfolio
package portfolio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/papersim/trading-engine/internal/quote"
)

// Holding is one position in the ledger. AvgPrice is the weighted-average
// cost basis across all buys still held; sells shrink Quantity without
// touching AvgPrice.
type Holding struct {
	Symbol    string  `json:"symbol"`
	Quantity  int64   `json:"quantity"`
	AvgPrice  float64 `json:"avg_price"`
	TotalCost float64 `json:"total_cost"`
}

// Valuation is a holding priced against a current quote. CurrentPrice is zero
// and Priced false when no quote was available for the symbol.
type Valuation struct {
	Holding
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	GainLoss     float64 `json:"gain_loss"`
	GainLossPct  float64 `json:"gain_loss_pct"`
	Priced       bool    `json:"priced"`
}

// Snapshot is the full portfolio valued at a point in time.
type Snapshot struct {
	Holdings    []Valuation `json:"holdings"`
	TotalCost   float64     `json:"total_cost"`
	TotalValue  float64     `json:"total_value"`
	GainLoss    float64     `json:"gain_loss"`
	GainLossPct float64     `json:"gain_loss_pct"`
}

// Ledger tracks holdings keyed by normalized symbol. All methods are safe for
// concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	holdings map[string]Holding
}

func NewLedger() *Ledger {
	return &Ledger{holdings: make(map[string]Holding)}
}

// ApplyBuy merges quantity shares bought at price into the ledger, folding
// the new lot into the weighted-average cost basis.
func (l *Ledger) ApplyBuy(symbol string, quantity int64, price float64) (Holding, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if quantity <= 0 {
		return Holding{}, fmt.Errorf("buy quantity must be positive, got %d", quantity)
	}
	if price <= 0 {
		return Holding{}, fmt.Errorf("buy price must be positive, got %v", price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.holdings[symbol]
	h.Symbol = symbol
	h.TotalCost += float64(quantity) * price
	h.Quantity += quantity
	h.AvgPrice = h.TotalCost / float64(h.Quantity)
	l.holdings[symbol] = h
	return h, nil
}

// ApplySell removes quantity shares from the position. The cost basis per
// share stays fixed; selling the whole position removes it from the ledger.
func (l *Ledger) ApplySell(symbol string, quantity int64) (Holding, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if quantity <= 0 {
		return Holding{}, fmt.Errorf("sell quantity must be positive, got %d", quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[symbol]
	if !ok || h.Quantity < quantity {
		return Holding{}, fmt.Errorf("insufficient shares of %s: have %d, want %d", symbol, h.Quantity, quantity)
	}

	h.Quantity -= quantity
	if h.Quantity == 0 {
		delete(l.holdings, symbol)
		return Holding{Symbol: symbol}, nil
	}
	h.TotalCost = float64(h.Quantity) * h.AvgPrice
	l.holdings[symbol] = h
	return h, nil
}

// Holding returns the position for symbol and whether one exists.
func (l *Ledger) Holding(symbol string) (Holding, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.holdings[quote.NormalizeSymbol(symbol)]
	return h, ok
}

// Holdings lists all positions sorted by symbol.
func (l *Ledger) Holdings() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Holding, 0, len(l.holdings))
	for _, h := range l.holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols lists the symbols currently held, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.holdings))
	for s := range l.holdings {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Value prices the portfolio against prices (symbol -> current price).
// Holdings with no price are included unpriced rather than dropped, so the
// snapshot never hides a position just because its quote is unavailable.
func (l *Ledger) Value(prices map[string]float64) Snapshot {
	holdings := l.Holdings()

	snap := Snapshot{Holdings: make([]Valuation, 0, len(holdings))}
	for _, h := range holdings {
		v := Valuation{Holding: h}
		if price, ok := prices[h.Symbol]; ok && price > 0 {
			v.Priced = true
			v.CurrentPrice = price
			v.MarketValue = float64(h.Quantity) * price
			v.GainLoss = v.MarketValue - h.TotalCost
			if h.TotalCost > 0 {
				v.GainLossPct = v.GainLoss / h.TotalCost * 100
			}
			snap.TotalValue += v.MarketValue
		}
		snap.TotalCost += h.TotalCost
		snap.Holdings = append(snap.Holdings, v)
	}
	snap.GainLoss = snap.TotalValue - snap.TotalCost
	if snap.TotalCost > 0 {
		snap.GainLossPct = snap.GainLoss / snap.TotalCost * 100
	}
	return snap
}
