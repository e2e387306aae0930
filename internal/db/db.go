// Package db
package db

import (
	"context"
	"time"

	"github.com/papersim/trading-engine/internal/journal"
	"github.com/papersim/trading-engine/internal/quote"
)

// Transaction is the durable record of one executed (or attempted) trade.
type Transaction struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Type        string    `json:"type"` // "buy" or "sell"
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	TotalAmount float64   `json:"total_amount"`
	Fee         float64   `json:"fee"`
	Status      string    `json:"status"` // pending, completed, failed, cancelled
	Timestamp   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QuoteStore is the long-lived quote key-value store. It backs the slowest
// cache tier and survives restarts.
type QuoteStore interface {
	SaveQuote(ctx context.Context, q quote.Quote, cachedAt time.Time) error
	// GetQuote returns (nil, zero, nil) when the symbol is absent.
	GetQuote(ctx context.Context, symbol string) (*quote.Quote, time.Time, error)
	DeleteQuote(ctx context.Context, symbol string) error
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
	UpdateTransactionStatus(ctx context.Context, id, status string) error
	GetTransactions(ctx context.Context, limit int) ([]Transaction, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	QuoteStore
	TransactionStore
	journal.Journaler
	Close() error
}
