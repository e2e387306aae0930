package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papersim/trading-engine/internal/journal"
	"github.com/papersim/trading-engine/internal/quote"
)

func TestMemoryQuoteStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	q, cachedAt, err := m.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.True(t, cachedAt.IsZero())

	now := time.Now()
	saved := quote.Quote{Symbol: "aapl", Price: 182.5, Timestamp: now.UnixMilli(), Source: "polygon"}
	require.NoError(t, m.SaveQuote(ctx, saved, now))

	// Lookup is case-insensitive through normalization.
	q, cachedAt, err = m.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 182.5, q.Price)
	assert.WithinDuration(t, now, cachedAt, time.Second)

	require.NoError(t, m.DeleteQuote(ctx, "AAPL"))
	q, _, err = m.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestMemoryQuoteStoreRejectsInvalid(t *testing.T) {
	m := NewMemory()
	err := m.SaveQuote(context.Background(), quote.Quote{Symbol: "AAPL"}, time.Now())
	assert.Error(t, err)
}

func TestMemoryTransactionStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, m.SaveTransaction(ctx, Transaction{
			ID:        id,
			Symbol:    "AAPL",
			Type:      "buy",
			Quantity:  1,
			Price:     100,
			Status:    "pending",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, m.UpdateTransactionStatus(ctx, "tx-2", "completed"))
	assert.Error(t, m.UpdateTransactionStatus(ctx, "missing", "completed"))

	txs, err := m.GetTransactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	// Newest first.
	assert.Equal(t, "tx-3", txs[0].ID)
	assert.Equal(t, "tx-2", txs[1].ID)
	assert.Equal(t, "completed", txs[1].Status)
}

func TestMemoryJournaler(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: "trade", Description: "buy AAPL"}))
	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: "sync_error", Description: "persist failed"}))

	events, err := m.GetEvents(ctx, "trade", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "buy AAPL", events[0].Description)
}
