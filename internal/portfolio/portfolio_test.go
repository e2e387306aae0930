package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBuyWeightedAverage(t *testing.T) {
	l := NewLedger()

	h, err := l.ApplyBuy("AAPL", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.Quantity)
	assert.Equal(t, 100.0, h.AvgPrice)

	h, err = l.ApplyBuy("aapl", 10, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Quantity)
	assert.Equal(t, 150.0, h.AvgPrice)
	assert.Equal(t, 3000.0, h.TotalCost)
}

func TestApplyBuyRejectsBadInput(t *testing.T) {
	l := NewLedger()

	_, err := l.ApplyBuy("AAPL", 0, 100)
	assert.Error(t, err)

	_, err = l.ApplyBuy("AAPL", 10, -1)
	assert.Error(t, err)

	_, ok := l.Holding("AAPL")
	assert.False(t, ok)
}

func TestApplySellKeepsCostBasis(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyBuy("AAPL", 10, 100)
	require.NoError(t, err)
	_, err = l.ApplyBuy("AAPL", 10, 200)
	require.NoError(t, err)

	h, err := l.ApplySell("AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), h.Quantity)
	// Selling never reprices the remaining shares.
	assert.Equal(t, 150.0, h.AvgPrice)
	assert.Equal(t, 2250.0, h.TotalCost)
}

func TestApplySellExhaustionRemovesHolding(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyBuy("AAPL", 10, 100)
	require.NoError(t, err)

	h, err := l.ApplySell("AAPL", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.Quantity)

	_, ok := l.Holding("AAPL")
	assert.False(t, ok)
	assert.Empty(t, l.Holdings())
}

func TestApplySellInsufficientShares(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyBuy("AAPL", 5, 100)
	require.NoError(t, err)

	_, err = l.ApplySell("AAPL", 6)
	assert.Error(t, err)
	_, err = l.ApplySell("MSFT", 1)
	assert.Error(t, err)

	// Failed sells leave the position untouched.
	h, ok := l.Holding("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(5), h.Quantity)
}

func TestValueSnapshot(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyBuy("AAPL", 10, 100)
	require.NoError(t, err)
	_, err = l.ApplyBuy("MSFT", 2, 250)
	require.NoError(t, err)

	snap := l.Value(map[string]float64{"AAPL": 120})
	require.Len(t, snap.Holdings, 2)

	aapl := snap.Holdings[0]
	assert.True(t, aapl.Priced)
	assert.Equal(t, 1200.0, aapl.MarketValue)
	assert.Equal(t, 200.0, aapl.GainLoss)
	assert.InDelta(t, 20.0, aapl.GainLossPct, 1e-9)

	// MSFT has no quote: reported unpriced, not dropped.
	msft := snap.Holdings[1]
	assert.False(t, msft.Priced)
	assert.Equal(t, 0.0, msft.MarketValue)

	assert.Equal(t, 1500.0, snap.TotalCost)
	assert.Equal(t, 1200.0, snap.TotalValue)
}

func TestSymbols(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyBuy("MSFT", 1, 1)
	require.NoError(t, err)
	_, err = l.ApplyBuy("AAPL", 1, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, l.Symbols())
}
