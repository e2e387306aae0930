package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papersim/trading-engine/internal/audit"
	"github.com/papersim/trading-engine/internal/balance"
	"github.com/papersim/trading-engine/internal/db"
	"github.com/papersim/trading-engine/internal/notifier"
	"github.com/papersim/trading-engine/internal/portfolio"
	"github.com/papersim/trading-engine/internal/quote"
	"github.com/papersim/trading-engine/internal/resolver"
)

type fakeQuotes struct {
	prices  map[string]float64
	blocked chan struct{} // when set, GetQuotes waits until closed
	entered chan struct{} // signaled when a blocked call begins waiting
}

func (f *fakeQuotes) GetQuotes(ctx context.Context, symbols []string, forceRefresh bool) resolver.Result {
	if f.blocked != nil {
		f.entered <- struct{}{}
		<-f.blocked
	}
	result := resolver.Result{Quotes: make(map[string]quote.Quote)}
	for _, s := range symbols {
		s = quote.NormalizeSymbol(s)
		if price, ok := f.prices[s]; ok {
			result.Quotes[s] = quote.Quote{Symbol: s, Price: price, Timestamp: time.Now().UnixMilli(), Source: "fake"}
			continue
		}
		result.Unresolved = append(result.Unresolved, s)
	}
	return result
}

func testConfig() Config {
	return Config{FeeRate: 0.001, MinFee: 1, MinShares: 1, MaxShares: 10000}
}

func newTestEngine(t *testing.T, cash float64, prices map[string]float64) (*Engine, *db.MemoryStorage) {
	t.Helper()
	storage := db.NewMemory()
	engine := New(&fakeQuotes{prices: prices}, portfolio.NewLedger(), balance.NewInProcess(cash),
		storage, storage, audit.Nop{}, notifier.Noop{}, testConfig(), zerolog.Nop())
	return engine, storage
}

func TestBuy(t *testing.T) {
	ctx := context.Background()
	engine, storage := newTestEngine(t, 1000, map[string]float64{"AAPL": 300})

	receipt, err := engine.Buy(ctx, "aapl", 2)
	require.NoError(t, err)

	// 2*300 = 600 total; 0.1% fee is 0.60, floored to the 1.00 minimum.
	assert.Equal(t, 600.0, receipt.Transaction.TotalAmount)
	assert.Equal(t, 1.0, receipt.Transaction.Fee)
	assert.Equal(t, 399.0, receipt.CashBalance)
	assert.Equal(t, "completed", receipt.Transaction.Status)

	assert.Equal(t, int64(2), receipt.Holding.Quantity)
	assert.Equal(t, 300.0, receipt.Holding.AvgPrice)

	engine.Drain()
	txs, err := storage.GetTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, receipt.Transaction.ID, txs[0].ID)
	assert.Equal(t, "completed", txs[0].Status)
}

func TestBuyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 500, map[string]float64{"AAPL": 300})

	_, err := engine.Buy(ctx, "AAPL", 2)
	var terr *TradeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeInsufficientFunds, terr.Code)

	// A rejected buy changes nothing.
	cash, err := engine.CashBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500.0, cash)
}

func TestBuyPriceUnavailable(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 1000, map[string]float64{})

	_, err := engine.Buy(ctx, "AAPL", 1)
	var terr *TradeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodePriceUnavailable, terr.Code)
}

func TestOrderValidation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 1000, map[string]float64{"AAPL": 300})

	cases := []struct {
		name     string
		symbol   string
		quantity int64
		code     string
	}{
		{"empty symbol", "  ", 1, CodeInvalidSymbol},
		{"zero quantity", "AAPL", 0, CodeInvalidQuantity},
		{"negative quantity", "AAPL", -5, CodeInvalidQuantity},
		{"above max", "AAPL", 10001, CodeInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Buy(ctx, tc.symbol, tc.quantity)
			var terr *TradeError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.code, terr.Code)

			_, err = engine.Sell(ctx, tc.symbol, tc.quantity)
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.code, terr.Code)
		})
	}
}

func TestSell(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 1000, map[string]float64{"AAPL": 300})

	_, err := engine.Buy(ctx, "AAPL", 2)
	require.NoError(t, err)

	receipt, err := engine.Sell(ctx, "AAPL", 1)
	require.NoError(t, err)

	// Proceeds 300 minus the 1.00 minimum fee, on top of 399 post-buy cash.
	assert.Equal(t, 1.0, receipt.Transaction.Fee)
	assert.Equal(t, 698.0, receipt.CashBalance)
	assert.Equal(t, int64(1), receipt.Holding.Quantity)
	assert.Equal(t, 300.0, receipt.Holding.AvgPrice)
}

func TestSellInsufficientShares(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 1000, map[string]float64{"AAPL": 300})

	_, err := engine.Sell(ctx, "AAPL", 1)
	var terr *TradeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeInsufficientShares, terr.Code)

	_, err = engine.Buy(ctx, "AAPL", 2)
	require.NoError(t, err)
	_, err = engine.Sell(ctx, "AAPL", 3)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeInsufficientShares, terr.Code)
}

func TestPercentageFeeAboveFloor(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100000, map[string]float64{"AAPL": 500})

	// 10*500 = 5000 total; 0.1% fee is 5.00, above the floor.
	receipt, err := engine.Buy(ctx, "AAPL", 10)
	require.NoError(t, err)
	assert.Equal(t, 5.0, receipt.Transaction.Fee)
	assert.Equal(t, 100000.0-5005.0, receipt.CashBalance)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	quotes := &fakeQuotes{
		prices:  map[string]float64{"AAPL": 300},
		blocked: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	engine := New(quotes, portfolio.NewLedger(), balance.NewInProcess(1000),
		storage, storage, audit.Nop{}, notifier.Noop{}, testConfig(), zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := engine.Buy(ctx, "AAPL", 1)
		done <- err
	}()

	// Wait for the first buy to enter its critical section, then race it.
	<-quotes.entered
	_, err := engine.Buy(ctx, "AAPL", 1)
	var terr *TradeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeTransactionInProgress, terr.Code)

	close(quotes.blocked)
	require.NoError(t, <-done)
}

func TestSyncFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	broken := &failingStore{}
	engine := New(&fakeQuotes{prices: map[string]float64{"AAPL": 300}}, portfolio.NewLedger(),
		balance.NewInProcess(1000), broken, storage, audit.Nop{}, notifier.Noop{}, testConfig(), zerolog.Nop())

	receipt, err := engine.Buy(ctx, "AAPL", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Holding.Quantity)

	engine.Drain()

	// The settled trade stands; the failure is journaled.
	cash, err := engine.CashBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 699.0, cash)

	events, err := storage.GetEvents(ctx, "sync_error", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestPortfolio(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 1000, map[string]float64{"AAPL": 300})

	snap, err := engine.Portfolio(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Holdings)
	assert.Equal(t, 1000.0, snap.CashBalance)
	assert.Equal(t, 1000.0, snap.TotalEquity)

	_, err = engine.Buy(ctx, "AAPL", 2)
	require.NoError(t, err)

	snap, err = engine.Portfolio(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, 600.0, snap.TotalValue)
	assert.Equal(t, 399.0, snap.CashBalance)
	assert.Equal(t, 999.0, snap.TotalEquity)
}

type failingStore struct{}

func (failingStore) SaveTransaction(context.Context, db.Transaction) error {
	return errors.New("store unavailable")
}

func (failingStore) UpdateTransactionStatus(context.Context, string, string) error {
	return errors.New("store unavailable")
}

func (failingStore) GetTransactions(context.Context, int) ([]db.Transaction, error) {
	return nil, errors.New("store unavailable")
}
