// Package trading executes simulated buy and sell orders against live
// resolved prices, settling cash and holdings synchronously and syncing the
// durable record and audit trail in the background.
package trading

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/audit"
	"github.com/papersim/trading-engine/internal/balance"
	"github.com/papersim/trading-engine/internal/db"
	"github.com/papersim/trading-engine/internal/journal"
	"github.com/papersim/trading-engine/internal/notifier"
	"github.com/papersim/trading-engine/internal/portfolio"
	"github.com/papersim/trading-engine/internal/quote"
	"github.com/papersim/trading-engine/internal/resolver"
)

// Error codes returned to API clients.
const (
	CodeInvalidSymbol         = "INVALID_SYMBOL"
	CodeInvalidQuantity       = "INVALID_QUANTITY"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeInsufficientShares    = "INSUFFICIENT_SHARES"
	CodePriceUnavailable      = "PRICE_UNAVAILABLE"
	CodeTransactionInProgress = "TRANSACTION_IN_PROGRESS"
	CodeInternal              = "INTERNAL"
)

// TradeError is a rejected trade. Code is machine-readable and stable.
type TradeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func tradeErrorf(code, format string, args ...any) *TradeError {
	return &TradeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// QuoteService resolves current prices for trade execution and valuation.
type QuoteService interface {
	GetQuotes(ctx context.Context, symbols []string, forceRefresh bool) resolver.Result
}

// Receipt is the synchronous result of an accepted trade.
type Receipt struct {
	Transaction db.Transaction    `json:"transaction"`
	Holding     portfolio.Holding `json:"holding"`
	CashBalance float64           `json:"cash_balance"`
}

// Config bounds order sizes and prices fees.
type Config struct {
	FeeRate   float64
	MinFee    float64
	MinShares int64
	MaxShares int64
}

// Engine validates, prices, and settles trades. Cash and holdings settle
// before the call returns; the durable transaction log and audit trail sync
// in the background and never roll a settled trade back.
type Engine struct {
	quotes   QuoteService
	ledger   *portfolio.Ledger
	balance  balance.Service
	store    db.TransactionStore
	journal  journal.Journaler
	auditor  audit.Recorder
	notifier notifier.Notifier
	logger   zerolog.Logger
	cfg      Config

	inFlight int32
	syncWG   sync.WaitGroup
	now      func() time.Time
}

func New(quotes QuoteService, ledger *portfolio.Ledger, bal balance.Service, store db.TransactionStore,
	jr journal.Journaler, auditor audit.Recorder, nt notifier.Notifier, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		quotes:   quotes,
		ledger:   ledger,
		balance:  bal,
		store:    store,
		journal:  jr,
		auditor:  auditor,
		notifier: nt,
		logger:   logger.With().Str("component", "trading").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Buy purchases quantity shares of symbol at the current resolved price.
// Total cost is price*quantity plus the fee; both are debited before the
// call returns.
func (e *Engine) Buy(ctx context.Context, symbol string, quantity int64) (*Receipt, error) {
	symbol, err := e.validateOrder(symbol, quantity)
	if err != nil {
		return nil, err
	}
	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		return nil, tradeErrorf(CodeTransactionInProgress, "another transaction is in progress")
	}
	defer atomic.StoreInt32(&e.inFlight, 0)

	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	total := price * float64(quantity)
	fee := e.fee(total)

	newBalance, err := e.balance.ApplyDelta(ctx, -(total + fee), "buy "+symbol)
	if err != nil {
		return nil, tradeErrorf(CodeInsufficientFunds,
			"need %.2f (%.2f + %.2f fee) to buy %d %s", total+fee, total, fee, quantity, symbol)
	}

	holding, err := e.ledger.ApplyBuy(symbol, quantity, price)
	if err != nil {
		// Refund; the ledger rejected what validation let through.
		if _, rerr := e.balance.ApplyDelta(ctx, total+fee, "refund buy "+symbol); rerr != nil {
			e.logger.Error().Err(rerr).Str("symbol", symbol).Msg("Refund after ledger rejection failed")
		}
		return nil, tradeErrorf(CodeInternal, "recording buy: %v", err)
	}

	tx := e.newTransaction(symbol, "buy", quantity, price, total, fee)
	e.syncTransaction(tx)

	e.logger.Info().Str("tx", tx.ID).Str("symbol", symbol).Int64("quantity", quantity).
		Float64("price", price).Float64("fee", fee).Msg("Buy executed")
	return &Receipt{Transaction: tx, Holding: holding, CashBalance: newBalance}, nil
}

// Sell disposes quantity shares of symbol at the current resolved price.
// The fee is taken out of the proceeds.
func (e *Engine) Sell(ctx context.Context, symbol string, quantity int64) (*Receipt, error) {
	symbol, err := e.validateOrder(symbol, quantity)
	if err != nil {
		return nil, err
	}
	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		return nil, tradeErrorf(CodeTransactionInProgress, "another transaction is in progress")
	}
	defer atomic.StoreInt32(&e.inFlight, 0)

	held, ok := e.ledger.Holding(symbol)
	if !ok || held.Quantity < quantity {
		return nil, tradeErrorf(CodeInsufficientShares,
			"insufficient shares of %s: have %d, want %d", symbol, held.Quantity, quantity)
	}

	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	total := price * float64(quantity)
	fee := e.fee(total)
	proceeds := total - fee
	if proceeds < 0 {
		proceeds = 0
	}

	holding, err := e.ledger.ApplySell(symbol, quantity)
	if err != nil {
		return nil, tradeErrorf(CodeInsufficientShares, "%v", err)
	}

	newBalance, err := e.balance.ApplyDelta(ctx, proceeds, "sell "+symbol)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("Crediting sell proceeds failed")
		return nil, tradeErrorf(CodeInternal, "crediting proceeds: %v", err)
	}

	tx := e.newTransaction(symbol, "sell", quantity, price, total, fee)
	e.syncTransaction(tx)

	e.logger.Info().Str("tx", tx.ID).Str("symbol", symbol).Int64("quantity", quantity).
		Float64("price", price).Float64("fee", fee).Msg("Sell executed")
	return &Receipt{Transaction: tx, Holding: holding, CashBalance: newBalance}, nil
}

// PortfolioSnapshot values current holdings at live prices and reports cash.
type PortfolioSnapshot struct {
	portfolio.Snapshot
	CashBalance float64 `json:"cash_balance"`
	TotalEquity float64 `json:"total_equity"`
}

func (e *Engine) Portfolio(ctx context.Context) (PortfolioSnapshot, error) {
	cash, err := e.balance.Balance(ctx)
	if err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("reading cash balance: %w", err)
	}

	symbols := e.ledger.Symbols()
	prices := make(map[string]float64, len(symbols))
	if len(symbols) > 0 {
		result := e.quotes.GetQuotes(ctx, symbols, false)
		for s, q := range result.Quotes {
			prices[s] = q.Price
		}
	}

	snap := e.ledger.Value(prices)
	return PortfolioSnapshot{
		Snapshot:    snap,
		CashBalance: cash,
		TotalEquity: cash + snap.TotalValue,
	}, nil
}

// Transactions lists the most recent transactions, newest first.
func (e *Engine) Transactions(ctx context.Context, limit int) ([]db.Transaction, error) {
	return e.store.GetTransactions(ctx, limit)
}

// CashBalance reports the current cash balance.
func (e *Engine) CashBalance(ctx context.Context) (float64, error) {
	return e.balance.Balance(ctx)
}

// Drain blocks until all background transaction syncs have finished. Called
// on shutdown.
func (e *Engine) Drain() {
	e.syncWG.Wait()
}

func (e *Engine) validateOrder(symbol string, quantity int64) (string, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", tradeErrorf(CodeInvalidSymbol, "symbol is required")
	}
	if quantity < e.cfg.MinShares || quantity > e.cfg.MaxShares {
		return "", tradeErrorf(CodeInvalidQuantity,
			"quantity must be between %d and %d, got %d", e.cfg.MinShares, e.cfg.MaxShares, quantity)
	}
	return symbol, nil
}

func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	result := e.quotes.GetQuotes(ctx, []string{symbol}, false)
	q, ok := result.Quotes[symbol]
	if !ok || q.Price <= 0 {
		return 0, tradeErrorf(CodePriceUnavailable, "no price available for %s", symbol)
	}
	return q.Price, nil
}

// fee is a percentage of the trade total with a floor.
func (e *Engine) fee(total float64) float64 {
	fee := total * e.cfg.FeeRate
	if fee < e.cfg.MinFee {
		fee = e.cfg.MinFee
	}
	return fee
}

func (e *Engine) newTransaction(symbol, kind string, quantity int64, price, total, fee float64) db.Transaction {
	now := e.now()
	return db.Transaction{
		ID:          fmt.Sprintf("txn_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		Symbol:      symbol,
		Type:        kind,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: total,
		Fee:         fee,
		Status:      "completed",
		Timestamp:   now,
		UpdatedAt:   now,
	}
}

// syncTransaction persists and audits tx in the background. The trade has
// already settled; a sync failure is journaled and alerted, never rolled
// back.
func (e *Engine) syncTransaction(tx db.Transaction) {
	e.syncWG.Add(1)
	go func() {
		defer e.syncWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pending := tx
		pending.Status = "pending"
		if err := e.store.SaveTransaction(ctx, pending); err != nil {
			e.reportSyncFailure(ctx, tx, "saving transaction", err)
		} else if err := e.store.UpdateTransactionStatus(ctx, tx.ID, tx.Status); err != nil {
			e.reportSyncFailure(ctx, tx, "updating transaction status", err)
		}

		if err := e.auditor.Record(ctx, tx); err != nil {
			e.reportSyncFailure(ctx, tx, "recording audit entry", err)
		}

		if err := e.journal.LogEvent(ctx, journal.Event{
			Time:        tx.Timestamp,
			Type:        "trade",
			Description: fmt.Sprintf("%s %d %s @ %.2f", tx.Type, tx.Quantity, tx.Symbol, tx.Price),
			Data:        map[string]any{"id": tx.ID, "fee": tx.Fee, "total": tx.TotalAmount},
		}); err != nil {
			e.logger.Warn().Err(err).Str("tx", tx.ID).Msg("Journaling trade failed")
		}
	}()
}

func (e *Engine) reportSyncFailure(ctx context.Context, tx db.Transaction, step string, err error) {
	e.logger.Error().Err(err).Str("tx", tx.ID).Str("step", step).Msg("Transaction sync failed")
	if jerr := e.journal.LogEvent(ctx, journal.Event{
		Time:        e.now(),
		Type:        "sync_error",
		Description: fmt.Sprintf("%s for %s failed: %v", step, tx.ID, err),
		Data:        map[string]any{"id": tx.ID, "step": step},
	}); jerr != nil {
		e.logger.Warn().Err(jerr).Str("tx", tx.ID).Msg("Journaling sync failure failed")
	}
	if nerr := e.notifier.Send(fmt.Sprintf("transaction sync failure: %s for %s: %v", step, tx.ID, err)); nerr != nil {
		e.logger.Warn().Err(nerr).Str("tx", tx.ID).Msg("Notifying sync failure failed")
	}
}
