package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papersim/trading-engine/internal/audit"
	"github.com/papersim/trading-engine/internal/balance"
	"github.com/papersim/trading-engine/internal/cache"
	"github.com/papersim/trading-engine/internal/db"
	"github.com/papersim/trading-engine/internal/notifier"
	"github.com/papersim/trading-engine/internal/portfolio"
	"github.com/papersim/trading-engine/internal/provider"
	"github.com/papersim/trading-engine/internal/resolver"
	"github.com/papersim/trading-engine/internal/trading"
)

type allowAll struct{}

func (allowAll) TryAcquire(string) bool { return true }

func newTestServer(t *testing.T) (*Server, *trading.Engine) {
	t.Helper()
	storage := db.NewMemory()
	tiered := cache.NewTiered(zerolog.Nop(),
		cache.NewMemory(5*time.Minute),
		cache.NewStore(storage, 45*time.Minute),
	)
	mock := provider.NewMock("mock", map[string]float64{"AAPL": 300, "MSFT": 250})
	quotes := resolver.New(tiered, allowAll{}, []provider.Provider{mock}, zerolog.Nop())

	engine := trading.New(quotes, portfolio.NewLedger(), balance.NewInProcess(1000),
		storage, storage, audit.Nop{}, notifier.Noop{},
		trading.Config{FeeRate: 0.001, MinFee: 1, MinShares: 1, MaxShares: 10000}, zerolog.Nop())

	return NewServer(quotes, engine, []string{"AAPL", "MSFT"}, zerolog.Nop()), engine
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func doRequest(t *testing.T, s *Server, method, path, body string) (int, testEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestGetQuotes(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := doRequest(t, s, http.MethodGet, "/api/quotes?symbols=aapl,UNKNOWN", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var result resolver.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Contains(t, result.Quotes, "AAPL")
	assert.Equal(t, 300.0, result.Quotes["AAPL"].Price)
	assert.Equal(t, []string{"UNKNOWN"}, result.Unresolved)
}

func TestGetQuotesRequiresSymbols(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := doRequest(t, s, http.MethodGet, "/api/quotes", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, trading.CodeInvalidSymbol, env.Error.Code)
}

func TestMarketSummary(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := doRequest(t, s, http.MethodGet, "/api/market/summary", "")
	require.Equal(t, http.StatusOK, code)

	var result resolver.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Len(t, result.Quotes, 2)
}

func TestBuyEndpoint(t *testing.T) {
	s, engine := newTestServer(t)
	code, env := doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"AAPL","quantity":2}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var receipt trading.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, 399.0, receipt.CashBalance)
	assert.Equal(t, int64(2), receipt.Holding.Quantity)

	engine.Drain()
	code, env = doRequest(t, s, http.MethodGet, "/api/transactions", "")
	require.Equal(t, http.StatusOK, code)
	var listing struct {
		Transactions []db.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	require.Len(t, listing.Transactions, 1)
	assert.Equal(t, "buy", listing.Transactions[0].Type)
}

func TestBuyRejections(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"AAPL","quantity":100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, trading.CodeInsufficientFunds, env.Error.Code)

	code, env = doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"AAPL","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, trading.CodeInvalidQuantity, env.Error.Code)

	code, env = doRequest(t, s, http.MethodPost, "/api/trade/buy", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"TSLA","quantity":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, trading.CodePriceUnavailable, env.Error.Code)
}

func TestSellEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/api/trade/sell", `{"symbol":"AAPL","quantity":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, trading.CodeInsufficientShares, env.Error.Code)

	code, _ = doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"AAPL","quantity":2}`)
	require.Equal(t, http.StatusOK, code)

	code, env = doRequest(t, s, http.MethodPost, "/api/trade/sell", `{"symbol":"AAPL","quantity":1}`)
	require.Equal(t, http.StatusOK, code)

	var receipt trading.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, int64(1), receipt.Holding.Quantity)
	assert.Equal(t, 698.0, receipt.CashBalance)
}

func TestPortfolioAndBalanceEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := doRequest(t, s, http.MethodPost, "/api/trade/buy", `{"symbol":"AAPL","quantity":2}`)
	require.Equal(t, http.StatusOK, code)

	code, env := doRequest(t, s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, code)
	var snap trading.PortfolioSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 399.0, snap.CashBalance)
	assert.Equal(t, 999.0, snap.TotalEquity)

	code, env = doRequest(t, s, http.MethodGet, "/api/balance", "")
	require.Equal(t, http.StatusOK, code)
	var bal map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, 399.0, bal["cash_balance"])
}

func TestTransactionsLimitValidation(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := doRequest(t, s, http.MethodGet, "/api/transactions?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
}
