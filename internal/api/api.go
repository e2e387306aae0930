// Package api exposes the quote resolver and trading engine over HTTP.
// Every response uses the same envelope: {"success": bool, "data": ...} on
// success, {"success": false, "error": {"code", "message"}} on failure.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/quote"
	"github.com/papersim/trading-engine/internal/resolver"
	"github.com/papersim/trading-engine/internal/trading"
)

// QuoteResolver is the market-data surface the API serves.
type QuoteResolver interface {
	GetQuotes(ctx context.Context, symbols []string, forceRefresh bool) resolver.Result
	MarketSummary(ctx context.Context, symbols []string) resolver.Result
}

// Server routes HTTP requests to the resolver and trading engine.
type Server struct {
	resolver QuoteResolver
	trading  *trading.Engine
	symbols  []string // popular set served by /api/market/summary
	logger   zerolog.Logger
	router   chi.Router
}

func NewServer(qr QuoteResolver, te *trading.Engine, popularSymbols []string, logger zerolog.Logger) *Server {
	s := &Server{
		resolver: qr,
		trading:  te,
		symbols:  popularSymbols,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/quotes", s.handleQuotes)
		r.Get("/market/summary", s.handleMarketSummary)
		r.Post("/trade/buy", s.handleBuy)
		r.Post("/trade/sell", s.handleSell)
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Writing response failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQuotes serves GET /api/quotes?symbols=AAPL,MSFT[&refresh=true].
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		if sym := quote.NormalizeSymbol(part); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, trading.CodeInvalidSymbol, "symbols query parameter is required")
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	result := s.resolver.GetQuotes(r.Context(), symbols, refresh)
	s.writeData(w, http.StatusOK, result)
}

func (s *Server) handleMarketSummary(w http.ResponseWriter, r *http.Request) {
	result := s.resolver.MarketSummary(r.Context(), s.symbols)
	s.writeData(w, http.StatusOK, result)
}

type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.trading.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.trading.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request,
	exec func(ctx context.Context, symbol string, quantity int64) (*trading.Receipt, error)) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, trading.CodeInternal, "invalid request body")
		return
	}

	receipt, err := exec(r.Context(), req.Symbol, req.Quantity)
	if err != nil {
		var terr *trading.TradeError
		if errors.As(err, &terr) {
			s.writeError(w, statusForCode(terr.Code), terr.Code, terr.Message)
			return
		}
		s.logger.Error().Err(err).Msg("Trade failed")
		s.writeError(w, http.StatusInternalServerError, trading.CodeInternal, "internal error")
		return
	}
	s.writeData(w, http.StatusOK, receipt)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trading.Portfolio(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Portfolio snapshot failed")
		s.writeError(w, http.StatusInternalServerError, trading.CodeInternal, "internal error")
		return
	}
	s.writeData(w, http.StatusOK, snap)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	cash, err := s.trading.CashBalance(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Balance read failed")
		s.writeError(w, http.StatusInternalServerError, trading.CodeInternal, "internal error")
		return
	}
	s.writeData(w, http.StatusOK, map[string]float64{"cash_balance": cash})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, trading.CodeInternal, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := s.trading.Transactions(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Transaction list failed")
		s.writeError(w, http.StatusInternalServerError, trading.CodeInternal, "internal error")
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"transactions": txs})
}

func statusForCode(code string) int {
	switch code {
	case trading.CodeInvalidSymbol, trading.CodeInvalidQuantity:
		return http.StatusBadRequest
	case trading.CodeInsufficientFunds, trading.CodeInsufficientShares:
		return http.StatusUnprocessableEntity
	case trading.CodePriceUnavailable:
		return http.StatusServiceUnavailable
	case trading.CodeTransactionInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
