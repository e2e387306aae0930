package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/papersim/trading-engine/internal/quote"
)

// Wallex serves crypto symbols (e.g. BTC-USDT) from the Wallex market stats
// endpoint. One upstream call covers every requested symbol.
type Wallex struct {
	client  *wallex.Client
	symbols map[string]bool
	policy  RetryPolicy
	timeout time.Duration
	cache   *shortCache
	logger  zerolog.Logger
}

func NewWallex(apiKey string, symbols []string, policy RetryPolicy, timeout time.Duration, logger zerolog.Logger) *Wallex {
	supported := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		supported[quote.NormalizeSymbol(s)] = true
	}
	return &Wallex{
		client:  wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		symbols: supported,
		policy:  policy,
		timeout: timeout,
		cache:   newShortCache(30 * time.Second),
		logger:  logger.With().Str("component", "provider").Str("provider", "wallex").Logger(),
	}
}

func (w *Wallex) Name() string { return "wallex" }

func (w *Wallex) Supports(symbol string) bool {
	return w.symbols[quote.NormalizeSymbol(symbol)]
}

// apiSymbol strips the dash: BTC-USDT -> BTCUSDT.
func apiSymbol(symbol string) string {
	return strings.ReplaceAll(quote.NormalizeSymbol(symbol), "-", "")
}

func (w *Wallex) FetchQuotes(ctx context.Context, symbols []string) ([]quote.Quote, []string) {
	var quotes []quote.Quote
	var remaining []string
	for _, s := range symbols {
		s = quote.NormalizeSymbol(s)
		if !w.Supports(s) {
			remaining = append(remaining, s)
			continue
		}
		if q, ok := w.cache.get(s); ok {
			quotes = append(quotes, *q)
			continue
		}
		remaining = append(remaining, s)
	}
	if len(remaining) == 0 {
		return quotes, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var markets []*wallex.Market
	err := retry(fetchCtx, w.logger, w.policy, func() error {
		select {
		case <-fetchCtx.Done():
			return fetchCtx.Err()
		default:
		}
		var err error
		markets, err = w.client.Markets()
		return err
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("Market stats fetch failed")
		return quotes, remaining
	}

	bySymbol := make(map[string]*wallex.Market, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}

	now := time.Now().UnixMilli()
	var failed []string
	for _, s := range remaining {
		if !w.Supports(s) {
			failed = append(failed, s)
			continue
		}
		m, ok := bySymbol[apiSymbol(s)]
		if !ok {
			failed = append(failed, s)
			continue
		}
		price := num(m.Stats.LastPrice)
		changePct := num(m.Stats.Change24H)
		q := quote.Quote{
			Symbol:        s,
			Price:         price,
			High:          num(m.Stats.HighPrice24H),
			Low:           num(m.Stats.LowPrice24H),
			Close:         price,
			Volume:        num(m.Stats.Volume24H),
			Change:        price * changePct / 100,
			ChangePercent: changePct,
			Timestamp:     now,
			Source:        w.Name(),
		}
		if err := q.Validate(); err != nil {
			w.logger.Warn().Err(err).Str("symbol", s).Msg("Discarding invalid upstream quote")
			failed = append(failed, s)
			continue
		}
		w.cache.put(q)
		quotes = append(quotes, q)
	}
	return quotes, failed
}

// num safely parses a wallex.Number.
func num(n wallex.Number) float64 {
	out, _ := strconv.ParseFloat(string(n), 64)
	return out
}
