package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/quote"
)

const polygonBaseURL = "https://api.polygon.io"

// Polygon serves equity symbols from the Polygon.io previous-close aggregate
// endpoint, one request per symbol.
type Polygon struct {
	apiKey  string
	baseURL string
	symbols map[string]bool
	policy  RetryPolicy
	client  *http.Client
	cache   *shortCache
	logger  zerolog.Logger
}

func NewPolygon(apiKey string, symbols []string, policy RetryPolicy, timeout time.Duration, logger zerolog.Logger) *Polygon {
	supported := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		supported[quote.NormalizeSymbol(s)] = true
	}
	return &Polygon{
		apiKey:  apiKey,
		baseURL: polygonBaseURL,
		symbols: supported,
		policy:  policy,
		client:  &http.Client{Timeout: timeout},
		cache:   newShortCache(30 * time.Second),
		logger:  logger.With().Str("component", "provider").Str("provider", "polygon").Logger(),
	}
}

func (p *Polygon) Name() string { return "polygon" }

func (p *Polygon) Supports(symbol string) bool {
	return p.symbols[quote.NormalizeSymbol(symbol)]
}

type polygonAggResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Close     float64 `json:"c"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Open      float64 `json:"o"`
		Volume    float64 `json:"v"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
}

func (p *Polygon) FetchQuotes(ctx context.Context, symbols []string) ([]quote.Quote, []string) {
	var quotes []quote.Quote
	var failed []string
	for _, s := range symbols {
		s = quote.NormalizeSymbol(s)
		if !p.Supports(s) {
			failed = append(failed, s)
			continue
		}
		if q, ok := p.cache.get(s); ok {
			quotes = append(quotes, *q)
			continue
		}
		q, err := p.fetchOne(ctx, s)
		if err != nil {
			p.logger.Warn().Err(err).Str("symbol", s).Msg("Quote fetch failed")
			failed = append(failed, s)
			continue
		}
		p.cache.put(*q)
		quotes = append(quotes, *q)
	}
	return quotes, failed
}

func (p *Polygon) fetchOne(ctx context.Context, symbol string) (*quote.Quote, error) {
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true&apiKey=%s", p.baseURL, symbol, p.apiKey)

	var resp polygonAggResponse
	err := retry(ctx, p.logger, p.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		httpResp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("requesting %s: %w", symbol, err)
		}
		defer httpResp.Body.Close()

		switch {
		case httpResp.StatusCode >= 500:
			return fmt.Errorf("upstream %d for %s", httpResp.StatusCode, symbol)
		case httpResp.StatusCode != http.StatusOK:
			// Client errors are permanent; do not burn retries on them.
			return &permanentError{fmt.Errorf("upstream %d for %s", httpResp.StatusCode, symbol)}
		}

		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return fmt.Errorf("decoding response for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no aggregate data for %s", symbol)
	}

	r := resp.Results[0]
	q := quote.Quote{
		Symbol:        symbol,
		Price:         r.Close,
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		Close:         r.Close,
		Volume:        r.Volume,
		Change:        r.Close - r.Open,
		Timestamp:     r.Timestamp,
		Source:        p.Name(),
	}
	if r.Open > 0 {
		q.ChangePercent = (r.Close - r.Open) / r.Open * 100
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upstream quote for %s: %w", symbol, err)
	}
	return &q, nil
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
