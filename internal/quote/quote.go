// Package quote
package quote

import (
	"errors"
	"strings"
	"time"
)

// Quote is the normalized priced snapshot of one instrument, as produced by
// a provider adapter or served from a cache tier.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
	Source        string  `json:"source"`    // provider or cache tier that produced it
	Cached        bool    `json:"cached"`    // false for a live fetch
}

// NormalizeSymbol uppercases and trims a user-supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks that a quote is usable before it enters the cache.
func (q *Quote) Validate() error {
	if q.Symbol == "" {
		return errors.New("quote symbol cannot be empty")
	}
	if q.Price <= 0 {
		return errors.New("quote price must be positive")
	}
	if q.Timestamp <= 0 {
		return errors.New("quote timestamp is zero")
	}
	if q.Volume < 0 {
		return errors.New("quote volume cannot be negative")
	}
	if q.High != 0 && q.Low != 0 && q.High < q.Low {
		return errors.New("quote high cannot be less than low")
	}
	return nil
}

// Age returns how long ago the quote was produced.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(q.Timestamp))
}
