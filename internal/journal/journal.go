// Package journal
package journal

import (
	"context"
	"time"
)

// Event represents a journaled engine event (trade, sync failure, provider
// outage, etc.).
type Event struct {
	Time        time.Time
	Type        string // e.g., "trade", "sync_error", "provider_error"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
