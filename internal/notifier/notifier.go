// Package notifier
package notifier

// Notifier delivers operational alerts (failed persistence, sync errors).
// Delivery is best-effort; callers log failures and move on.
type Notifier interface {
	Send(msg string) error
}

// Noop drops every message. Used when no channel is configured.
type Noop struct{}

func (Noop) Send(string) error { return nil }
