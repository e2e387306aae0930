// Package ratelimit
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// window tracks one provider's calls inside the current wall-clock window.
type window struct {
	calls       int
	windowStart time.Time
	lastCall    time.Time
}

// Governor enforces per-provider call budgets and minimum spacing between
// live calls. Denial is not an error; callers fall back to cache. Granting
// records the call under the same lock, so there is no gap between the
// decision and the recording.
type Governor struct {
	mu      sync.Mutex
	windows map[string]*window

	budget    int
	spacing   time.Duration
	windowLen time.Duration

	now    func() time.Time
	done   chan struct{}
	logger zerolog.Logger
}

// NewGovernor starts the fixed-interval window resetter. Budget does not
// bank across idle periods: the reset runs on the timer, not lazily on read.
func NewGovernor(budget int, windowLen, spacing time.Duration, logger zerolog.Logger) *Governor {
	g := &Governor{
		windows:   make(map[string]*window),
		budget:    budget,
		spacing:   spacing,
		windowLen: windowLen,
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    logger.With().Str("component", "ratelimit").Logger(),
	}
	go g.resetLoop()
	return g
}

// TryAcquire reports whether provider may make a live call right now, and
// records the call if so.
func (g *Governor) TryAcquire(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.windows[provider]
	if !ok {
		w = &window{windowStart: now}
		g.windows[provider] = w
	}

	if w.calls >= g.budget {
		g.logger.Debug().Str("provider", provider).Int("calls", w.calls).Msg("Budget exhausted")
		return false
	}
	if !w.lastCall.IsZero() && now.Sub(w.lastCall) < g.spacing {
		g.logger.Debug().Str("provider", provider).Msg("Spacing not satisfied")
		return false
	}

	w.calls++
	w.lastCall = now
	return true
}

// CallsInWindow reports the recorded calls for provider in the current window.
func (g *Governor) CallsInWindow(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.windows[provider]; ok {
		return w.calls
	}
	return 0
}

func (g *Governor) resetLoop() {
	ticker := time.NewTicker(g.windowLen)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.resetWindows()
		case <-g.done:
			return
		}
	}
}

func (g *Governor) resetWindows() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for _, w := range g.windows {
		w.calls = 0
		w.windowStart = now
	}
}

// Close stops the window resetter.
func (g *Governor) Close() {
	close(g.done)
}
