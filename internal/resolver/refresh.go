package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Refresher pre-warms the cache for the popular symbol set on a fixed
// schedule, but only while players have been active recently, so an idle
// deployment stops burning provider quota.
type Refresher struct {
	engine         *Engine
	symbols        []string
	activityWindow time.Duration
	cron           *cron.Cron
	logger         zerolog.Logger
}

func NewRefresher(engine *Engine, symbols []string, interval, activityWindow time.Duration, logger zerolog.Logger) (*Refresher, error) {
	r := &Refresher{
		engine:         engine,
		symbols:        symbols,
		activityWindow: activityWindow,
		cron:           cron.New(),
		logger:         logger.With().Str("component", "refresher").Logger(),
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), r.refresh); err != nil {
		return nil, fmt.Errorf("scheduling market refresh: %w", err)
	}
	return r, nil
}

func (r *Refresher) Start() {
	r.cron.Start()
	r.logger.Info().Int("symbols", len(r.symbols)).Msg("Market refresh scheduled")
}

func (r *Refresher) Stop() {
	r.cron.Stop()
}

func (r *Refresher) refresh() {
	if !r.engine.RecentActivity(r.activityWindow) {
		r.logger.Debug().Msg("No recent player activity, skipping market refresh")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Does not record activity itself; only real callers keep the schedule alive.
	result := r.engine.resolve(ctx, r.symbols, true)
	r.logger.Info().Int("resolved", len(result.Quotes)).Int("unresolved", len(result.Unresolved)).
		Msg("Market refresh complete")
}

// MarketSummary serves the popular symbol set, preferring cache.
func (e *Engine) MarketSummary(ctx context.Context, symbols []string) Result {
	return e.GetQuotes(ctx, symbols, false)
}
