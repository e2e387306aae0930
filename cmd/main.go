package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/papersim/trading-engine/internal/api"
	"github.com/papersim/trading-engine/internal/audit"
	"github.com/papersim/trading-engine/internal/balance"
	"github.com/papersim/trading-engine/internal/cache"
	"github.com/papersim/trading-engine/internal/config"
	"github.com/papersim/trading-engine/internal/db"
	"github.com/papersim/trading-engine/internal/logging"
	"github.com/papersim/trading-engine/internal/notifier"
	"github.com/papersim/trading-engine/internal/portfolio"
	"github.com/papersim/trading-engine/internal/provider"
	"github.com/papersim/trading-engine/internal/ratelimit"
	"github.com/papersim/trading-engine/internal/resolver"
	"github.com/papersim/trading-engine/internal/trading"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Logging)
	logger.Info().Str("listen", cfg.ListenAddr).Msg("Starting trading engine")

	storage, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Initializing storage failed")
	}
	defer storage.Close()

	// Cache tiers, fastest first. Redis is optional; the memory and store
	// tiers are always present.
	memTier := cache.NewMemory(cfg.MemoryTTL)
	tiers := []cache.Tier{memTier}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis ping failed")
		}
		defer client.Close()
		tiers = append(tiers, cache.NewRedis(client, cfg.RedisTTL))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache tier enabled")
	}
	tiers = append(tiers, cache.NewStore(storage, cfg.StoreTTL))
	tiered := cache.NewTiered(logger, tiers...)

	governor := ratelimit.NewGovernor(cfg.RateBudget, cfg.RateWindow, cfg.RateSpacing, logger)
	defer governor.Close()

	policy := provider.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	var providers []provider.Provider
	if cfg.PolygonAPIKey != "" {
		providers = append(providers, provider.NewPolygon(cfg.PolygonAPIKey, cfg.StockSymbols, policy, cfg.FetchTimeout, logger))
	}
	if cfg.WallexAPIKey != "" {
		providers = append(providers, provider.NewWallex(cfg.WallexAPIKey, cfg.CryptoSymbols, policy, cfg.FetchTimeout, logger))
	}
	if len(providers) == 0 {
		logger.Fatal().Msg("No market data providers configured; set POLYGON_API_KEY or WALLEX_API_KEY")
	}

	quotes := resolver.New(tiered, governor, providers, logger)

	popular := append(append([]string{}, cfg.StockSymbols...), cfg.CryptoSymbols...)
	refresher, err := resolver.NewRefresher(quotes, popular, cfg.RefreshInterval, cfg.ActivityWindow, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuring market refresher failed")
	}
	refresher.Start()
	defer refresher.Stop()

	// Periodic memory-tier sweep.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() {
		if purged := memTier.Sweep(); purged > 0 {
			logger.Debug().Int("purged", purged).Msg("Memory tier swept")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("Scheduling cache sweep failed")
	}
	sweeper.Start()
	defer sweeper.Stop()

	var auditor audit.Recorder = audit.Nop{}
	if cfg.AuditEnabled && cfg.AuditURL != "" {
		auditor = audit.NewHTTPRecorder(cfg.AuditURL)
		logger.Info().Str("url", cfg.AuditURL).Msg("Audit recording enabled")
	}

	var alerts notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		alerts = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		logger.Info().Msg("Telegram alerts enabled")
	}

	engine := trading.New(quotes, portfolio.NewLedger(), balance.NewInProcess(cfg.StartingCash),
		storage, storage, auditor, alerts, trading.Config{
			FeeRate:   cfg.FeeRate,
			MinFee:    cfg.MinFee,
			MinShares: cfg.MinShares,
			MaxShares: cfg.MaxShares,
		}, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(quotes, engine, popular, logger),
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	// Let in-flight transaction syncs finish before the storage closes.
	engine.Drain()
	logger.Info().Msg("Shutdown complete")
}

// newStorage picks Postgres when configured, otherwise the in-memory store
// (quotes and transactions are lost on restart).
func newStorage(cfg config.Config, logger zerolog.Logger) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		logger.Warn().Msg("No database configured, using in-memory storage")
		return db.NewMemory(), nil
	}
	storage, err := db.NewPostgres(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("Connected to Postgres")
	return storage, nil
}
