package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetsmatch/roommates/internal/cache"
	"github.com/meetsmatch/roommates/internal/httpserver"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/middleware"
	"github.com/meetsmatch/roommates/internal/monitoring"
	"github.com/meetsmatch/roommates/internal/narration"
	"github.com/meetsmatch/roommates/internal/notify"
	"github.com/meetsmatch/roommates/internal/services"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matching HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx = telemetry.WithCorrelationID(ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "serve",
		"version":   version,
	})

	shutdownOTel, err := telemetry.InitializeOpenTelemetry(ctx, &cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownOTel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	storeMetrics, err := monitoring.NewStoreInstrumentation(cfg.Store.Driver)
	if err != nil {
		return err
	}
	b.store = storeMetrics.Wrap(b.store)

	health := monitoring.NewHealthChecker(cfg.Telemetry.ServiceName, version)
	if b.db != nil {
		health.RegisterCheck("database", b.db.Health, 500*time.Millisecond)
		if err := storeMetrics.ObservePool(b.db.DB); err != nil {
			return err
		}
	}

	deps := services.MatchingDeps{
		Profiles: b.profiles,
		Store:    b.store,
		Issuer:   b.issuer,
	}

	var responseCache interfaces.Cache
	if cfg.Redis.Enabled {
		redisService, err := cache.NewRedisService(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			return err
		}
		defer redisService.Close()
		health.RegisterCheck("redis", redisService.Ping, 200*time.Millisecond)
		deps.Cache, responseCache = redisService, redisService
	}

	if cfg.Narration.APIKey != "" {
		narrator, err := narration.NewGeminiNarrator(ctx, cfg.Narration)
		if err != nil {
			return err
		}
		deps.Narrator = narrator
		logger.WithField("model", narrator.Model()).Info("Gemini narration enabled")
	}

	if cfg.Notify.BotToken != "" {
		notifier, err := notify.NewTelegramNotifier(cfg.Notify)
		if err != nil {
			return err
		}
		deps.Notifier = notifier
		logger.Info("Telegram notifications enabled")
	}

	matchingMetrics, err := monitoring.NewMatchingInstrumentation()
	if err != nil {
		return err
	}
	deps.Metrics = matchingMetrics

	httpMetrics, err := monitoring.NewHTTPInstrumentation()
	if err != nil {
		return err
	}

	auth, err := middleware.NewJWTAuth(cfg.Auth)
	if err != nil {
		return err
	}

	server, err := httpserver.New(cfg.HTTP, httpserver.Deps{
		Matching:    services.NewMatchingService(deps, cfg.Matching),
		Auth:        auth,
		Cache:       responseCache,
		Health:      health,
		Metrics:     httpMetrics,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}

	logger.WithField("addr", cfg.HTTP.Addr()).Info("Starting roommates API")
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return err
	}
	logger.Info("Server exited")
	return nil
}
