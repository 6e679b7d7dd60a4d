// Command detect executes a single detection run and exits. Intended for
// manual runs and container cron jobs; the API server schedules its own.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"book-monitor/internal/alert"
	"book-monitor/internal/config"
	"book-monitor/internal/crawler"
	"book-monitor/internal/database"
	"book-monitor/internal/detector"
	"book-monitor/internal/models"
	"book-monitor/internal/orchestrator"
	"book-monitor/internal/ratelimit"
	"book-monitor/internal/report"
	"book-monitor/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/app/config/monitor_config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	st := store.New(db, cfg.Detection.StoreMaxRetries, cfg.Detection.GetStoreRetryDelay(), log)
	cr := crawler.New(&cfg.Crawler, log)
	det := detector.New(st, detector.Policy{PriceChangeThreshold: cfg.Detection.PriceChangeThreshold}, cfg.Detection.MaxConcurrent, log)

	minSev, _ := models.ParseSeverity(cfg.Alerts.MinSeverity)
	alerter := alert.NewManager(alert.Options{
		Enabled:     cfg.Alerts.Enabled,
		MinSeverity: minSev,
	},
		ratelimit.NewKeyedLimiter(cfg.Alerts.GetRateWindow(), cfg.Alerts.MaxAlertsPerWindow, true),
		ratelimit.NewCooldownTracker(cfg.Alerts.GetCooldown()),
		[]alert.Channel{alert.NewLogChannel(log)},
		log,
	)

	reports := report.NewGenerator(st, report.Weights{
		ErrorRate:    cfg.Reports.HealthWeights.ErrorRate,
		HighSeverity: cfg.Reports.HealthWeights.HighSeverity,
		RemovalRate:  cfg.Reports.HealthWeights.RemovalRate,
	}, cfg.Reports.RetentionDays, log)

	orch := orchestrator.New(cr, det, alerter, reports, st, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("detection run failed")
		os.Exit(1)
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("checked", result.TotalChecked).
		Int("changes", result.ChangesDetected).
		Int("new", result.NewBooks).
		Int("removed", result.RemovedBooks).
		Float64("duration_s", result.DurationSeconds).
		Msg("detection run finished")

	if !result.Success {
		os.Exit(1)
	}
}
