package main

import (
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"book-monitor/internal/alert"
	"book-monitor/internal/config"
	"book-monitor/internal/crawler"
	"book-monitor/internal/database"
	"book-monitor/internal/detector"
	"book-monitor/internal/handlers"
	"book-monitor/internal/models"
	"book-monitor/internal/orchestrator"
	"book-monitor/internal/ratelimit"
	"book-monitor/internal/report"
	"book-monitor/internal/scheduler"
	"book-monitor/internal/search"
	"book-monitor/internal/store"
)

func main() {
	// Load configuration
	configPath := getEnv("CONFIG_PATH", "/app/config/monitor_config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Logging)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Database
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	st := store.New(db, cfg.Detection.StoreMaxRetries, cfg.Detection.GetStoreRetryDelay(), log)

	// Meilisearch
	searchHost := getEnvOrConfig(cfg.Search.Meilisearch.Host, "MEILISEARCH_HOST", "http://meilisearch:7700")
	searchKey := getEnvOrConfig(cfg.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", "")
	searchClient := search.NewSearchClient(searchHost, searchKey)
	if err := searchClient.InitIndex(); err != nil {
		log.Warn().Err(err).Msg("failed to initialize search index, search endpoints may fail")
	}

	// Detection pipeline
	cr := crawler.New(&cfg.Crawler, log)
	det := detector.New(st, detector.Policy{PriceChangeThreshold: cfg.Detection.PriceChangeThreshold}, cfg.Detection.MaxConcurrent, log)
	alerter := buildAlertManager(cfg, log)
	reports := report.NewGenerator(st, report.Weights{
		ErrorRate:    cfg.Reports.HealthWeights.ErrorRate,
		HighSeverity: cfg.Reports.HealthWeights.HighSeverity,
		RemovalRate:  cfg.Reports.HealthWeights.RemovalRate,
	}, cfg.Reports.RetentionDays, log)
	orch := orchestrator.New(cr, det, alerter, reports, st, log)

	// Scheduler
	sched := scheduler.New(orch, reports, cfg, log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	// HTTP server
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	auth := handlers.NewKeyAuth(cfg.Server.APIKeys, cfg.Server.RequestsPerMinute, log)
	api := handlers.NewAPI(st, orch, reports, searchClient, auth, log)
	api.Register(r)

	port := getEnvOrConfig(strconv.Itoa(cfg.Server.Port), "PORT", "8080")
	log.Info().Str("port", port).Msg("starting server")
	if err := r.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// buildAlertManager assembles the channel list from configuration. The log
// channel is always present; email and Telegram join when enabled.
func buildAlertManager(cfg *config.Config, log zerolog.Logger) *alert.Manager {
	channels := []alert.Channel{alert.NewLogChannel(log)}

	if cfg.Alerts.Email.Enabled {
		emailSev, _ := models.ParseSeverity(cfg.Alerts.Email.MinSeverity)
		channels = append(channels, alert.NewEmailChannel(
			cfg.Alerts.Email.SMTPHost,
			cfg.Alerts.Email.SMTPPort,
			cfg.Alerts.Email.From,
			cfg.Alerts.Email.To,
			emailSev,
		))
	}
	if cfg.Alerts.Telegram.Enabled {
		tg, err := alert.NewTelegramChannel(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize telegram channel, continuing without it")
		} else {
			channels = append(channels, tg)
		}
	}

	minSev, _ := models.ParseSeverity(cfg.Alerts.MinSeverity)
	limiter := ratelimit.NewKeyedLimiter(cfg.Alerts.GetRateWindow(), cfg.Alerts.MaxAlertsPerWindow, true)
	cooldown := ratelimit.NewCooldownTracker(cfg.Alerts.GetCooldown())

	return alert.NewManager(alert.Options{
		Enabled:     cfg.Alerts.Enabled,
		MinSeverity: minSev,
	}, limiter, cooldown, channels, log)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrConfig prefers the config value, falls back to env, then default
func getEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" && configValue != "0" {
		return configValue
	}
	return getEnv(envKey, defaultValue)
}
