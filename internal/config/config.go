package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"book-monitor/internal/models"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Search    SearchConfig    `yaml:"search"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Detection DetectionConfig `yaml:"detection"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Reports   ReportConfig    `yaml:"reports"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Timezone  string          `yaml:"timezone"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// CrawlerConfig contains catalog crawl settings
type CrawlerConfig struct {
	BaseURL             string `yaml:"base_url"`
	RequestDelayMs      int    `yaml:"request_delay_ms"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	RetryDelaySeconds   int    `yaml:"retry_delay_seconds"`
	ConcurrentFetches   int    `yaml:"concurrent_fetches"`
	ListPageLimit       int    `yaml:"list_page_limit"`
	UserAgent           string `yaml:"user_agent"`
}

// DetectionConfig contains change detection settings
type DetectionConfig struct {
	MaxConcurrent        int     `yaml:"max_concurrent"`
	PriceChangeThreshold float64 `yaml:"price_change_threshold"`
	DailyRunEnabled      bool    `yaml:"daily_run_enabled"`
	DailyRunTime         string  `yaml:"daily_run_time"`
	StoreMaxRetries      int     `yaml:"store_max_retries"`
	StoreRetryDelayMs    int     `yaml:"store_retry_delay_ms"`
}

// AlertConfig contains alerting settings
type AlertConfig struct {
	Enabled           bool           `yaml:"enabled"`
	MinSeverity       string         `yaml:"min_severity"`
	MaxAlertsPerWindow int           `yaml:"max_alerts_per_window"`
	RateWindowMinutes int            `yaml:"rate_window_minutes"`
	CooldownMinutes   int            `yaml:"cooldown_minutes"`
	Email             EmailConfig    `yaml:"email"`
	Telegram          TelegramConfig `yaml:"telegram"`
}

// EmailConfig contains SMTP alert channel settings
type EmailConfig struct {
	Enabled     bool     `yaml:"enabled"`
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	MinSeverity string   `yaml:"min_severity"`
}

// TelegramConfig contains Telegram alert channel settings
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// ReportConfig contains daily report settings
type ReportConfig struct {
	RetentionDays int                `yaml:"retention_days"`
	ExportDir     string             `yaml:"export_dir"`
	HealthWeights HealthWeightConfig `yaml:"health_weights"`
}

// HealthWeightConfig holds the weights of the system health score terms.
// Each term is clamped to [0,1] before weighting; the weighted sum is
// subtracted from 1.0.
type HealthWeightConfig struct {
	ErrorRate    float64 `yaml:"error_rate"`
	HighSeverity float64 `yaml:"high_severity"`
	RemovalRate  float64 `yaml:"removal_rate"`
}

// ServerConfig contains HTTP API settings. With no API keys configured the
// API is open; with keys configured every /api request must carry one.
type ServerConfig struct {
	Port              int      `yaml:"port"`
	APIKeys           []string `yaml:"api_keys"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "mysql",
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "bookmonitor",
				Database: "book_monitor",
			},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Search: SearchConfig{
			Meilisearch: MeilisearchConfig{
				Host: "http://localhost:7700",
			},
		},
		Crawler: CrawlerConfig{
			BaseURL:           "https://books.toscrape.com",
			RequestDelayMs:    200,
			TimeoutSeconds:    30,
			MaxRetries:        3,
			RetryDelaySeconds: 2,
			ConcurrentFetches: 4,
			ListPageLimit:     50,
			UserAgent:         "book-monitor/1.0",
		},
		Detection: DetectionConfig{
			MaxConcurrent:        8,
			PriceChangeThreshold: 0.10,
			DailyRunEnabled:      true,
			DailyRunTime:         "02:00",
			StoreMaxRetries:      3,
			StoreRetryDelayMs:    200,
		},
		Alerts: AlertConfig{
			Enabled:            true,
			MinSeverity:        "medium",
			MaxAlertsPerWindow: 10,
			RateWindowMinutes:  60,
			CooldownMinutes:    30,
			Email: EmailConfig{
				SMTPPort:    587,
				MinSeverity: "high",
			},
		},
		Reports: ReportConfig{
			RetentionDays: 30,
			ExportDir:     "reports",
			HealthWeights: HealthWeightConfig{
				ErrorRate:    0.5,
				HighSeverity: 0.3,
				RemovalRate:  0.2,
			},
		},
		Server: ServerConfig{
			Port:              8080,
			RequestsPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Timezone: "UTC",
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the detection pipeline cannot run with.
// Validation failures are fatal at startup; a run never begins with a bad
// threshold in place.
func (c *Config) Validate() error {
	if c.Detection.MaxConcurrent <= 0 {
		return fmt.Errorf("detection.max_concurrent must be positive, got %d", c.Detection.MaxConcurrent)
	}
	if c.Detection.PriceChangeThreshold < 0 {
		return fmt.Errorf("detection.price_change_threshold must not be negative, got %g", c.Detection.PriceChangeThreshold)
	}
	if c.Detection.DailyRunEnabled {
		var hour, minute int
		if n, _ := fmt.Sscanf(c.Detection.DailyRunTime, "%d:%d", &hour, &minute); n != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return fmt.Errorf("detection.daily_run_time must be HH:MM, got %q", c.Detection.DailyRunTime)
		}
	}

	if _, ok := models.ParseSeverity(c.Alerts.MinSeverity); !ok {
		return fmt.Errorf("alerts.min_severity must be one of low/medium/high/critical, got %q", c.Alerts.MinSeverity)
	}
	if c.Alerts.MaxAlertsPerWindow < 0 {
		return fmt.Errorf("alerts.max_alerts_per_window must not be negative, got %d", c.Alerts.MaxAlertsPerWindow)
	}
	if c.Alerts.RateWindowMinutes <= 0 {
		return fmt.Errorf("alerts.rate_window_minutes must be positive, got %d", c.Alerts.RateWindowMinutes)
	}
	if c.Alerts.CooldownMinutes < 0 {
		return fmt.Errorf("alerts.cooldown_minutes must not be negative, got %d", c.Alerts.CooldownMinutes)
	}
	if c.Alerts.Email.Enabled {
		if _, ok := models.ParseSeverity(c.Alerts.Email.MinSeverity); !ok {
			return fmt.Errorf("alerts.email.min_severity must be one of low/medium/high/critical, got %q", c.Alerts.Email.MinSeverity)
		}
	}

	if c.Reports.RetentionDays <= 0 {
		return fmt.Errorf("reports.retention_days must be positive, got %d", c.Reports.RetentionDays)
	}
	for name, w := range map[string]float64{
		"error_rate":    c.Reports.HealthWeights.ErrorRate,
		"high_severity": c.Reports.HealthWeights.HighSeverity,
		"removal_rate":  c.Reports.HealthWeights.RemovalRate,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("reports.health_weights.%s must be in [0,1], got %g", name, w)
		}
	}

	if c.Crawler.ConcurrentFetches <= 0 {
		return fmt.Errorf("crawler.concurrent_fetches must be positive, got %d", c.Crawler.ConcurrentFetches)
	}

	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("server.requests_per_minute must not be negative, got %d", c.Server.RequestsPerMinute)
	}

	return nil
}

// GetRequestDelay returns the crawl request delay as a duration
func (c *CrawlerConfig) GetRequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// GetTimeout returns the HTTP timeout as a duration
func (c *CrawlerConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the retry delay as a duration
func (c *CrawlerConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetRateWindow returns the alert rate-limit window as a duration
func (c *AlertConfig) GetRateWindow() time.Duration {
	return time.Duration(c.RateWindowMinutes) * time.Minute
}

// GetCooldown returns the alert cooldown as a duration
func (c *AlertConfig) GetCooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// GetStoreRetryDelay returns the store retry backoff base as a duration
func (c *DetectionConfig) GetStoreRetryDelay() time.Duration {
	return time.Duration(c.StoreRetryDelayMs) * time.Millisecond
}
