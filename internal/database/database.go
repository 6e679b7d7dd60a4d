// Package database opens the relational backend and runs schema migration.
package database

import (
	"fmt"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"book-monitor/internal/config"
	"book-monitor/internal/models"
)

// Open connects to the configured backend (mysql or postgres) and verifies
// the connection with a ping.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		pg := cfg.Postgres
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			envFallback(pg.Host, "DB_HOST"), pg.Port,
			envFallback(pg.User, "DB_USER"), envFallback(pg.Password, "DB_PASSWORD"),
			envFallback(pg.Database, "DB_NAME"), pg.SSLMode)
		dialector = postgres.Open(dsn)
	case "mysql", "":
		my := cfg.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			envFallback(my.User, "DB_USER"), envFallback(my.Password, "DB_PASSWORD"),
			envFallback(my.Host, "DB_HOST"), my.Port, envFallback(my.Database, "DB_NAME"))
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates tables using GORM AutoMigrate
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Book{},
		&models.Fingerprint{},
		&models.Change{},
		&models.DetectionResult{},
		&models.DailyReport{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// envFallback prefers the config value and falls back to an environment
// variable when the config leaves it empty.
func envFallback(value, envKey string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envKey)
}
