// Package scheduler wires the daily detection run onto a cron trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"book-monitor/internal/config"
	"book-monitor/internal/orchestrator"
	"book-monitor/internal/report"
)

// Scheduler runs the daily detection job and the report retention cleanup.
type Scheduler struct {
	cron      *cron.Cron
	orch      *orchestrator.Orchestrator
	reports   *report.Generator
	cfg       *config.Config
	log       zerolog.Logger
	isRunning bool
}

// New creates a scheduler around the orchestrator.
func New(orch *orchestrator.Orchestrator, reports *report.Generator, cfg *config.Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		orch:    orch,
		reports: reports,
		cfg:     cfg,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the daily job and starts the cron loop.
func (s *Scheduler) Start() error {
	if !s.cfg.Detection.DailyRunEnabled {
		s.log.Info().Msg("daily run is disabled in configuration")
		return nil
	}

	cronSpec := s.parseDailyRunTime(s.cfg.Detection.DailyRunTime)

	_, err := s.cron.AddFunc(cronSpec, func() {
		s.log.Info().Msg("starting daily detection job")
		if err := s.runDailyDetection(); err != nil {
			s.log.Error().Err(err).Msg("daily detection job failed")
		} else {
			s.log.Info().Msg("daily detection job completed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.isRunning = true
	s.log.Info().Str("daily_run_time", s.cfg.Detection.DailyRunTime).Str("cron", cronSpec).Msg("scheduler started")

	return nil
}

// Stop stops the cron loop.
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		s.log.Info().Msg("scheduler stopped")
	}
}

// runDailyDetection executes one run and then the report retention sweep.
func (s *Scheduler) runDailyDetection() error {
	_, err := s.orch.Run(context.Background())
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		s.log.Warn().Msg("skipping scheduled run, another run is in progress")
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.reports.Cleanup(time.Now()); err != nil {
		s.log.Error().Err(err).Msg("report retention cleanup failed")
	}

	return nil
}

// parseDailyRunTime converts HH:MM format to cron specification
// Example: "02:00" -> "0 2 * * *" (run at 2:00 AM every day)
func (s *Scheduler) parseDailyRunTime(timeStr string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}

	s.log.Warn().Str("value", timeStr).Msg("failed to parse daily run time, using default 02:00")
	return "0 2 * * *"
}
