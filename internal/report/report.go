// Package report aggregates detection runs and changes into daily reports,
// exports them, and enforces the retention horizon.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"book-monitor/internal/models"
)

// Store is the persistence surface the generator needs.
type Store interface {
	CountBooks() (int64, error)
	UpsertDailyReport(r *models.DailyReport) error
	ReportByDate(date string) (*models.DailyReport, error)
	DeleteReportsBefore(date string) (int64, error)
}

// Weights configures the system health score terms. Each term is clamped
// to [0,1] before weighting and the weighted sum is subtracted from 1.0.
type Weights struct {
	ErrorRate    float64
	HighSeverity float64
	RemovalRate  float64
}

// maxSignificantChanges caps the embedded change digests per report.
const maxSignificantChanges = 50

// Generator builds and stores daily reports.
type Generator struct {
	store         Store
	weights       Weights
	retentionDays int
	log           zerolog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(st Store, weights Weights, retentionDays int, log zerolog.Logger) *Generator {
	return &Generator{
		store:         st,
		weights:       weights,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "report").Logger(),
	}
}

// Generate aggregates the day's detection results and changes into the
// report for asOf's calendar date and stores it. Regenerating for the same
// date overwrites the stored slot; it never duplicates.
func (g *Generator) Generate(asOf time.Time, results []models.DetectionResult, changes []models.Change) (*models.DailyReport, error) {
	report := g.aggregate(asOf, results, changes)

	totalBooks, err := g.store.CountBooks()
	if err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}
	report.TotalBooksInSystem = int(totalBooks)

	if err := g.store.UpsertDailyReport(report); err != nil {
		return nil, fmt.Errorf("store daily report: %w", err)
	}

	g.log.Info().
		Str("report_date", report.ReportDate).
		Int("changes", report.ChangesDetected).
		Float64("health_score", report.SystemHealthScore).
		Msg("daily report generated")

	return report, nil
}

// aggregate is the pure reduction over results and changes.
func (g *Generator) aggregate(asOf time.Time, results []models.DetectionResult, changes []models.Change) *models.DailyReport {
	report := &models.DailyReport{
		ReportID:          uuid.NewString(),
		ReportDate:        asOf.Format(models.ReportDateFormat),
		GeneratedAt:       time.Now().UTC(),
		ChangesByType:     make(map[string]int),
		ChangesBySeverity: make(map[string]int),
	}

	errorCount := 0
	for _, r := range results {
		report.BooksChecked += r.TotalChecked
		report.ChangesDetected += r.ChangesDetected
		report.NewBooks += r.NewBooks
		report.UpdatedBooks += r.UpdatedBooks
		report.RemovedBooks += r.RemovedBooks
		report.DetectionDurationSeconds += r.DurationSeconds
		errorCount += len(r.Errors)

		for k, v := range r.ChangesByType {
			report.ChangesByType[k] += v
		}
		for k, v := range r.ChangesBySeverity {
			report.ChangesBySeverity[k] += v
		}
	}

	if report.BooksChecked > 0 {
		report.AverageBookProcessingTime = report.DetectionDurationSeconds / float64(report.BooksChecked)
	}

	report.SignificantChanges = digestChanges(changes, func(c models.Change) bool {
		return c.Severity.AtLeast(models.SeverityHigh)
	})
	report.NewBookList = digestChanges(changes, func(c models.Change) bool {
		return c.ChangeType == models.ChangeTypeNewBook
	})

	report.SystemHealthScore = g.healthScore(report, errorCount)
	return report
}

// digestChanges filters and trims changes into the embedded digest form.
func digestChanges(changes []models.Change, keep func(models.Change) bool) []models.ChangeDigest {
	matched := lo.Filter(changes, func(c models.Change, _ int) bool { return keep(c) })
	if len(matched) > maxSignificantChanges {
		matched = matched[:maxSignificantChanges]
	}
	return lo.Map(matched, func(c models.Change, _ int) models.ChangeDigest {
		return models.ChangeDigest{
			BookID:     c.BookID,
			ChangeType: c.ChangeType,
			Severity:   c.Severity,
			Summary:    c.Summary,
			DetectedAt: c.DetectedAt,
		}
	})
}

// healthScore combines error rate, high-severity share and removal rate
// into a 0..1 score. Weights are policy, not mechanism; they come from
// configuration.
func (g *Generator) healthScore(r *models.DailyReport, errorCount int) float64 {
	var errRate, highShare, removalRate float64

	if r.BooksChecked > 0 {
		errRate = float64(errorCount) / float64(r.BooksChecked)
		removalRate = float64(r.RemovedBooks) / float64(r.BooksChecked)
	}
	if r.ChangesDetected > 0 {
		high := r.ChangesBySeverity[string(models.SeverityHigh)] + r.ChangesBySeverity[string(models.SeverityCritical)]
		highShare = float64(high) / float64(r.ChangesDetected)
	}

	penalty := g.weights.ErrorRate*clamp01(errRate) +
		g.weights.HighSeverity*clamp01(highShare) +
		g.weights.RemovalRate*clamp01(removalRate)

	return clamp01(1.0 - penalty)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Cleanup deletes reports older than the retention horizon, counted back
// from now. Deletion uses a strict date cutoff so it can run concurrently
// with generation of today's report.
func (g *Generator) Cleanup(now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -g.retentionDays).Format(models.ReportDateFormat)
	deleted, err := g.store.DeleteReportsBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired reports: %w", err)
	}
	if deleted > 0 {
		g.log.Info().Int64("deleted", deleted).Str("cutoff", cutoff).Msg("expired reports removed")
	}
	return deleted, nil
}
