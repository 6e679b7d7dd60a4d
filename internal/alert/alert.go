// Package alert turns detected changes into rate-limited notifications
// across the configured channels.
package alert

import (
	"fmt"

	"github.com/rs/zerolog"

	"book-monitor/internal/models"
	"book-monitor/internal/ratelimit"
)

// Channel is one notification transport. Delivery failures are reported
// back per attempt and never abort processing.
type Channel interface {
	Name() string
	MinSeverity() models.Severity
	Send(subject, body string) error
}

// Options configures the manager's filtering and suppression behavior.
type Options struct {
	Enabled     bool
	MinSeverity models.Severity
}

// Summary accounts for what happened to one batch of changes. Suppressed
// changes stay persisted as changes; only their delivery is skipped.
type Summary struct {
	Processed  int `json:"processed"`
	Filtered   int `json:"filtered"`
	Suppressed int `json:"suppressed"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// Manager filters changes by severity, applies per-channel rate limits and
// per-(book, change type) cooldowns, and fans deliveries out to channels.
type Manager struct {
	opts     Options
	limiter  *ratelimit.KeyedLimiter
	cooldown *ratelimit.CooldownTracker
	channels []Channel
	log      zerolog.Logger
}

// NewManager creates an alert manager over the given channels.
func NewManager(opts Options, limiter *ratelimit.KeyedLimiter, cooldown *ratelimit.CooldownTracker, channels []Channel, log zerolog.Logger) *Manager {
	return &Manager{
		opts:     opts,
		limiter:  limiter,
		cooldown: cooldown,
		channels: channels,
		log:      log.With().Str("component", "alert").Logger(),
	}
}

// Process walks one batch of changes and attempts delivery for each
// qualifying one. A failure on one channel never blocks the others.
func (m *Manager) Process(changes []models.Change) Summary {
	summary := Summary{Processed: len(changes)}
	if !m.opts.Enabled {
		return summary
	}

	for i := range changes {
		change := &changes[i]

		if !change.Severity.AtLeast(m.opts.MinSeverity) {
			summary.Filtered++
			continue
		}

		cooldownKey := change.BookID + ":" + string(change.ChangeType)
		if !m.cooldown.Allow(cooldownKey) {
			summary.Suppressed++
			m.log.Debug().Str("book_id", change.BookID).Str("change_type", string(change.ChangeType)).
				Msg("alert suppressed by cooldown")
			continue
		}

		delivered := false
		suppressed := false
		for _, ch := range m.channels {
			if !change.Severity.AtLeast(ch.MinSeverity()) {
				continue
			}

			bucketKey := ch.Name() + ":" + string(change.Severity)
			if !m.limiter.Allow(bucketKey) {
				suppressed = true
				m.log.Debug().Str("channel", ch.Name()).Str("severity", string(change.Severity)).
					Msg("alert suppressed by rate limit")
				continue
			}

			if err := ch.Send(alertSubject(change), alertBody(change)); err != nil {
				summary.Failed++
				m.log.Warn().Err(err).Str("channel", ch.Name()).Str("change_id", change.ChangeID).
					Msg("alert delivery failed")
				continue
			}
			delivered = true
		}

		switch {
		case delivered:
			summary.Delivered++
		case suppressed:
			summary.Suppressed++
		}
	}

	// Drop expired suppression state once per batch.
	m.limiter.Sweep()
	m.cooldown.Sweep()

	m.log.Info().
		Int("processed", summary.Processed).
		Int("delivered", summary.Delivered).
		Int("suppressed", summary.Suppressed).
		Int("filtered", summary.Filtered).
		Int("failed", summary.Failed).
		Msg("alert batch processed")

	return summary
}

// DispatchDailySummary pushes the daily report digest to every channel.
// The summary bypasses rate limiting: it is a single scheduled message.
func (m *Manager) DispatchDailySummary(report *models.DailyReport) {
	if !m.opts.Enabled {
		return
	}

	subject := fmt.Sprintf("Daily book monitor report %s", report.ReportDate)
	body := dailySummaryBody(report)

	for _, ch := range m.channels {
		if err := ch.Send(subject, body); err != nil {
			m.log.Warn().Err(err).Str("channel", ch.Name()).Msg("daily summary delivery failed")
		}
	}
}

func alertSubject(c *models.Change) string {
	return fmt.Sprintf("[%s] %s", c.Severity, c.ChangeType)
}

func alertBody(c *models.Change) string {
	body := fmt.Sprintf("%s\nbook: %s\nurl: %s\nconfidence: %.2f",
		c.Summary, c.BookID, c.SourceURL, c.ConfidenceScore)
	if c.OldValue != nil && c.NewValue != nil {
		body += fmt.Sprintf("\n%s: %s -> %s", c.FieldName, *c.OldValue, *c.NewValue)
	}
	return body
}

func dailySummaryBody(r *models.DailyReport) string {
	return fmt.Sprintf(
		"books checked: %d\nchanges: %d (new %d, updated %d, removed %d)\nhealth score: %.2f",
		r.BooksChecked, r.ChangesDetected, r.NewBooks, r.UpdatedBooks, r.RemovedBooks, r.SystemHealthScore)
}
