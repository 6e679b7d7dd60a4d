package alert

import (
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-monitor/internal/models"
	"book-monitor/internal/ratelimit"
)

// stubChannel records deliveries and can be told to fail.
type stubChannel struct {
	name        string
	minSeverity models.Severity
	fail        bool
	sent        []string
}

func (s *stubChannel) Name() string                  { return s.name }
func (s *stubChannel) MinSeverity() models.Severity  { return s.minSeverity }
func (s *stubChannel) Send(subject, body string) error {
	if s.fail {
		return errors.New("transport down")
	}
	s.sent = append(s.sent, subject)
	return nil
}

func change(bookID string, ct models.ChangeType, sev models.Severity) models.Change {
	return models.Change{
		ChangeID:        uuid.NewString(),
		BookID:          bookID,
		SourceURL:       "https://example.test/" + bookID,
		ChangeType:      ct,
		Severity:        sev,
		Summary:         "something changed",
		ConfidenceScore: 1.0,
		DetectedAt:      time.Now(),
	}
}

func newManager(channels []Channel, quota int, cooldown time.Duration) *Manager {
	return NewManager(
		Options{Enabled: true, MinSeverity: models.SeverityMedium},
		ratelimit.NewKeyedLimiter(time.Minute, quota, true),
		ratelimit.NewCooldownTracker(cooldown),
		channels,
		zerolog.Nop(),
	)
}

func TestProcessSeverityFilter(t *testing.T) {
	ch := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := newManager([]Channel{ch}, 10, 0)

	summary := m.Process([]models.Change{
		change("book_1", models.ChangeTypeDescriptionChange, models.SeverityLow),
		change("book_2", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.Delivered)
	assert.Len(t, ch.sent, 1)
}

func TestProcessRateLimitSuppressesButKeepsCounting(t *testing.T) {
	ch := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := newManager([]Channel{ch}, 1, 0)

	summary := m.Process([]models.Change{
		change("book_1", models.ChangeTypePriceChange, models.SeverityHigh),
		change("book_2", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Equal(t, 1, summary.Delivered, "exactly one alert fits the 1/minute bucket")
	assert.Equal(t, 1, summary.Suppressed)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, ch.sent, 1)
}

func TestProcessCooldownSuppressesFlapping(t *testing.T) {
	ch := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := newManager([]Channel{ch}, 10, 30*time.Minute)

	summary := m.Process([]models.Change{
		change("book_1", models.ChangeTypeAvailabilityChange, models.SeverityHigh),
		change("book_1", models.ChangeTypeAvailabilityChange, models.SeverityHigh),
		change("book_1", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Equal(t, 2, summary.Delivered, "same book+type within cooldown is suppressed, other types pass")
	assert.Equal(t, 1, summary.Suppressed)
}

func TestProcessChannelFailureIsolation(t *testing.T) {
	broken := &stubChannel{name: "email", minSeverity: models.SeverityLow, fail: true}
	healthy := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := newManager([]Channel{broken, healthy}, 10, 0)

	summary := m.Process([]models.Change{
		change("book_1", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Equal(t, 1, summary.Delivered, "healthy channel still delivers")
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, healthy.sent, 1)
}

func TestProcessPerChannelMinSeverity(t *testing.T) {
	email := &stubChannel{name: "email", minSeverity: models.SeverityHigh}
	log := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := newManager([]Channel{email, log}, 10, 0)

	m.Process([]models.Change{
		change("book_1", models.ChangeTypeCategoryChange, models.SeverityMedium),
		change("book_2", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Len(t, log.sent, 2)
	assert.Len(t, email.sent, 1, "email only gets high and above")
}

func TestProcessDisabled(t *testing.T) {
	ch := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	m := NewManager(
		Options{Enabled: false, MinSeverity: models.SeverityLow},
		ratelimit.NewKeyedLimiter(time.Minute, 10, true),
		ratelimit.NewCooldownTracker(0),
		[]Channel{ch},
		zerolog.Nop(),
	)

	summary := m.Process([]models.Change{
		change("book_1", models.ChangeTypePriceChange, models.SeverityHigh),
	})

	assert.Equal(t, 0, summary.Delivered)
	assert.Empty(t, ch.sent)
}

func TestDispatchDailySummaryReachesAllChannels(t *testing.T) {
	a := &stubChannel{name: "log", minSeverity: models.SeverityLow}
	b := &stubChannel{name: "email", minSeverity: models.SeverityHigh}
	m := newManager([]Channel{a, b}, 1, 0)

	m.DispatchDailySummary(&models.DailyReport{
		ReportDate:        "2026-08-23",
		BooksChecked:      100,
		ChangesDetected:   3,
		SystemHealthScore: 0.95,
	})

	require.Len(t, a.sent, 1)
	require.Len(t, b.sent, 1)
	assert.Contains(t, a.sent[0], "2026-08-23")
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	ch := NewEmailChannel("smtp.example.test", 587, "monitor@example.test", []string{"ops@example.test"}, models.SeverityHigh)
	ch.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, ch.Send("[high] price_change", "price dropped"))

	assert.Equal(t, "smtp.example.test:587", gotAddr)
	assert.Equal(t, "monitor@example.test", gotFrom)
	assert.Equal(t, []string{"ops@example.test"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [high] price_change")
	assert.Contains(t, string(gotMsg), "price dropped")
}
