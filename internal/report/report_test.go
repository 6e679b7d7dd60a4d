package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-monitor/internal/models"
)

// fakeStore keeps reports keyed by date, like the real slot semantics.
type fakeStore struct {
	bookCount int64
	reports   map[string]*models.DailyReport
	upserts   int
}

func newFakeStore(bookCount int64) *fakeStore {
	return &fakeStore{bookCount: bookCount, reports: make(map[string]*models.DailyReport)}
}

func (f *fakeStore) CountBooks() (int64, error) { return f.bookCount, nil }

func (f *fakeStore) UpsertDailyReport(r *models.DailyReport) error {
	cp := *r
	f.reports[r.ReportDate] = &cp
	f.upserts++
	return nil
}

func (f *fakeStore) ReportByDate(date string) (*models.DailyReport, error) {
	if r, ok := f.reports[date]; ok {
		return r, nil
	}
	return nil, nil
}

func (f *fakeStore) DeleteReportsBefore(date string) (int64, error) {
	var deleted int64
	for d := range f.reports {
		if d < date {
			delete(f.reports, d)
			deleted++
		}
	}
	return deleted, nil
}

func defaultWeights() Weights {
	return Weights{ErrorRate: 0.5, HighSeverity: 0.3, RemovalRate: 0.2}
}

func sampleResult() models.DetectionResult {
	return models.DetectionResult{
		RunID:           uuid.NewString(),
		StartedAt:       time.Now().UTC(),
		TotalChecked:    100,
		ChangesDetected: 10,
		NewBooks:        2,
		UpdatedBooks:    6,
		RemovedBooks:    2,
		DurationSeconds: 50,
		ChangesByType: map[string]int{
			"price_change": 6,
			"new_book":     2,
			"book_removed": 2,
		},
		ChangesBySeverity: map[string]int{
			"medium": 5,
			"high":   5,
		},
		Success: true,
	}
}

func TestGenerateAggregates(t *testing.T) {
	fs := newFakeStore(500)
	g := NewGenerator(fs, defaultWeights(), 30, zerolog.Nop())

	asOf := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	oldVal, newVal := "51.77", "10.00"
	changes := []models.Change{
		{
			ChangeID:   uuid.NewString(),
			BookID:     "book_1",
			ChangeType: models.ChangeTypePriceChange,
			Severity:   models.SeverityHigh,
			OldValue:   &oldVal,
			NewValue:   &newVal,
			Summary:    "price_including_tax changed from '51.77' to '10.00'",
			DetectedAt: asOf,
		},
		{
			ChangeID:   uuid.NewString(),
			BookID:     "book_2",
			ChangeType: models.ChangeTypeNewBook,
			Severity:   models.SeverityMedium,
			Summary:    "New book discovered: Sharp Objects",
			DetectedAt: asOf,
		},
	}

	report, err := g.Generate(asOf, []models.DetectionResult{sampleResult(), sampleResult()}, changes)
	require.NoError(t, err)

	assert.Equal(t, "2026-08-23", report.ReportDate)
	assert.Equal(t, 500, report.TotalBooksInSystem)
	assert.Equal(t, 200, report.BooksChecked)
	assert.Equal(t, 20, report.ChangesDetected)
	assert.Equal(t, 4, report.NewBooks)
	assert.Equal(t, 4, report.RemovedBooks)
	assert.Equal(t, 12, report.ChangesByType["price_change"])
	assert.Equal(t, 10, report.ChangesBySeverity["high"])
	assert.InDelta(t, 0.5, report.AverageBookProcessingTime, 0.001)
	require.Len(t, report.SignificantChanges, 1)
	assert.Equal(t, models.SeverityHigh, report.SignificantChanges[0].Severity)
	require.Len(t, report.NewBookList, 1)
	assert.Equal(t, "book_2", report.NewBookList[0].BookID)
}

func TestGenerateIdempotentPerDate(t *testing.T) {
	fs := newFakeStore(500)
	g := NewGenerator(fs, defaultWeights(), 30, zerolog.Nop())

	asOf := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	results := []models.DetectionResult{sampleResult()}

	first, err := g.Generate(asOf, results, nil)
	require.NoError(t, err)
	second, err := g.Generate(asOf, results, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ChangesDetected, second.ChangesDetected)
	assert.Equal(t, first.SystemHealthScore, second.SystemHealthScore)
	assert.Len(t, fs.reports, 1, "same date overwrites, never duplicates")
	assert.Equal(t, 2, fs.upserts)
}

func TestHealthScoreWeights(t *testing.T) {
	g := NewGenerator(newFakeStore(0), defaultWeights(), 30, zerolog.Nop())

	// Clean run: no errors, no high changes, no removals.
	clean := sampleResult()
	clean.RemovedBooks = 0
	clean.ChangesBySeverity = map[string]int{"medium": 10}
	report := g.aggregate(time.Now(), []models.DetectionResult{clean}, nil)
	assert.Equal(t, 1.0, report.SystemHealthScore)

	// All changes high and 10% removed: 0.3*1.0 + 0.2*0.1 penalty.
	bad := sampleResult()
	bad.RemovedBooks = 10
	bad.ChangesBySeverity = map[string]int{"high": 10}
	report = g.aggregate(time.Now(), []models.DetectionResult{bad}, nil)
	assert.InDelta(t, 1.0-(0.3+0.2*0.1), report.SystemHealthScore, 0.001)

	// Zero weights keep the score at 1.0 regardless.
	gZero := NewGenerator(newFakeStore(0), Weights{}, 30, zerolog.Nop())
	report = gZero.aggregate(time.Now(), []models.DetectionResult{bad}, nil)
	assert.Equal(t, 1.0, report.SystemHealthScore)
}

func TestHealthScoreClamped(t *testing.T) {
	g := NewGenerator(newFakeStore(0), Weights{ErrorRate: 1, HighSeverity: 1, RemovalRate: 1}, 30, zerolog.Nop())

	r := sampleResult()
	r.Errors = make([]string, 200)
	r.RemovedBooks = 100
	r.ChangesBySeverity = map[string]int{"critical": 10}

	report := g.aggregate(time.Now(), []models.DetectionResult{r}, nil)
	assert.GreaterOrEqual(t, report.SystemHealthScore, 0.0)
	assert.LessOrEqual(t, report.SystemHealthScore, 1.0)
}

func TestCleanup(t *testing.T) {
	fs := newFakeStore(0)
	g := NewGenerator(fs, defaultWeights(), 30, zerolog.Nop())

	for _, date := range []string{"2026-06-01", "2026-08-01", "2026-08-22"} {
		fs.reports[date] = &models.DailyReport{ReportDate: date}
	}

	now := time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)
	deleted, err := g.Cleanup(now)
	require.NoError(t, err)

	assert.EqualValues(t, 1, deleted)
	assert.Contains(t, fs.reports, "2026-08-01")
	assert.Contains(t, fs.reports, "2026-08-22")
	assert.NotContains(t, fs.reports, "2026-06-01")
}

func TestExportJSONAndCSVAreDerivedViews(t *testing.T) {
	g := NewGenerator(newFakeStore(0), defaultWeights(), 30, zerolog.Nop())
	report := g.aggregate(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), []models.DetectionResult{sampleResult()}, nil)

	var jsonBuf bytes.Buffer
	require.NoError(t, ExportJSON(report, &jsonBuf))
	var decoded models.DailyReport
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, report.ChangesDetected, decoded.ChangesDetected)

	var csvBuf bytes.Buffer
	require.NoError(t, ExportCSV(report, &csvBuf))
	csvText := csvBuf.String()
	assert.True(t, strings.HasPrefix(csvText, "metric,value"))
	assert.Contains(t, csvText, "books_checked,100")
	assert.Contains(t, csvText, "changes_by_type.price_change,6")
}

func TestExportXLSXWrites(t *testing.T) {
	g := NewGenerator(newFakeStore(0), defaultWeights(), 30, zerolog.Nop())
	report := g.aggregate(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), []models.DetectionResult{sampleResult()}, nil)

	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(report, &buf))
	assert.NotZero(t, buf.Len())
}
