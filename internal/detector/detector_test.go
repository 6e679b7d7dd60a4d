package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-monitor/internal/fingerprint"
	"book-monitor/internal/models"
	"book-monitor/internal/store"
)

// fakeStore is an in-memory Store with call-order tracking and fault
// injection.
type fakeStore struct {
	mu           sync.Mutex
	fingerprints map[string]*models.Fingerprint
	books        map[string]*models.Book
	changes      []models.Change
	calls        []string

	failSaveChanges bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fingerprints: make(map[string]*models.Fingerprint),
		books:        make(map[string]*models.Book),
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) GetFingerprint(bookID string) (*models.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fp, ok := f.fingerprints[bookID]; ok {
		cp := *fp
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertFingerprint(fp *models.Fingerprint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upsert_fingerprint:" + fp.BookID)
	cp := *fp
	f.fingerprints[fp.BookID] = &cp
	return nil
}

func (f *fakeStore) ListFingerprintBookIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.fingerprints))
	for id := range f.fingerprints {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) SaveChanges(changes []models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveChanges {
		return errors.New("store unavailable")
	}
	for _, c := range changes {
		f.record("save_change:" + c.BookID)
	}
	f.changes = append(f.changes, changes...)
	return nil
}

func (f *fakeStore) GetBook(id string) (*models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertBook(b *models.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	cp.Status = models.BookStatusActive
	f.books[b.ID] = &cp
	return nil
}

func (f *fakeStore) MarkBookRemoved(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[id]; ok {
		b.Status = models.BookStatusRemoved
	}
	return nil
}

func (f *fakeStore) changesOfType(ct models.ChangeType) []models.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Change
	for _, c := range f.changes {
		if c.ChangeType == ct {
			out = append(out, c)
		}
	}
	return out
}

func newTestDetector(fs *fakeStore) *Detector {
	return New(fs, Policy{PriceChangeThreshold: 0.10}, 4, zerolog.Nop())
}

func observedBook(url, name string, price float64) models.Book {
	rating := 3
	return models.Book{
		SourceURL:         url,
		Name:              name,
		Description:       "desc",
		Category:          "Fiction",
		PriceIncludingTax: price,
		PriceExcludingTax: price,
		Availability:      "In stock (5 available)",
		NumberOfReviews:   0,
		ImageURL:          "https://example.test/img.jpg",
		Rating:            &rating,
	}
}

func TestDetectNewBook(t *testing.T) {
	d := newTestDetector(newFakeStore())

	b := observedBook("https://example.test/b1", "Book One", 19.99)
	changes, fresh := d.Detect(&b, nil, nil)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeNewBook, changes[0].ChangeType)
	assert.Equal(t, models.SeverityMedium, changes[0].Severity)
	assert.Equal(t, 1.0, changes[0].ConfidenceScore)
	assert.Nil(t, changes[0].OldValue)
	require.NotNil(t, changes[0].NewValue)
	assert.Equal(t, "Book One", *changes[0].NewValue)
	assert.Equal(t, fingerprint.BookID(b.SourceURL), fresh.BookID)
}

func TestDetectNoChangeIsIdempotent(t *testing.T) {
	d := newTestDetector(newFakeStore())

	b := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&b)

	for i := 0; i < 2; i++ {
		same := observedBook("https://example.test/b1", "Book One", 19.99)
		changes, _ := d.Detect(&same, stored, &b)
		assert.Empty(t, changes, "unchanged book must yield zero changes on pass %d", i+1)
	}
}

func TestDetectPriceSeverityThreshold(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 51.77)
	stored := fingerprint.Compute(&prior)

	// 51.77 -> 49.99 is ~3.4%, below the 10% threshold.
	small := observedBook("https://example.test/b1", "Book One", 49.99)
	changes, _ := d.Detect(&small, stored, &prior)
	require.NotEmpty(t, changes)
	for _, c := range changes {
		require.Equal(t, models.ChangeTypePriceChange, c.ChangeType)
		assert.Equal(t, models.SeverityMedium, c.Severity)
	}

	// 51.77 -> 10.00 is ~80%.
	big := observedBook("https://example.test/b1", "Book One", 10.00)
	changes, _ = d.Detect(&big, stored, &prior)
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.Equal(t, models.SeverityHigh, c.Severity)
	}
}

func TestDetectPriceFormattingIsNotAChange(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 51.77)
	stored := fingerprint.Compute(&prior)

	same := observedBook("https://example.test/b1", "Book One", 51.770)
	changes, _ := d.Detect(&same, stored, &prior)
	assert.Empty(t, changes)
}

func TestDetectAvailabilityFlip(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One", 19.99)
	current.Availability = "Out of stock"
	changes, _ := d.Detect(&current, stored, &prior)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeAvailabilityChange, changes[0].ChangeType)
	assert.Equal(t, models.SeverityHigh, changes[0].Severity, "in/out of stock flip is high severity")
	require.NotNil(t, changes[0].OldValue)
	assert.Equal(t, "In stock (5 available)", *changes[0].OldValue)
}

func TestDetectAvailabilityWordingDrift(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One", 19.99)
	current.Availability = "In stock (3 available)"
	changes, _ := d.Detect(&current, stored, &prior)

	require.Len(t, changes, 1)
	assert.Equal(t, models.SeverityLow, changes[0].Severity)
}

func TestDetectCategoryChangeIsMedium(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One", 19.99)
	current.Category = "Travel"
	changes, _ := d.Detect(&current, stored, &prior)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeCategoryChange, changes[0].ChangeType)
	assert.Equal(t, models.SeverityMedium, changes[0].Severity)
}

func TestDetectHashOnlyFallbackLowersConfidence(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 51.77)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One", 10.00)
	changes, _ := d.Detect(&current, stored, nil)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypePriceChange, changes[0].ChangeType)
	assert.Equal(t, hashOnlyConfidence, changes[0].ConfidenceScore)
	assert.Nil(t, changes[0].OldValue)
	assert.Nil(t, changes[0].NewValue)
}

func TestDetectBatchRemovalSweep(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)
	ctx := context.Background()

	// First run establishes two books.
	batch := []models.Book{
		observedBook("https://example.test/b1", "Book One", 19.99),
		observedBook("https://example.test/b2", "Book Two", 29.99),
	}
	_, _, err := d.DetectBatch(ctx, batch)
	require.NoError(t, err)

	// Second run observes only the first book.
	changes, result, err := d.DetectBatch(ctx, batch[:1])
	require.NoError(t, err)

	removedID := fingerprint.BookID("https://example.test/b2")
	removed := fs.changesOfType(models.ChangeTypeBookRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, removedID, removed[0].BookID)
	assert.Equal(t, models.SeverityHigh, removed[0].Severity)
	assert.Equal(t, 1, result.RemovedBooks)
	require.Len(t, changes, 1)

	// Fingerprint is retained after removal.
	_, err = fs.GetFingerprint(removedID)
	assert.NoError(t, err)

	// Third run: the removal is not reported again.
	_, result, err = d.DetectBatch(ctx, batch[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemovedBooks)
	assert.Len(t, fs.changesOfType(models.ChangeTypeBookRemoved), 1)
}

func TestDetectBatchReappearanceIsContentDiffNotNew(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)
	ctx := context.Background()

	b := observedBook("https://example.test/b1", "Book One", 19.99)
	_, _, err := d.DetectBatch(ctx, []models.Book{b})
	require.NoError(t, err)

	// Book disappears.
	_, _, err = d.DetectBatch(ctx, nil)
	require.NoError(t, err)

	// Book reappears with a new price.
	back := observedBook("https://example.test/b1", "Book One", 24.99)
	_, result, err := d.DetectBatch(ctx, []models.Book{back})
	require.NoError(t, err)

	assert.Equal(t, 1, len(fs.changesOfType(models.ChangeTypeNewBook)),
		"reappearance must not produce a second new_book")
	assert.NotEmpty(t, fs.changesOfType(models.ChangeTypePriceChange))
	assert.Equal(t, 0, result.NewBooks)
}

func TestDetectNameChangeIsHighSeverity(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One: Revised Edition", 19.99)
	changes, fresh := d.Detect(&current, stored, &prior)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeDescriptionChange, changes[0].ChangeType)
	assert.Equal(t, models.SeverityHigh, changes[0].Severity)
	assert.Equal(t, "name", changes[0].FieldName)
	require.NotNil(t, changes[0].OldValue)
	assert.Equal(t, "Book One", *changes[0].OldValue)
	require.NotNil(t, changes[0].NewValue)
	assert.Equal(t, "Book One: Revised Edition", *changes[0].NewValue)
	assert.NotEqual(t, stored.ContentHash, fresh.ContentHash)
}

func TestDetectNameChangeWithoutPriorFallsBackToHashEvidence(t *testing.T) {
	d := newTestDetector(newFakeStore())

	prior := observedBook("https://example.test/b1", "Book One", 19.99)
	stored := fingerprint.Compute(&prior)

	current := observedBook("https://example.test/b1", "Book One: Revised Edition", 19.99)
	changes, _ := d.Detect(&current, stored, nil)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeDescriptionChange, changes[0].ChangeType)
	assert.Equal(t, "name", changes[0].FieldName)
	assert.Equal(t, hashOnlyConfidence, changes[0].ConfidenceScore)
	assert.Nil(t, changes[0].OldValue)
}

func TestDetectBatchNameChangeRefreshesFingerprint(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)
	ctx := context.Background()

	_, _, err := d.DetectBatch(ctx, []models.Book{observedBook("https://example.test/b1", "Book One", 19.99)})
	require.NoError(t, err)

	renamed := observedBook("https://example.test/b1", "Book One: Revised Edition", 19.99)
	_, result, err := d.DetectBatch(ctx, []models.Book{renamed})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChangesDetected)

	// Fingerprint was refreshed, so the rename is not re-reported.
	_, result, err = d.DetectBatch(ctx, []models.Book{renamed})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChangesDetected)
}

func TestDetectBatchErroredItemIsNotSweptAsRemoved(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)
	ctx := context.Background()

	_, _, err := d.DetectBatch(ctx, []models.Book{observedBook("https://example.test/b1", "Book One", 19.99)})
	require.NoError(t, err)

	// The book is still observed but the observation is malformed.
	bad := observedBook("https://example.test/b1", "Book One", -1)
	_, result, err := d.DetectBatch(ctx, []models.Book{bad})
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.RemovedBooks)
	assert.Empty(t, fs.changesOfType(models.ChangeTypeBookRemoved),
		"a present-but-errored book is not a removal")
	book, err := fs.GetBook(fingerprint.BookID("https://example.test/b1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusActive, book.Status)
}

func TestDetectBatchPartialFailure(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)

	books := make([]models.Book, 0, 100)
	for i := 0; i < 95; i++ {
		books = append(books, observedBook(fmt.Sprintf("https://example.test/ok-%d", i), fmt.Sprintf("Book %d", i), 9.99))
	}
	for i := 0; i < 5; i++ {
		bad := observedBook(fmt.Sprintf("https://example.test/bad-%d", i), "", 9.99)
		books = append(books, bad)
	}

	changes, result, err := d.DetectBatch(context.Background(), books)
	require.NoError(t, err)

	assert.Equal(t, 100, result.TotalChecked)
	assert.False(t, result.Success)
	assert.Len(t, result.Errors, 5)
	assert.Equal(t, 95, result.NewBooks)
	assert.Len(t, changes, 95)
}

func TestDetectBatchCancellation(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	books := []models.Book{observedBook("https://example.test/b1", "Book One", 9.99)}
	_, result, err := d.DetectBatch(ctx, books)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, fs.changes, "no item is processed after cancellation")
	assert.Equal(t, 0, result.TotalChecked, "partial result counts only attempted items")
}

func TestProcessBookOrdersChangesBeforeFingerprint(t *testing.T) {
	fs := newFakeStore()
	d := newTestDetector(fs)

	_, _, err := d.DetectBatch(context.Background(), []models.Book{
		observedBook("https://example.test/b1", "Book One", 9.99),
	})
	require.NoError(t, err)

	require.Len(t, fs.calls, 2)
	bookID := fingerprint.BookID("https://example.test/b1")
	assert.Equal(t, "save_change:"+bookID, fs.calls[0])
	assert.Equal(t, "upsert_fingerprint:"+bookID, fs.calls[1])
}

func TestProcessBookStoreFailureIsRecorded(t *testing.T) {
	fs := newFakeStore()
	fs.failSaveChanges = true
	d := newTestDetector(fs)

	_, result, err := d.DetectBatch(context.Background(), []models.Book{
		observedBook("https://example.test/b1", "Book One", 9.99),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "store unavailable")
	// Fingerprint untouched so the book is re-evaluated next run.
	_, fpErr := fs.GetFingerprint(fingerprint.BookID("https://example.test/b1"))
	assert.ErrorIs(t, fpErr, store.ErrNotFound)
}
