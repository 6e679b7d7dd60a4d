// Package store is the gorm-backed persistence layer for books,
// fingerprints, changes, detection results and daily reports.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"book-monitor/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle. Transient failures are retried with
// bounded exponential backoff before being reported to the caller.
type Store struct {
	db         *gorm.DB
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// New creates a store. maxRetries counts attempts after the first; a
// non-positive value disables retrying.
func New(db *gorm.DB, maxRetries int, retryDelay time.Duration, log zerolog.Logger) *Store {
	return &Store{
		db:         db,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "store").Logger(),
	}
}

// withRetry retries fn on transient errors. Not-found is never retried.
func (s *Store) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
			return err
		}
		if attempt >= s.maxRetries {
			break
		}
		delay := s.retryDelay * time.Duration(1<<attempt)
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("backoff", delay).
			Msg("store operation failed, retrying")
		time.Sleep(delay)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Books ---

// UpsertBook creates or updates the last raw observation of a book,
// preserving CreatedAt on update and reactivating removed rows.
func (s *Store) UpsertBook(b *models.Book) error {
	if b.FetchedAt.IsZero() {
		b.FetchedAt = time.Now()
	}
	if b.Status == "" {
		b.Status = models.BookStatusActive
	}

	return s.withRetry("upsert book", func() error {
		var existing models.Book
		result := s.db.Where("id = ?", b.ID).First(&existing)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return s.db.Create(b).Error
		}
		if result.Error != nil {
			return result.Error
		}
		b.CreatedAt = existing.CreatedAt
		b.Status = models.BookStatusActive
		b.RemovedAt = nil
		return s.db.Save(b).Error
	})
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(id string) (*models.Book, error) {
	var book models.Book
	err := s.withRetry("get book", func() error {
		return s.db.Where("id = ?", id).First(&book).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks retrieves books with pagination, newest first.
func (s *Store) ListBooks(limit, offset int) ([]models.Book, error) {
	var books []models.Book
	err := s.withRetry("list books", func() error {
		return s.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&books).Error
	})
	return books, err
}

// CountBooks returns the number of tracked books, active and removed.
func (s *Store) CountBooks() (int64, error) {
	var count int64
	err := s.withRetry("count books", func() error {
		return s.db.Model(&models.Book{}).Count(&count).Error
	})
	return count, err
}

// MarkBookRemoved soft-deletes a book that disappeared from the catalog.
func (s *Store) MarkBookRemoved(id string) error {
	now := time.Now()
	return s.withRetry("mark book removed", func() error {
		return s.db.Model(&models.Book{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     models.BookStatusRemoved,
				"removed_at": &now,
			}).Error
	})
}

// --- Fingerprints ---

// GetFingerprint retrieves the fingerprint for a book ID. Returns
// ErrNotFound when the book has never been fingerprinted.
func (s *Store) GetFingerprint(bookID string) (*models.Fingerprint, error) {
	var fp models.Fingerprint
	err := s.withRetry("get fingerprint", func() error {
		return s.db.Where("book_id = ?", bookID).First(&fp).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

// UpsertFingerprint creates or replaces the single fingerprint row for the
// book, preserving CreatedAt on update.
func (s *Store) UpsertFingerprint(fp *models.Fingerprint) error {
	return s.withRetry("upsert fingerprint", func() error {
		var existing models.Fingerprint
		result := s.db.Where("book_id = ?", fp.BookID).First(&existing)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return s.db.Create(fp).Error
		}
		if result.Error != nil {
			return result.Error
		}
		fp.CreatedAt = existing.CreatedAt
		return s.db.Save(fp).Error
	})
}

// ListFingerprintBookIDs returns every fingerprinted book ID, used for
// removal detection.
func (s *Store) ListFingerprintBookIDs() ([]string, error) {
	var ids []string
	err := s.withRetry("list fingerprint ids", func() error {
		return s.db.Model(&models.Fingerprint{}).Pluck("book_id", &ids).Error
	})
	return ids, err
}

// CountFingerprints returns the number of fingerprint rows.
func (s *Store) CountFingerprints() (int64, error) {
	var count int64
	err := s.withRetry("count fingerprints", func() error {
		return s.db.Model(&models.Fingerprint{}).Count(&count).Error
	})
	return count, err
}

// --- Changes ---

// SaveChanges persists a batch of change records. Changes are write-once;
// nothing updates them after this insert.
func (s *Store) SaveChanges(changes []models.Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.withRetry("save changes", func() error {
		return s.db.Create(&changes).Error
	})
}

// ChangeFilter narrows a change query. Zero values mean "no filter".
type ChangeFilter struct {
	BookID     string
	ChangeType models.ChangeType
	Severity   models.Severity
	Since      *time.Time
	Limit      int
	Offset     int
}

// QueryChanges retrieves changes matching the filter, newest first.
func (s *Store) QueryChanges(f ChangeFilter) ([]models.Change, int64, error) {
	query := s.db.Model(&models.Change{})
	if f.BookID != "" {
		query = query.Where("book_id = ?", f.BookID)
	}
	if f.ChangeType != "" {
		query = query.Where("change_type = ?", f.ChangeType)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Since != nil {
		query = query.Where("detected_at >= ?", *f.Since)
	}

	var total int64
	var changes []models.Change
	err := s.withRetry("query changes", func() error {
		if err := query.Count(&total).Error; err != nil {
			return err
		}
		limit := f.Limit
		if limit <= 0 {
			limit = 50
		}
		return query.Order("detected_at DESC").Limit(limit).Offset(f.Offset).Find(&changes).Error
	})
	return changes, total, err
}

// ChangesSince retrieves all changes detected at or after the cutoff.
func (s *Store) ChangesSince(cutoff time.Time) ([]models.Change, error) {
	var changes []models.Change
	err := s.withRetry("changes since", func() error {
		return s.db.Where("detected_at >= ?", cutoff).Order("detected_at DESC").Find(&changes).Error
	})
	return changes, err
}

// ChangesInRange retrieves all changes detected within [start, end), newest
// first.
func (s *Store) ChangesInRange(start, end time.Time) ([]models.Change, error) {
	var changes []models.Change
	err := s.withRetry("changes in range", func() error {
		return s.db.Where("detected_at >= ? AND detected_at < ?", start, end).
			Order("detected_at DESC").Find(&changes).Error
	})
	return changes, err
}

// --- Detection results ---

// SaveDetectionResult persists the finalized summary of one run.
func (s *Store) SaveDetectionResult(r *models.DetectionResult) error {
	return s.withRetry("save detection result", func() error {
		return s.db.Save(r).Error
	})
}

// DetectionResultsForDate retrieves all runs started on the given calendar
// day, oldest first.
func (s *Store) DetectionResultsForDate(date time.Time) ([]models.DetectionResult, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var results []models.DetectionResult
	err := s.withRetry("detection results for date", func() error {
		return s.db.Where("started_at >= ? AND started_at < ?", dayStart, dayEnd).
			Order("started_at ASC").Find(&results).Error
	})
	return results, err
}

// LatestDetectionResult returns the most recently started run.
func (s *Store) LatestDetectionResult() (*models.DetectionResult, error) {
	var result models.DetectionResult
	err := s.withRetry("latest detection result", func() error {
		return s.db.Order("started_at DESC").First(&result).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Daily reports ---

// UpsertDailyReport stores the report for its date, overwriting any
// previous report in the same slot.
func (s *Store) UpsertDailyReport(r *models.DailyReport) error {
	return s.withRetry("upsert daily report", func() error {
		var existing models.DailyReport
		result := s.db.Where("report_date = ?", r.ReportDate).First(&existing)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return s.db.Create(r).Error
		}
		if result.Error != nil {
			return result.Error
		}
		r.CreatedAt = existing.CreatedAt
		return s.db.Save(r).Error
	})
}

// ReportByDate retrieves the report for a YYYY-MM-DD date key.
func (s *Store) ReportByDate(date string) (*models.DailyReport, error) {
	var report models.DailyReport
	err := s.withRetry("report by date", func() error {
		return s.db.Where("report_date = ?", date).First(&report).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// DeleteReportsBefore removes reports older than the cutoff date key and
// returns how many were deleted. Deleting strictly before the cutoff never
// touches the slot a concurrent generation is writing.
func (s *Store) DeleteReportsBefore(date string) (int64, error) {
	var deleted int64
	err := s.withRetry("delete reports before", func() error {
		result := s.db.Where("report_date < ?", date).Delete(&models.DailyReport{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
