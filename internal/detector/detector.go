// Package detector compares freshly observed books against their stored
// fingerprints and turns the differences into classified change records.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"book-monitor/internal/fingerprint"
	"book-monitor/internal/models"
	"book-monitor/internal/store"
)

// ErrInvalidBook marks observations the detector refuses to process
// (missing identity fields, negative prices).
var ErrInvalidBook = errors.New("invalid book record")

// checkpointSize is how many books are processed between cooperative
// cancellation checks. Cancellation never interrupts an item mid-flight.
const checkpointSize = 50

// Store is the persistence surface the detector needs.
type Store interface {
	GetFingerprint(bookID string) (*models.Fingerprint, error)
	UpsertFingerprint(fp *models.Fingerprint) error
	ListFingerprintBookIDs() ([]string, error)
	SaveChanges(changes []models.Change) error
	GetBook(id string) (*models.Book, error)
	UpsertBook(b *models.Book) error
	MarkBookRemoved(id string) error
}

// Detector runs change detection for single books and whole batches.
type Detector struct {
	store         Store
	policy        Policy
	maxConcurrent int
	log           zerolog.Logger

	now func() time.Time
}

// New creates a detector with the given classification policy.
func New(st Store, policy Policy, maxConcurrent int, log zerolog.Logger) *Detector {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Detector{
		store:         st,
		policy:        policy,
		maxConcurrent: maxConcurrent,
		log:           log.With().Str("component", "detector").Logger(),
		now:           time.Now,
	}
}

// Detect classifies the differences between a fresh observation and its
// stored fingerprint. Pure: no I/O, no store writes. prior is the last raw
// observation, used to recover old/new values; when it is nil the detector
// falls back to hash-only evidence with reduced confidence. The freshly
// computed fingerprint is returned for the caller to persist after the
// changes are durable.
func (d *Detector) Detect(current *models.Book, stored *models.Fingerprint, prior *models.Book) ([]models.Change, *models.Fingerprint) {
	fresh := fingerprint.Compute(current)
	detectedAt := d.now()

	if stored == nil {
		return []models.Change{d.newBookChange(current, fresh, detectedAt)}, fresh
	}

	if stored.ContentHash == fresh.ContentHash {
		return nil, fresh
	}

	var changes []models.Change
	for _, gp := range policyTable {
		if gp.hash(stored) == gp.hash(fresh) {
			continue
		}
		changes = append(changes, d.classifyGroup(gp, current, prior, detectedAt)...)
	}

	// name participates only in the content digest, so a content mismatch
	// with no differing group digest can only be a name change.
	if prior != nil {
		if prior.Name != current.Name {
			changes = append(changes, d.nameChange(current, prior, detectedAt))
		}
	} else if len(changes) == 0 {
		changes = append(changes, models.Change{
			ChangeID:        uuid.NewString(),
			BookID:          fingerprint.BookID(current.SourceURL),
			SourceURL:       current.SourceURL,
			ChangeType:      models.ChangeTypeDescriptionChange,
			Severity:        models.SeverityHigh,
			FieldName:       "name",
			Summary:         fmt.Sprintf("content group changed for '%s' (prior values unavailable)", current.Name),
			ConfidenceScore: hashOnlyConfidence,
			DetectedAt:      detectedAt,
		})
	}
	return changes, fresh
}

// classifyGroup emits the changes for one differing digest group. With the
// prior raw book available every differing field gets its own exact-match
// change; without it the group yields a single hash-evidence change.
func (d *Detector) classifyGroup(gp groupPolicy, current, prior *models.Book, detectedAt time.Time) []models.Change {
	if prior == nil {
		return []models.Change{{
			ChangeID:        uuid.NewString(),
			BookID:          fingerprint.BookID(current.SourceURL),
			SourceURL:       current.SourceURL,
			ChangeType:      gp.fallbackType,
			Severity:        gp.fallbackSev,
			FieldName:       string(gp.group),
			Summary:         fmt.Sprintf("%s group changed for '%s' (prior values unavailable)", gp.group, current.Name),
			ConfidenceScore: hashOnlyConfidence,
			DetectedAt:      detectedAt,
		}}
	}

	var changes []models.Change
	for _, fp := range gp.fields {
		if !fp.changed(prior, current) {
			continue
		}
		oldValue := fp.value(prior)
		newValue := fp.value(current)
		changes = append(changes, models.Change{
			ChangeID:        uuid.NewString(),
			BookID:          fingerprint.BookID(current.SourceURL),
			SourceURL:       current.SourceURL,
			ChangeType:      fp.changeType,
			Severity:        fp.severity(&d.policy, prior, current),
			FieldName:       fp.field,
			OldValue:        &oldValue,
			NewValue:        &newValue,
			Summary:         changeSummary(fp.field, oldValue, newValue),
			ConfidenceScore: 1.0,
			DetectedAt:      detectedAt,
		})
	}
	return changes
}

func (d *Detector) newBookChange(b *models.Book, fp *models.Fingerprint, detectedAt time.Time) models.Change {
	newValue := b.Name
	return models.Change{
		ChangeID:        uuid.NewString(),
		BookID:          fp.BookID,
		SourceURL:       b.SourceURL,
		ChangeType:      models.ChangeTypeNewBook,
		Severity:        models.SeverityMedium,
		FieldName:       "book",
		NewValue:        &newValue,
		Summary:         fmt.Sprintf("New book discovered: %s", b.Name),
		ConfidenceScore: 1.0,
		DetectedAt:      detectedAt,
	}
}

// Name changes ride the description_change type at high severity; they are
// rare and usually mean the listing was replaced.
func (d *Detector) nameChange(current, prior *models.Book, detectedAt time.Time) models.Change {
	oldValue := prior.Name
	newValue := current.Name
	return models.Change{
		ChangeID:        uuid.NewString(),
		BookID:          fingerprint.BookID(current.SourceURL),
		SourceURL:       current.SourceURL,
		ChangeType:      models.ChangeTypeDescriptionChange,
		Severity:        models.SeverityHigh,
		FieldName:       "name",
		OldValue:        &oldValue,
		NewValue:        &newValue,
		Summary:         changeSummary("name", oldValue, newValue),
		ConfidenceScore: 1.0,
		DetectedAt:      detectedAt,
	}
}

func (d *Detector) removedBookChange(bookID string, prior *models.Book, sourceURL string, detectedAt time.Time) models.Change {
	name := bookID
	if prior != nil {
		name = prior.Name
		sourceURL = prior.SourceURL
	}
	oldValue := name
	return models.Change{
		ChangeID:        uuid.NewString(),
		BookID:          bookID,
		SourceURL:       sourceURL,
		ChangeType:      models.ChangeTypeBookRemoved,
		Severity:        models.SeverityHigh,
		FieldName:       "book",
		OldValue:        &oldValue,
		Summary:         fmt.Sprintf("Book '%s' has been removed from the catalog", name),
		ConfidenceScore: 1.0,
		DetectedAt:      detectedAt,
	}
}

// validateBook rejects observations that cannot be processed safely.
func validateBook(b *models.Book) error {
	if b.SourceURL == "" {
		return fmt.Errorf("%w: missing source_url", ErrInvalidBook)
	}
	if b.Name == "" {
		return fmt.Errorf("%w: missing name for %s", ErrInvalidBook, b.SourceURL)
	}
	if b.PriceIncludingTax < 0 || b.PriceExcludingTax < 0 {
		return fmt.Errorf("%w: negative price for %s", ErrInvalidBook, b.SourceURL)
	}
	return nil
}

// batchState accumulates results across concurrent item workers.
type batchState struct {
	mu      sync.Mutex
	changes []models.Change
	result  *models.DetectionResult
	seen    map[string]struct{}
}

func (st *batchState) recordItem(bookID string, changes []models.Change) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.seen[bookID] = struct{}{}
	updated := false
	for i := range changes {
		st.result.RecordChange(&changes[i])
		if changes[i].ChangeType != models.ChangeTypeNewBook && changes[i].ChangeType != models.ChangeTypeBookRemoved {
			updated = true
		}
	}
	if updated {
		st.result.UpdatedBooks++
	}
	st.changes = append(st.changes, changes...)
}

func (st *batchState) recordError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.result.Errors = append(st.result.Errors, err.Error())
}

func (st *batchState) markSeen(bookID string) {
	st.mu.Lock()
	st.seen[bookID] = struct{}{}
	st.mu.Unlock()
}

// DetectBatch runs detection over one full observed batch with bounded
// concurrency, then sweeps the fingerprint store for removed books.
// Per-item failures are captured in the result's error list and never abort
// the batch; the returned error is non-nil only for cancellation.
func (d *Detector) DetectBatch(ctx context.Context, books []models.Book) ([]models.Change, *models.DetectionResult, error) {
	state := &batchState{
		result: &models.DetectionResult{
			RunID:             uuid.NewString(),
			StartedAt:         d.now(),
			ChangesByType:     make(map[string]int),
			ChangesBySeverity: make(map[string]int),
		},
		seen: make(map[string]struct{}),
	}

	d.log.Info().Str("run_id", state.result.RunID).Int("books", len(books)).Msg("starting detection batch")

	cancelled := false
	for start := 0; start < len(books); start += checkpointSize {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		end := start + checkpointSize
		if end > len(books) {
			end = len(books)
		}

		g := new(errgroup.Group)
		g.SetLimit(d.maxConcurrent)
		for i := start; i < end; i++ {
			book := books[i]
			g.Go(func() error {
				d.processBook(&book, state)
				return nil
			})
		}
		// Workers never return errors; per-item failures land in the
		// result's error list.
		_ = g.Wait()

		// TotalChecked counts attempted items, so a cancelled run's partial
		// result reflects only the chunks that actually ran.
		state.mu.Lock()
		state.result.TotalChecked += end - start
		state.mu.Unlock()
	}

	if !cancelled {
		d.sweepRemoved(state)
	}

	state.result.Finalize(d.now())

	if cancelled {
		state.result.Errors = append(state.result.Errors, "run cancelled before completion")
		state.result.Success = false
		d.log.Warn().Str("run_id", state.result.RunID).Msg("detection batch cancelled")
		return state.changes, state.result, ctx.Err()
	}

	d.log.Info().
		Str("run_id", state.result.RunID).
		Int("changes", state.result.ChangesDetected).
		Int("new", state.result.NewBooks).
		Int("removed", state.result.RemovedBooks).
		Int("errors", len(state.result.Errors)).
		Msg("detection batch completed")

	return state.changes, state.result, nil
}

// processBook handles one observation end to end: validate, load state,
// classify, persist. Within one book the order is fixed: changes are saved
// before the fingerprint is upserted, so a crash in between cannot erase
// evidence of a change that already happened.
func (d *Detector) processBook(book *models.Book, state *batchState) {
	// An observed identity is never subject to the removal sweep, even when
	// processing the item fails.
	if book.SourceURL != "" {
		state.markSeen(fingerprint.BookID(book.SourceURL))
	}

	if err := validateBook(book); err != nil {
		state.recordError(err)
		return
	}

	bookID := fingerprint.BookID(book.SourceURL)
	book.ID = bookID

	stored, err := d.store.GetFingerprint(bookID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		state.recordError(fmt.Errorf("load fingerprint for %s: %w", bookID, err))
		return
	}

	var prior *models.Book
	if stored != nil {
		prior, err = d.store.GetBook(bookID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			state.recordError(fmt.Errorf("load prior book %s: %w", bookID, err))
			return
		}
	}

	changes, fresh := d.Detect(book, stored, prior)

	if len(changes) > 0 {
		if err := d.store.SaveChanges(changes); err != nil {
			state.recordError(fmt.Errorf("save changes for %s: %w", bookID, err))
			return
		}
	}
	if stored == nil || stored.ContentHash != fresh.ContentHash {
		if err := d.store.UpsertFingerprint(fresh); err != nil {
			state.recordError(fmt.Errorf("upsert fingerprint for %s: %w", bookID, err))
			return
		}
	}
	if err := d.store.UpsertBook(book); err != nil {
		state.recordError(fmt.Errorf("upsert book %s: %w", bookID, err))
		return
	}

	state.recordItem(bookID, changes)
}

// sweepRemoved reports fingerprinted books that were absent from the
// observed batch. The fingerprint is retained so a reappearance is detected
// as a content diff against it, not as a second new-book event.
func (d *Detector) sweepRemoved(state *batchState) {
	ids, err := d.store.ListFingerprintBookIDs()
	if err != nil {
		state.recordError(fmt.Errorf("list fingerprints for removal sweep: %w", err))
		return
	}

	missing := lo.Filter(ids, func(id string, _ int) bool {
		_, seen := state.seen[id]
		return !seen
	})

	for _, id := range missing {
		prior, err := d.store.GetBook(id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			state.recordError(fmt.Errorf("load removed book %s: %w", id, err))
			continue
		}
		// Already reported removed in an earlier run.
		if prior != nil && prior.Status == models.BookStatusRemoved {
			continue
		}

		change := d.removedBookChange(id, prior, "", d.now())
		if err := d.store.SaveChanges([]models.Change{change}); err != nil {
			state.recordError(fmt.Errorf("save removal for %s: %w", id, err))
			continue
		}
		if err := d.store.MarkBookRemoved(id); err != nil {
			state.recordError(fmt.Errorf("mark book removed %s: %w", id, err))
			continue
		}

		state.mu.Lock()
		state.result.RecordChange(&change)
		state.changes = append(state.changes, change)
		state.mu.Unlock()
	}
}
