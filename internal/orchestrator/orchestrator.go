// Package orchestrator drives one detection run end to end: load the
// observed catalog, detect, persist, alert, report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"book-monitor/internal/alert"
	"book-monitor/internal/models"
)

// ErrRunInProgress is returned when a trigger arrives while a run is
// active. Triggers are rejected, never queued.
var ErrRunInProgress = errors.New("detection run already in progress")

// State is the orchestrator's run state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateDetecting  State = "detecting"
	StatePersisting State = "persisting"
	StateAlerting   State = "alerting"
	StateReporting  State = "reporting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Crawler produces the freshly observed batch for a run.
type Crawler interface {
	FetchCatalog(ctx context.Context) ([]models.Book, error)
}

// Detector runs change detection over the observed batch.
type Detector interface {
	DetectBatch(ctx context.Context, books []models.Book) ([]models.Change, *models.DetectionResult, error)
}

// Alerter dispatches notifications for detected changes.
type Alerter interface {
	Process(changes []models.Change) alert.Summary
	DispatchDailySummary(report *models.DailyReport)
}

// Reporter builds and stores the daily report.
type Reporter interface {
	Generate(asOf time.Time, results []models.DetectionResult, changes []models.Change) (*models.DailyReport, error)
}

// Store persists run results.
type Store interface {
	SaveDetectionResult(r *models.DetectionResult) error
	DetectionResultsForDate(date time.Time) ([]models.DetectionResult, error)
}

// Status is the externally visible orchestrator state.
type Status struct {
	State     State                   `json:"state"`
	Running   bool                    `json:"running"`
	LastRun   *models.DetectionResult `json:"last_run,omitempty"`
	LastError string                  `json:"last_error,omitempty"`
}

// Orchestrator holds the current run state and the last finished result.
// It is constructed once per process; there is no package-level instance.
type Orchestrator struct {
	crawler  Crawler
	detector Detector
	alerter  Alerter
	reporter Reporter
	store    Store
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	running   bool
	cancelRun context.CancelFunc
	lastRun   *models.DetectionResult
	lastError string
}

// New creates an orchestrator in the idle state.
func New(cr Crawler, det Detector, al Alerter, rep Reporter, st Store, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		crawler:  cr,
		detector: det,
		alerter:  al,
		reporter: rep,
		store:    st,
		state:    StateIdle,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes one full detection run synchronously. A second caller while
// a run is active gets ErrRunInProgress immediately.
func (o *Orchestrator) Run(ctx context.Context) (*models.DetectionResult, error) {
	runCtx, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer o.release()

	return o.run(runCtx)
}

// TriggerAsync reserves the run slot and executes the run in the
// background. The reservation happens synchronously so callers can report
// the conflict.
func (o *Orchestrator) TriggerAsync(ctx context.Context) error {
	runCtx, err := o.acquire(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer o.release()
		if _, err := o.run(runCtx); err != nil {
			o.log.Error().Err(err).Msg("background detection run failed")
		}
	}()

	return nil
}

// Stop cancels any in-flight run. The run fails at its next batch
// checkpoint with its partial result persisted.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
}

// Status returns the current state and last finished run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:     o.state,
		Running:   o.running,
		LastRun:   o.lastRun,
		LastError: o.lastError,
	}
}

func (o *Orchestrator) acquire(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancelRun = cancel
	o.state = StateLoading
	return runCtx, nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	o.running = false
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) fail(result *models.DetectionResult, err error) (*models.DetectionResult, error) {
	o.mu.Lock()
	o.state = StateFailed
	o.lastError = err.Error()
	if result != nil {
		o.lastRun = result
	}
	o.mu.Unlock()
	o.log.Error().Err(err).Msg("detection run failed")
	return result, err
}

// run walks the state machine. The slot must already be held.
func (o *Orchestrator) run(ctx context.Context) (*models.DetectionResult, error) {
	o.log.Info().Msg("detection run starting")

	books, err := o.crawler.FetchCatalog(ctx)
	if err != nil {
		return o.fail(nil, fmt.Errorf("load catalog: %w", err))
	}

	o.setState(StateDetecting)
	changes, result, detectErr := o.detector.DetectBatch(ctx, books)

	// The partial result is persisted even when the run was cancelled
	// mid-batch; it reflects the work completed so far.
	o.setState(StatePersisting)
	if err := o.store.SaveDetectionResult(result); err != nil {
		return o.fail(result, fmt.Errorf("persist detection result: %w", err))
	}
	if detectErr != nil {
		return o.fail(result, fmt.Errorf("detection interrupted: %w", detectErr))
	}

	o.setState(StateAlerting)
	summary := o.alerter.Process(changes)

	o.setState(StateReporting)
	dayResults, err := o.store.DetectionResultsForDate(result.StartedAt)
	if err != nil {
		return o.fail(result, fmt.Errorf("load day results: %w", err))
	}
	report, err := o.reporter.Generate(result.StartedAt, dayResults, changes)
	if err != nil {
		return o.fail(result, fmt.Errorf("generate daily report: %w", err))
	}
	o.alerter.DispatchDailySummary(report)

	o.mu.Lock()
	o.state = StateDone
	o.lastRun = result
	o.lastError = ""
	o.mu.Unlock()

	o.log.Info().
		Str("run_id", result.RunID).
		Int("changes", result.ChangesDetected).
		Int("alerts_delivered", summary.Delivered).
		Int("alerts_suppressed", summary.Suppressed).
		Bool("success", result.Success).
		Msg("detection run finished")

	return result, nil
}
