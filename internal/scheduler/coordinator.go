package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/tripsmith/internal/models"
	"github.com/harrison/tripsmith/internal/registry"
	"github.com/harrison/tripsmith/internal/tracker"
)

// ErrPrecondition marks a run that failed validation before any producer
// was invoked.
var ErrPrecondition = errors.New("run precondition failed")

// ErrCancelled marks a run stopped by caller-initiated cancellation.
// Outcomes persisted before the cancellation remain valid.
var ErrCancelled = errors.New("run cancelled")

// RunStore is the persistence surface the coordinator needs on top of
// the scheduler's ResultStore.
type RunStore interface {
	ResultStore
	SaveRun(ctx context.Context, run *models.Run) error
}

// Coordinator is the top-level entry point for one orchestration run.
type Coordinator struct {
	registry  *registry.Registry
	scheduler *Scheduler
	store     RunStore
	logger    RunLogger
}

// NewCoordinator wires a coordinator over a registry, scheduler, and
// store. The logger may be nil.
func NewCoordinator(reg *registry.Registry, sched *Scheduler, store RunStore, logger RunLogger) *Coordinator {
	return &Coordinator{
		registry:  reg,
		scheduler: sched,
		store:     store,
		logger:    logger,
	}
}

// Handle is a started run: its ID, its live progress read model, and the
// eventual result.
type Handle struct {
	RunID   string
	subject models.SubjectContext
	tracker *tracker.Tracker
	done    chan struct{}
	result  *models.RunResult
	err     error
}

// Progress returns the run's current progress snapshot. Safe to call
// concurrently with the run itself.
func (h *Handle) Progress() models.Progress {
	return h.tracker.Progress()
}

// Wait blocks until the run reaches a terminal status and returns the
// aggregate result. The error is ErrPrecondition, ErrCancelled, or nil;
// producer failures are not errors here, they live in the result.
func (h *Handle) Wait() (*models.RunResult, error) {
	<-h.done
	return h.result, h.err
}

// StartRun validates preconditions and, when they hold, drives every
// phase to exhaustion. The run is asynchronous: poll the handle for
// progress, Wait for the result. Exactly one transition to running and
// exactly one terminal transition happen per run.
func (c *Coordinator) StartRun(ctx context.Context, subject models.SubjectContext) *Handle {
	runID := uuid.NewString()
	h := &Handle{
		RunID:   runID,
		subject: subject.Clone(),
		tracker: tracker.New(runID, c.registry.TotalProducers()),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		h.result, h.err = c.execute(ctx, h)
	}()
	return h
}

func (c *Coordinator) execute(ctx context.Context, h *Handle) (*models.RunResult, error) {
	start := time.Now()
	run := &models.Run{
		ID:        h.RunID,
		Subject:   h.subject,
		Status:    models.RunPending,
		StartedAt: start,
	}

	// Precondition validation happens before any producer runs. A
	// missing structural field fails the whole run with a single
	// precondition error and zero outcomes.
	if missing := c.missingStructuralFields(run.Subject); len(missing) > 0 {
		return c.failPrecondition(ctx, run, h, missing, start)
	}

	h.tracker.Start()
	run.Status = models.RunRunning
	if err := c.store.SaveRun(ctx, run); err != nil {
		// Persistence of the run record itself failing is a run-level
		// error, not a reason to skip producing.
		c.noteRunError(ctx, run.ID, h, nil, models.RunError{
			Message:    "persist run: " + err.Error(),
			OccurredAt: time.Now(),
		})
	}

	report := c.scheduler.RunPhases(ctx, run, c.registry.Phases(), h.tracker)
	run.PhasesCompleted = report.PhasesCompleted

	// Last-chance batch write: one retry for outcomes whose incremental
	// upsert failed. The producer's logical result stands either way.
	for _, outcome := range report.PendingUpserts {
		if err := c.store.Upsert(ctx, outcome); err != nil {
			runErr := models.RunError{
				ProducerName: outcome.ProducerName,
				Message:      "final persist retry: " + err.Error(),
				OccurredAt:   time.Now(),
			}
			c.noteRunError(ctx, run.ID, h, &report, runErr)
		}
	}

	result := c.aggregate(run, &report, time.Since(start))

	var terminalErr error
	if report.Cancelled {
		run.Status = models.RunFailed
		result.Status = models.RunFailed
		runErr := models.RunError{
			Message:    "cancelled: " + contextReason(ctx),
			OccurredAt: time.Now(),
		}
		c.noteRunError(ctx, run.ID, h, &report, runErr)
		result.Errors = report.Errors
		terminalErr = ErrCancelled
	} else {
		// Completion means "no more phases to run", not "no errors".
		run.Status = models.RunCompleted
		result.Status = models.RunCompleted
	}

	h.tracker.Finish(run.Status)
	now := time.Now()
	run.CompletedAt = &now
	if err := c.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		result.Errors = append(result.Errors, models.RunError{
			Message:    "persist terminal run: " + err.Error(),
			OccurredAt: time.Now(),
		})
	}

	if c.logger != nil {
		c.logger.LogSummary(*result)
	}
	return result, terminalErr
}

// failPrecondition finalizes a run that never got to invoke a producer.
func (c *Coordinator) failPrecondition(ctx context.Context, run *models.Run, h *Handle, missing []string, start time.Time) (*models.RunResult, error) {
	runErr := models.RunError{
		Message:    "missing required subject fields: " + strings.Join(missing, ", "),
		OccurredAt: time.Now(),
	}

	run.Status = models.RunFailed
	now := time.Now()
	run.CompletedAt = &now
	c.store.SaveRun(ctx, run)
	c.store.AppendError(ctx, run.ID, runErr)

	h.tracker.RecordError(runErr)
	h.tracker.Finish(models.RunFailed)

	result := &models.RunResult{
		RunID:           run.ID,
		Status:          models.RunFailed,
		MissingOrFailed: c.registry.ProducerNames(),
		Errors:          []models.RunError{runErr},
		Duration:        time.Since(start),
	}
	if c.logger != nil {
		c.logger.LogSummary(*result)
	}
	return result, fmt.Errorf("%w: %s", ErrPrecondition, runErr.Message)
}

// missingStructuralFields returns the registry's structural fields absent
// from the subject, sorted.
func (c *Coordinator) missingStructuralFields(subject models.SubjectContext) []string {
	var missing []string
	for _, field := range c.registry.StructuralFields() {
		if subject[field] == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// aggregate turns the scheduler's report into the run's final result.
// available lists producers with a success outcome; everything else in
// the registry is missing or failed.
func (c *Coordinator) aggregate(run *models.Run, report *Report, duration time.Duration) *models.RunResult {
	succeeded := make(map[string]bool)
	for _, outcome := range report.Outcomes {
		if outcome.Succeeded() {
			succeeded[outcome.ProducerName] = true
		} else {
			delete(succeeded, outcome.ProducerName)
		}
	}

	var available, missingOrFailed []string
	for _, name := range c.registry.ProducerNames() {
		if succeeded[name] {
			available = append(available, name)
		} else {
			missingOrFailed = append(missingOrFailed, name)
		}
	}

	return &models.RunResult{
		RunID:           run.ID,
		Available:       available,
		MissingOrFailed: missingOrFailed,
		Outcomes:        report.Outcomes,
		Errors:          report.Errors,
		Duration:        duration,
	}
}

// noteRunError records a run-level error in every ledger that outlives
// the call: tracker, report, and store.
func (c *Coordinator) noteRunError(ctx context.Context, runID string, h *Handle, report *Report, runErr models.RunError) {
	h.tracker.RecordError(runErr)
	if report != nil {
		report.Errors = append(report.Errors, runErr)
	}
	c.store.AppendError(context.WithoutCancel(ctx), runID, runErr)
}

func contextReason(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	return "caller aborted"
}
