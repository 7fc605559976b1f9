// Package scheduler drives a run: the PhaseScheduler executes phases in
// strict order and producers within each phase through the rate-limited
// invoker, and the Coordinator owns run lifecycle, preconditions, and
// final aggregation.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/harrison/tripsmith/internal/models"
	"github.com/harrison/tripsmith/internal/ratelimit"
)

// ProducerInvoker invokes one producer and normalizes the call into a
// TaskOutcome. Implemented by producer.Invoker.
type ProducerInvoker interface {
	Invoke(ctx context.Context, runID string, spec models.ProducerSpec, input map[string]any) models.TaskOutcome
}

// ResultStore is the durable sink for outcomes and run errors. Upsert is
// idempotent by (run_id, producer_name).
type ResultStore interface {
	Upsert(ctx context.Context, outcome models.TaskOutcome) error
	AppendError(ctx context.Context, runID string, runErr models.RunError) error
}

// StatusSink receives ledger updates as the scheduler makes progress.
// Implemented by tracker.Tracker.
type StatusSink interface {
	SetCurrent(name string)
	ClearCurrent()
	RecordOutcome(outcome models.TaskOutcome)
	RecordError(runErr models.RunError)
}

// RunLogger logs scheduling progress. All methods tolerate being called
// from a single scheduler goroutine; a nil logger disables logging.
type RunLogger interface {
	LogPhaseStart(phase models.Phase)
	LogPhaseComplete(phase models.Phase, duration time.Duration)
	LogProducerStart(spec models.ProducerSpec)
	LogOutcome(outcome models.TaskOutcome)
	LogSummary(result models.RunResult)
}

// Report is what one pass over the phases produced. PendingUpserts holds
// outcomes whose incremental write failed; the coordinator retries them
// once at aggregation time.
type Report struct {
	Outcomes        []models.TaskOutcome
	Errors          []models.RunError
	PhasesCompleted []string
	PendingUpserts  []models.TaskOutcome
	Cancelled       bool
}

// Scheduler executes phases in index order. Within a phase producers run
// in declaration order, sequentially by default; Concurrency > 1 allows
// bounded fan-out within a phase, with every launch still gated by the
// shared rate limiter.
type Scheduler struct {
	invoker     ProducerInvoker
	limiter     ratelimit.Limiter
	store       ResultStore
	logger      RunLogger
	concurrency int
}

// New creates a Scheduler. The logger may be nil.
func New(invoker ProducerInvoker, limiter ratelimit.Limiter, store ResultStore, logger RunLogger, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		invoker:     invoker,
		limiter:     limiter,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// launchable is one producer ready to run: its spec plus the input its
// builder derived from the subject.
type launchable struct {
	spec  models.ProducerSpec
	input map[string]any
}

// RunPhases executes every phase for the run. Individual producer
// failures never abort the pass; only context cancellation stops it, and
// outcomes persisted before the cancellation remain valid.
func (s *Scheduler) RunPhases(ctx context.Context, run *models.Run, phases []models.Phase, sink StatusSink) Report {
	var report Report

	for _, phase := range phases {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report
		}

		ready, buildFailures := s.prepare(run, phase)
		for _, outcome := range buildFailures {
			s.settle(ctx, run.ID, outcome, sink, &report)
		}

		// A phase with nothing runnable is skipped silently: producers
		// whose optional inputs are absent are not failures.
		if len(ready) == 0 {
			report.PhasesCompleted = append(report.PhasesCompleted, phase.Name)
			continue
		}

		if s.logger != nil {
			s.logger.LogPhaseStart(phase)
		}
		phaseStart := time.Now()

		var cancelled bool
		if s.concurrency > 1 && len(ready) > 1 {
			cancelled = s.runPhaseConcurrent(ctx, run.ID, ready, sink, &report)
		} else {
			cancelled = s.runPhaseSequential(ctx, run.ID, ready, sink, &report)
		}

		if s.logger != nil {
			s.logger.LogPhaseComplete(phase, time.Since(phaseStart))
		}
		if cancelled {
			report.Cancelled = true
			return report
		}
		report.PhasesCompleted = append(report.PhasesCompleted, phase.Name)
	}

	return report
}

// prepare builds every producer input for a phase. Producers missing an
// optional field are skipped; any other builder error becomes a failure
// outcome so the producer still settles.
func (s *Scheduler) prepare(run *models.Run, phase models.Phase) ([]launchable, []models.TaskOutcome) {
	var ready []launchable
	var failures []models.TaskOutcome

	for _, spec := range phase.Producers {
		input, err := spec.Build(run.Subject.Clone())
		if err != nil {
			if errors.Is(err, models.ErrMissingField) {
				continue
			}
			failures = append(failures, models.FailureOutcome(run.ID, spec.Name, "build input: "+err.Error()))
			continue
		}
		ready = append(ready, launchable{spec: spec, input: input})
	}
	return ready, failures
}

// runPhaseSequential is the default single-worker path: one producer at a
// time, each launch gated by the limiter.
func (s *Scheduler) runPhaseSequential(ctx context.Context, runID string, ready []launchable, sink StatusSink, report *Report) (cancelled bool) {
	for _, l := range ready {
		if err := s.limiter.Acquire(ctx); err != nil {
			return true
		}

		sink.SetCurrent(l.spec.Name)
		if s.logger != nil {
			s.logger.LogProducerStart(l.spec)
		}

		outcome := s.invoker.Invoke(ctx, runID, l.spec, l.input)
		sink.ClearCurrent()
		s.settle(ctx, runID, outcome, sink, report)

		if ctx.Err() != nil {
			return true
		}
	}
	return false
}

// runPhaseConcurrent fans producers out up to the concurrency bound.
// Launch order stays deterministic (declaration order, limiter-gated);
// completion order is not guaranteed. Settling happens on the collection
// side so the store and sink keep a single writer.
func (s *Scheduler) runPhaseConcurrent(ctx context.Context, runID string, ready []launchable, sink StatusSink, report *Report) (cancelled bool) {
	semaphore := make(chan struct{}, s.concurrency)
	resultsCh := make(chan models.TaskOutcome, len(ready))
	launched := 0

	for _, l := range ready {
		if err := s.limiter.Acquire(ctx); err != nil {
			cancelled = true
			break
		}
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			cancelled = true
		}
		if cancelled {
			break
		}

		sink.SetCurrent(l.spec.Name)
		if s.logger != nil {
			s.logger.LogProducerStart(l.spec)
		}

		launched++
		go func(l launchable) {
			defer func() { <-semaphore }()
			resultsCh <- s.invoker.Invoke(ctx, runID, l.spec, l.input)
		}(l)
	}
	sink.ClearCurrent()

	for i := 0; i < launched; i++ {
		outcome := <-resultsCh
		s.settle(ctx, runID, outcome, sink, report)
	}
	return cancelled || ctx.Err() != nil
}

// settle records one outcome everywhere it must land: the ledger, the
// report, and the store. A failed store write is a run-level error plus a
// retry entry, never a change to the outcome itself.
func (s *Scheduler) settle(ctx context.Context, runID string, outcome models.TaskOutcome, sink StatusSink, report *Report) {
	sink.RecordOutcome(outcome)
	report.Outcomes = append(report.Outcomes, outcome)
	if s.logger != nil {
		s.logger.LogOutcome(outcome)
	}

	if !outcome.Succeeded() {
		s.recordError(ctx, runID, models.RunError{
			ProducerName: outcome.ProducerName,
			Message:      outcome.ErrorMessage,
			OccurredAt:   outcome.CompletedAt,
		}, sink, report)
	}

	if err := s.store.Upsert(ctx, outcome); err != nil {
		report.PendingUpserts = append(report.PendingUpserts, outcome)
		s.recordError(ctx, runID, models.RunError{
			ProducerName: outcome.ProducerName,
			Message:      "persist outcome: " + err.Error(),
			OccurredAt:   time.Now(),
		}, sink, report)
	}
}

// recordError appends to the in-memory ledger and writes through to the
// store best-effort. A failed error write stays in memory only.
func (s *Scheduler) recordError(ctx context.Context, runID string, runErr models.RunError, sink StatusSink, report *Report) {
	sink.RecordError(runErr)
	report.Errors = append(report.Errors, runErr)
	s.store.AppendError(ctx, runID, runErr)
}
