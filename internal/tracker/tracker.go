// Package tracker maintains a run's lifecycle state and per-producer
// ledger. One scheduler goroutine writes; any number of progress-polling
// readers snapshot concurrently.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/tripsmith/internal/models"
)

// ErrRunFinished is returned for any transition attempted after the run
// reached a terminal status.
var ErrRunFinished = errors.New("run already finished")

// Tracker is the single-writer, multi-reader read model for one run.
type Tracker struct {
	mu         sync.RWMutex
	runID      string
	status     string
	total      int
	completed  []string
	failed     []string
	current    string
	firstError string
	startedAt  time.Time
}

// New creates a tracker for a run covering total producers across all
// phases. The run starts pending.
func New(runID string, total int) *Tracker {
	return &Tracker{
		runID:     runID,
		status:    models.RunPending,
		total:     total,
		startedAt: time.Now(),
	}
}

// Start transitions pending -> running. Exactly one Start succeeds.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != models.RunPending {
		return fmt.Errorf("cannot start run in status %s: %w", t.status, ErrRunFinished)
	}
	t.status = models.RunRunning
	return nil
}

// Finish moves the run to a terminal status. Completed is only reachable
// from running; failed is reachable from pending (precondition abort) or
// running. A second terminal transition is an error.
func (t *Tracker) Finish(status string) error {
	if status != models.RunCompleted && status != models.RunFailed {
		return fmt.Errorf("not a terminal status: %s", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	run := models.Run{Status: t.status}
	if !run.CanTransition(status) {
		return fmt.Errorf("cannot move %s -> %s: %w", t.status, status, ErrRunFinished)
	}
	t.status = status
	t.current = ""
	return nil
}

// SetCurrent marks the producer about to be invoked.
func (t *Tracker) SetCurrent(name string) {
	t.mu.Lock()
	t.current = name
	t.mu.Unlock()
}

// ClearCurrent clears the in-flight marker.
func (t *Tracker) ClearCurrent() {
	t.mu.Lock()
	t.current = ""
	t.mu.Unlock()
}

// RecordOutcome adds one producer's outcome to the ledger. A rerun of the
// same producer replaces its earlier entry so the ledger mirrors the
// store's upsert semantics.
func (t *Tracker) RecordOutcome(outcome models.TaskOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed = remove(t.completed, outcome.ProducerName)
	t.failed = remove(t.failed, outcome.ProducerName)

	if outcome.Succeeded() {
		t.completed = append(t.completed, outcome.ProducerName)
		return
	}
	t.failed = append(t.failed, outcome.ProducerName)
	if t.firstError == "" {
		t.firstError = fmt.Sprintf("%s: %s", outcome.ProducerName, outcome.ErrorMessage)
	}
}

// RecordError notes a run-level error for first_error reporting. The
// ledger itself lives in the store; the tracker only keeps what polling
// callers need.
func (t *Tracker) RecordError(runErr models.RunError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstError == "" {
		if runErr.ProducerName != "" {
			t.firstError = fmt.Sprintf("%s: %s", runErr.ProducerName, runErr.Message)
		} else {
			t.firstError = runErr.Message
		}
	}
}

// Progress returns a point-in-time snapshot. Percent is floor of
// settled-over-total and never decreases across a run's lifetime.
func (t *Tracker) Progress() models.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	settled := len(t.completed) + len(t.failed)
	percent := 100
	if t.total > 0 {
		percent = settled * 100 / t.total
	}

	return models.Progress{
		RunID:           t.runID,
		Status:          t.status,
		Percent:         percent,
		CurrentProducer: t.current,
		Completed:       append([]string(nil), t.completed...),
		Failed:          append([]string(nil), t.failed...),
		FirstError:      t.firstError,
		Elapsed:         time.Since(t.startedAt),
	}
}

// Status returns the run's current lifecycle status.
func (t *Tracker) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func remove(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}
