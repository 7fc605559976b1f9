// Package models defines the core data types shared by the tripsmith
// orchestration engine: runs, producer specs, task outcomes, and the
// progress read model.
package models

import (
	"errors"
	"time"
)

// Run status constants. A run moves forward only:
// pending -> running -> completed or failed.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SubjectContext holds the opaque inputs every producer may need for one
// trip: destination, dates, traveler profile. Producers receive a copy and
// never mutate the run's own map.
type SubjectContext map[string]string

// Clone returns an independent copy of the context. Input builders get a
// clone so a misbehaving builder cannot mutate the run's subject.
func (sc SubjectContext) Clone() SubjectContext {
	if sc == nil {
		return nil
	}
	out := make(SubjectContext, len(sc))
	for k, v := range sc {
		out[k] = v
	}
	return out
}

// Run represents one orchestration execution for one trip.
type Run struct {
	ID              string         // Unique run identifier
	Subject         SubjectContext // Inputs shared by all producers
	PhasesCompleted []string       // Names of phases that have finished, in order
	Status          string         // pending, running, completed, failed
	StartedAt       time.Time      // When the run was created
	CompletedAt     *time.Time     // Terminal timestamp (nil while non-terminal)
}

// Validate checks that the run has the fields every collaborator relies on.
func (r *Run) Validate() error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if !validRunStatus(r.Status) {
		return errors.New("invalid run status: " + r.Status)
	}
	return nil
}

// IsTerminal reports whether the run has reached completed or failed.
// Terminal runs are immutable.
func (r *Run) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// CanTransition reports whether moving from the run's current status to
// next is a legal forward transition.
func (r *Run) CanTransition(next string) bool {
	switch r.Status {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	default:
		return false
	}
}

func validRunStatus(s string) bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// RunError is a non-fatal failure captured during a run. ProducerName is
// empty for run-level errors such as persistence failures. The list is
// append-only and never aborts the run on its own.
type RunError struct {
	ProducerName string
	Message      string
	OccurredAt   time.Time
}
