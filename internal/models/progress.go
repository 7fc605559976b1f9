package models

import "time"

// Progress is the read model exposed to progress-polling callers. It is a
// point-in-time snapshot; Percent never decreases over the life of a run.
type Progress struct {
	RunID           string        `json:"run_id"`
	Status          string        `json:"status"`
	Percent         int           `json:"percent"`
	CurrentProducer string        `json:"current_producer,omitempty"`
	Completed       []string      `json:"completed"`
	Failed          []string      `json:"failed"`
	FirstError      string        `json:"first_error,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// RunResult is the aggregate outcome of one run: what finished, what did
// not, and every non-fatal error captured along the way. Completion means
// "no more phases to run", not "no errors".
type RunResult struct {
	RunID           string
	Status          string
	Available       []string      // Producers with a success outcome
	MissingOrFailed []string      // Producers skipped or failed
	Outcomes        []TaskOutcome // All outcomes in completion order
	Errors          []RunError    // Non-fatal errors, append order
	Duration        time.Duration
}
