package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingField is returned by an InputBuilder when the subject context
// lacks a field the producer cannot run without. The scheduler treats a
// missing optional field as "skip this producer", never as a failure.
var ErrMissingField = errors.New("missing subject field")

// MissingFieldError wraps ErrMissingField with the field name so callers
// can report which input was absent.
func MissingFieldError(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// InputBuilder derives one producer's input from the subject context.
// Builders must be pure: same context in, same input out, no mutation.
type InputBuilder func(subject SubjectContext) (map[string]any, error)

// ProducerSpec is the static definition of one unit of work. Specs are
// loaded once at process start and treated as immutable.
type ProducerSpec struct {
	Name       string        // Unique within a run (e.g. "visa", "weather")
	PhaseIndex int           // Phase this producer belongs to
	Requires   []string      // Subject fields the producer cannot run without
	Optional   []string      // Subject fields that enable the producer but are not structural
	Build      InputBuilder  // Pure subject -> input function
	Timeout    time.Duration // Hard deadline for one invocation
}

// Validate checks the spec's structural fields.
func (s *ProducerSpec) Validate() error {
	if s.Name == "" {
		return errors.New("producer name is required")
	}
	if s.PhaseIndex < 0 {
		return fmt.Errorf("producer %s: phase index must be >= 0, got %d", s.Name, s.PhaseIndex)
	}
	if s.Build == nil {
		return fmt.Errorf("producer %s: input builder is required", s.Name)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("producer %s: timeout must be > 0, got %v", s.Name, s.Timeout)
	}
	return nil
}

// Phase is an ordered group of producers executed together before the
// next phase begins.
type Phase struct {
	Index     int            // Contiguous, starting at 0
	Name      string         // Display name (e.g. "Phase 1")
	Producers []ProducerSpec // Declaration order is execution start order
}
