// Package producer defines the uniform interface the orchestrator uses to
// invoke content producers, and the invoker that normalizes every call
// into a TaskOutcome. Producers are opaque: how one computes its payload
// (LLM call, REST API, lookup table) is not this package's concern.
package producer

import (
	"context"
	"fmt"

	"github.com/harrison/tripsmith/internal/models"
)

// Result is the success envelope every producer must return: an opaque
// payload, an optional confidence score, and provenance references.
type Result struct {
	Payload    map[string]any     `json:"payload"`
	Confidence *float64           `json:"confidence,omitempty"`
	Sources    []models.SourceRef `json:"sources,omitempty"`
}

// Validate checks the envelope a producer returned. A malformed success
// envelope is a producer error, never silently accepted.
func (r *Result) Validate() error {
	if r.Payload == nil {
		return fmt.Errorf("producer returned a nil payload")
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("confidence %v outside [0,1]", *r.Confidence)
	}
	return nil
}

// Producer is one external-facing unit of work. Implementations must
// honor the context deadline and abandon work past it, and must return an
// error rather than a malformed envelope.
type Producer interface {
	Name() string
	Produce(ctx context.Context, input map[string]any) (*Result, error)
}

// Func adapts a plain function into a Producer. Used heavily in tests.
type Func struct {
	ProducerName string
	Fn           func(ctx context.Context, input map[string]any) (*Result, error)
}

// Name returns the producer's name.
func (f Func) Name() string { return f.ProducerName }

// Produce calls the wrapped function.
func (f Func) Produce(ctx context.Context, input map[string]any) (*Result, error) {
	return f.Fn(ctx, input)
}

// Directory maps producer names to implementations. The scheduler looks
// up each spec's producer here at invocation time.
type Directory map[string]Producer

// Register adds a producer under its own name.
func (d Directory) Register(p Producer) {
	d[p.Name()] = p
}
