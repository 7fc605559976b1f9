package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/tripsmith/internal/models"
)

// Invoker runs one producer call under the spec's deadline and normalizes
// the result into a TaskOutcome. Nothing escapes Invoke as an error:
// timeouts, panics, and malformed envelopes all come back as failure
// outcomes, which keeps the scheduling loop above it uniform.
type Invoker struct {
	producers Directory
}

// NewInvoker creates an Invoker over a producer directory.
func NewInvoker(producers Directory) *Invoker {
	return &Invoker{producers: producers}
}

// invokeResult carries one producer call's return values across the
// deadline-enforcing goroutine boundary.
type invokeResult struct {
	result *Result
	err    error
}

// Invoke calls the producer registered for spec.Name with the built input
// and returns a TaskOutcome. The spec timeout is a hard deadline: a
// producer that ignores its context is abandoned, not waited on.
func (inv *Invoker) Invoke(ctx context.Context, runID string, spec models.ProducerSpec, input map[string]any) models.TaskOutcome {
	p, ok := inv.producers[spec.Name]
	if !ok {
		return models.FailureOutcome(runID, spec.Name, fmt.Sprintf("no producer registered for %q", spec.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	resultCh := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- invokeResult{err: fmt.Errorf("producer panicked: %v", r)}
			}
		}()
		result, err := p.Produce(ctx, input)
		resultCh <- invokeResult{result: result, err: err}
	}()

	var res invokeResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		return models.FailureOutcome(runID, spec.Name, deadlineMessage(ctx, spec.Timeout))
	}

	if res.err != nil {
		return models.FailureOutcome(runID, spec.Name, res.err.Error())
	}
	if res.result == nil {
		return models.FailureOutcome(runID, spec.Name, "producer returned no result and no error")
	}
	if err := res.result.Validate(); err != nil {
		return models.FailureOutcome(runID, spec.Name, err.Error())
	}

	confidence := -1.0
	if res.result.Confidence != nil {
		confidence = *res.result.Confidence
	}
	return models.SuccessOutcome(runID, spec.Name, res.result.Payload, confidence, res.result.Sources)
}

func deadlineMessage(ctx context.Context, timeout time.Duration) string {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	return "cancelled: " + ctx.Err().Error()
}
