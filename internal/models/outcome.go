package models

import (
	"math"
	"time"
)

// Outcome status constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultConfidence is used when a producer returns a payload without a
// confidence score.
const DefaultConfidence = 0.5

// SourceRef is one provenance reference attached to a producer result.
type SourceRef struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// TaskOutcome is the normalized result of invoking one ProducerSpec once.
// Exactly one outcome exists per (run_id, producer_name) at any time;
// reruns replace, never duplicate.
type TaskOutcome struct {
	RunID        string
	ProducerName string
	Status       string         // success or failure
	Payload      map[string]any // Opaque result data, nil on failure
	Confidence   float64        // 0.0 - 1.0
	ErrorMessage string         // Set on failure
	Sources      []SourceRef
	CompletedAt  time.Time
}

// Succeeded reports whether the producer call produced a usable payload.
func (o *TaskOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// SuccessOutcome builds a success TaskOutcome, clamping confidence into
// [0,1] and defaulting it when the producer supplied none (signalled by a
// negative value).
func SuccessOutcome(runID, name string, payload map[string]any, confidence float64, sources []SourceRef) TaskOutcome {
	if confidence < 0 {
		confidence = DefaultConfidence
	}
	if confidence > 1 {
		confidence = 1
	}
	return TaskOutcome{
		RunID:        runID,
		ProducerName: name,
		Status:       OutcomeSuccess,
		Payload:      payload,
		Confidence:   confidence,
		Sources:      sources,
		CompletedAt:  time.Now(),
	}
}

// FailureOutcome builds a failure TaskOutcome carrying the error message.
func FailureOutcome(runID, name, errMessage string) TaskOutcome {
	return TaskOutcome{
		RunID:        runID,
		ProducerName: name,
		Status:       OutcomeFailure,
		ErrorMessage: errMessage,
		CompletedAt:  time.Now(),
	}
}

// ScaleConfidence converts a 0.0-1.0 confidence float to the 0-100
// integer form the store persists. The conversion is exact at the
// endpoints: 0.0 -> 0 and 1.0 -> 100.
func ScaleConfidence(f float64) int {
	v := int(math.Round(f * 100))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// UnscaleConfidence converts a persisted 0-100 score back to its float
// form. Round-tripping through ScaleConfidence stays within 0.01 of the
// original value.
func UnscaleConfidence(v int) float64 {
	return float64(v) / 100.0
}
