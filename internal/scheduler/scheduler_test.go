package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harrison/tripsmith/internal/models"
	"github.com/harrison/tripsmith/internal/producer"
	"github.com/harrison/tripsmith/internal/ratelimit"
	"github.com/harrison/tripsmith/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory RunStore with per-producer upsert failure
// injection.
type memStore struct {
	mu          sync.Mutex
	sections    map[string]models.TaskOutcome
	errors      []models.RunError
	runs        map[string]models.Run
	failUpserts map[string]int // producer name -> remaining injected failures
}

func newMemStore() *memStore {
	return &memStore{
		sections:    make(map[string]models.TaskOutcome),
		runs:        make(map[string]models.Run),
		failUpserts: make(map[string]int),
	}
}

func (m *memStore) Upsert(ctx context.Context, outcome models.TaskOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failUpserts[outcome.ProducerName]; n > 0 {
		m.failUpserts[outcome.ProducerName] = n - 1
		return errors.New("disk full")
	}
	m.sections[outcome.RunID+"/"+outcome.ProducerName] = outcome
	return nil
}

func (m *memStore) AppendError(ctx context.Context, runID string, runErr models.RunError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, runErr)
	return nil
}

func (m *memStore) SaveRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) sectionCount(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.sections {
		if len(key) > len(runID) && key[:len(runID)] == runID {
			n++
		}
	}
	return n
}

// buildFor returns an input builder requiring the given fields.
func buildFor(fields ...string) models.InputBuilder {
	return func(subject models.SubjectContext) (map[string]any, error) {
		input := make(map[string]any)
		for _, f := range fields {
			v, ok := subject[f]
			if !ok || v == "" {
				return nil, models.MissingFieldError(f)
			}
			input[f] = v
		}
		return input, nil
	}
}

func okProducer(name string) producer.Func {
	return producer.Func{
		ProducerName: name,
		Fn: func(ctx context.Context, input map[string]any) (*producer.Result, error) {
			return &producer.Result{Payload: map[string]any{"producer": name}}, nil
		},
	}
}

func failingProducer(name string) producer.Func {
	return producer.Func{
		ProducerName: name,
		Fn: func(ctx context.Context, input map[string]any) (*producer.Result, error) {
			return nil, fmt.Errorf("%s upstream unavailable", name)
		},
	}
}

// testScheduler wires a scheduler over real invoker/limiter/tracker and
// the in-memory store.
func testScheduler(t *testing.T, dir producer.Directory, store *memStore, limiter ratelimit.Limiter, concurrency int) *Scheduler {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.NewIntervalLimiter(0)
	}
	return New(producer.NewInvoker(dir), limiter, store, nil, concurrency)
}

// specIn builds a producer spec whose listed fields are structurally
// required: they join the precondition union and the builder demands
// them.
func specIn(phase int, name string, fields ...string) models.ProducerSpec {
	return models.ProducerSpec{
		Name:       name,
		PhaseIndex: phase,
		Requires:   fields,
		Build:      buildFor(fields...),
		Timeout:    time.Second,
	}
}

// optionalIn builds a producer spec whose listed fields are optional:
// absent fields skip the producer instead of failing the run.
func optionalIn(phase int, name string, fields ...string) models.ProducerSpec {
	return models.ProducerSpec{
		Name:       name,
		PhaseIndex: phase,
		Optional:   fields,
		Build:      buildFor(fields...),
		Timeout:    time.Second,
	}
}

func TestRunPhasesPartialFailureIsolation(t *testing.T) {
	dir := producer.Directory{}
	dir.Register(okProducer("visa"))
	dir.Register(failingProducer("country"))
	dir.Register(okProducer("food"))

	store := newMemStore()
	sched := testScheduler(t, dir, store, nil, 1)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "visa", "destination_country"),
			specIn(0, "country", "destination_country"),
		}},
		{Index: 1, Name: "Phase 2", Producers: []models.ProducerSpec{
			specIn(1, "food", "destination_country"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 3)
	tr.Start()

	report := sched.RunPhases(context.Background(), run, phases, tr)

	// Phase 0 failure must not stop phase 1.
	require.Len(t, report.Outcomes, 3)
	assert.False(t, report.Cancelled)
	assert.Equal(t, []string{"Phase 1", "Phase 2"}, report.PhasesCompleted)

	byName := make(map[string]models.TaskOutcome)
	for _, o := range report.Outcomes {
		byName[o.ProducerName] = o
	}
	assert.Equal(t, models.OutcomeSuccess, byName["visa"].Status)
	assert.Equal(t, models.OutcomeFailure, byName["country"].Status)
	assert.Equal(t, models.OutcomeSuccess, byName["food"].Status)

	// Every outcome, including the failure, persisted incrementally.
	assert.Equal(t, 3, store.sectionCount("run-1"))

	// The failure landed in the error ledger without aborting anything.
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "country", report.Errors[0].ProducerName)
}

func TestRunPhasesSkipsProducersMissingOptionalFields(t *testing.T) {
	dir := producer.Directory{}
	dir.Register(okProducer("visa"))
	dir.Register(okProducer("flight"))

	store := newMemStore()
	sched := testScheduler(t, dir, store, nil, 1)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "visa", "destination_country"),
		}},
		// Entire phase needs origin_city; with none present it is
		// skipped with no error.
		{Index: 1, Name: "Phase 2", Producers: []models.ProducerSpec{
			optionalIn(1, "flight", "origin_city"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 2)
	tr.Start()

	report := sched.RunPhases(context.Background(), run, phases, tr)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "visa", report.Outcomes[0].ProducerName)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"Phase 1", "Phase 2"}, report.PhasesCompleted)
}

func TestRunPhasesRateLimiterSpacing(t *testing.T) {
	const interval = 40 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	dir := producer.Directory{}
	for _, name := range []string{"a", "b", "c"} {
		dir.Register(producer.Func{
			ProducerName: name,
			Fn: func(ctx context.Context, input map[string]any) (*producer.Result, error) {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return &producer.Result{Payload: map[string]any{}}, nil
			},
		})
	}

	store := newMemStore()
	sched := testScheduler(t, dir, store, ratelimit.NewIntervalLimiter(interval), 1)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "a", "destination_country"),
			specIn(0, "b", "destination_country"),
			specIn(0, "c", "destination_country"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 3)
	tr.Start()

	sched.RunPhases(context.Background(), run, phases, tr)

	require.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[0]), 2*interval-5*time.Millisecond,
		"start of producer 3 must trail start of producer 1 by at least 2 intervals")
}

func TestRunPhasesCancellationStopsFutureLaunches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	dir := producer.Directory{}
	dir.Register(producer.Func{
		ProducerName: "visa",
		Fn: func(ctx context.Context, input map[string]any) (*producer.Result, error) {
			cancel() // run is aborted mid-flight
			return &producer.Result{Payload: map[string]any{}}, nil
		},
	})
	dir.Register(okProducer("country"))

	store := newMemStore()
	sched := testScheduler(t, dir, store, nil, 1)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "visa", "destination_country"),
			specIn(0, "country", "destination_country"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 2)
	tr.Start()

	report := sched.RunPhases(ctx, run, phases, tr)

	assert.True(t, report.Cancelled)
	// visa finished and stays persisted; country never launched.
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "visa", report.Outcomes[0].ProducerName)
	assert.Equal(t, 1, store.sectionCount("run-1"))
}

func TestRunPhasesUpsertFailureDoesNotFailOutcome(t *testing.T) {
	dir := producer.Directory{}
	dir.Register(okProducer("visa"))

	store := newMemStore()
	store.failUpserts["visa"] = 1
	sched := testScheduler(t, dir, store, nil, 1)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "visa", "destination_country"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 1)
	tr.Start()

	report := sched.RunPhases(context.Background(), run, phases, tr)

	// The outcome is still a success; the persistence failure became a
	// run error plus a retry entry.
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, models.OutcomeSuccess, report.Outcomes[0].Status)
	require.Len(t, report.PendingUpserts, 1)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "persist outcome")

	// The ledger still counts visa as completed.
	p := tr.Progress()
	assert.Equal(t, []string{"visa"}, p.Completed)
}

func TestRunPhasesBoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	inflight, maxInflight := 0, 0

	dir := producer.Directory{}
	for _, name := range []string{"a", "b", "c", "d"} {
		dir.Register(producer.Func{
			ProducerName: name,
			Fn: func(ctx context.Context, input map[string]any) (*producer.Result, error) {
				mu.Lock()
				inflight++
				if inflight > maxInflight {
					maxInflight = inflight
				}
				mu.Unlock()
				time.Sleep(30 * time.Millisecond)
				mu.Lock()
				inflight--
				mu.Unlock()
				return &producer.Result{Payload: map[string]any{}}, nil
			},
		})
	}

	store := newMemStore()
	sched := testScheduler(t, dir, store, nil, 2)

	phases := []models.Phase{
		{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{
			specIn(0, "a", "destination_country"),
			specIn(0, "b", "destination_country"),
			specIn(0, "c", "destination_country"),
			specIn(0, "d", "destination_country"),
		}},
	}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 4)
	tr.Start()

	report := sched.RunPhases(context.Background(), run, phases, tr)

	require.Len(t, report.Outcomes, 4)
	assert.LessOrEqual(t, maxInflight, 2, "concurrency bound must hold")
	assert.GreaterOrEqual(t, maxInflight, 2, "fan-out should actually happen")
	assert.Equal(t, 4, store.sectionCount("run-1"))
}

func TestRunPhasesBuilderErrorBecomesFailureOutcome(t *testing.T) {
	dir := producer.Directory{}
	dir.Register(okProducer("visa"))

	store := newMemStore()
	sched := testScheduler(t, dir, store, nil, 1)

	broken := models.ProducerSpec{
		Name:       "visa",
		PhaseIndex: 0,
		Build: func(models.SubjectContext) (map[string]any, error) {
			return nil, errors.New("bad date format")
		},
		Timeout: time.Second,
	}
	phases := []models.Phase{{Index: 0, Name: "Phase 1", Producers: []models.ProducerSpec{broken}}}

	run := &models.Run{ID: "run-1", Subject: models.SubjectContext{"destination_country": "Japan"}}
	tr := tracker.New("run-1", 1)
	tr.Start()

	report := sched.RunPhases(context.Background(), run, phases, tr)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, models.OutcomeFailure, report.Outcomes[0].Status)
	assert.Contains(t, report.Outcomes[0].ErrorMessage, "build input")
}
