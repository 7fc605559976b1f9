// Package store persists runs, per-producer section records, and run
// errors in SQLite. Section writes are idempotent upserts keyed by
// (run_id, producer_name): a rerun replaces the prior record, it never
// duplicates it.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/tripsmith/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// sectionTitles maps producer names to the display title persisted with
// each section record. Unknown producers fall back to their own name.
var sectionTitles = map[string]string{
	"visa":        "Visa Requirements",
	"country":     "Country Essentials",
	"weather":     "Weather Outlook",
	"currency":    "Currency & Money",
	"culture":     "Culture & Etiquette",
	"food":        "Food & Dining",
	"attractions": "Attractions",
	"itinerary":   "Suggested Itinerary",
	"flight":      "Flight Options",
}

// TitleFor returns the display title for a producer's section.
func TitleFor(producer string) string {
	if t, ok := sectionTitles[producer]; ok {
		return t
	}
	return producer
}

// Store manages the SQLite database holding run state and results.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the database at dbPath and initializes the
// schema. Parent directories are created for file-backed databases.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks instead
	// of failing during concurrent initialization.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with exponential backoff on
// "database is locked" errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun inserts or updates the run record. The row is keyed by run_id;
// status, completed phases, and the terminal timestamp move forward with
// the run.
func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	subjectJSON, err := json.Marshal(run.Subject)
	if err != nil {
		return fmt.Errorf("marshal subject: %w", err)
	}
	phasesJSON, err := json.Marshal(run.PhasesCompleted)
	if err != nil {
		return fmt.Errorf("marshal phases: %w", err)
	}

	query := `INSERT INTO runs (run_id, subject, status, phases_completed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			phases_completed = excluded.phases_completed,
			completed_at = excluded.completed_at`

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, query,
		run.ID, string(subjectJSON), run.Status, string(phasesJSON),
		run.StartedAt.UTC(), completedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	query := `SELECT run_id, subject, status, phases_completed, started_at, completed_at
		FROM runs WHERE run_id = ?`

	var run models.Run
	var subjectJSON, phasesJSON string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &subjectJSON, &run.Status, &phasesJSON, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	if err := json.Unmarshal([]byte(subjectJSON), &run.Subject); err != nil {
		return nil, fmt.Errorf("unmarshal subject: %w", err)
	}
	if err := json.Unmarshal([]byte(phasesJSON), &run.PhasesCompleted); err != nil {
		return nil, fmt.Errorf("unmarshal phases: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

// Upsert writes one outcome as a section record. Calling it twice for the
// same (run_id, producer_name) replaces the prior row. The confidence
// float is scaled to its 0-100 integer form at this boundary.
func (s *Store) Upsert(ctx context.Context, outcome models.TaskOutcome) error {
	contentJSON := "{}"
	if outcome.Payload != nil {
		data, err := json.Marshal(outcome.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", outcome.ProducerName, err)
		}
		contentJSON = string(data)
	}

	sourcesJSON := "[]"
	if len(outcome.Sources) > 0 {
		data, err := json.Marshal(outcome.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources for %s: %w", outcome.ProducerName, err)
		}
		sourcesJSON = string(data)
	}

	query := `INSERT INTO trip_sections
		(run_id, producer_name, title, status, content, confidence_score, error_message, sources, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, producer_name) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			content = excluded.content,
			confidence_score = excluded.confidence_score,
			error_message = excluded.error_message,
			sources = excluded.sources,
			generated_at = excluded.generated_at`

	_, err := s.db.ExecContext(ctx, query,
		outcome.RunID, outcome.ProducerName, TitleFor(outcome.ProducerName),
		outcome.Status, contentJSON, models.ScaleConfidence(outcome.Confidence),
		outcome.ErrorMessage, sourcesJSON, outcome.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert section %s/%s: %w", outcome.RunID, outcome.ProducerName, err)
	}
	return nil
}

// GetOutcomes loads every section record for a run, in producer name
// order, converted back to TaskOutcomes.
func (s *Store) GetOutcomes(ctx context.Context, runID string) ([]models.TaskOutcome, error) {
	query := `SELECT run_id, producer_name, status, content, confidence_score, error_message, sources, generated_at
		FROM trip_sections WHERE run_id = ? ORDER BY producer_name`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query sections for %s: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []models.TaskOutcome
	for rows.Next() {
		var o models.TaskOutcome
		var contentJSON, sourcesJSON string
		var score int
		if err := rows.Scan(&o.RunID, &o.ProducerName, &o.Status, &contentJSON,
			&score, &o.ErrorMessage, &sourcesJSON, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		o.Confidence = models.UnscaleConfidence(score)
		if contentJSON != "{}" || o.Status == models.OutcomeSuccess {
			if err := json.Unmarshal([]byte(contentJSON), &o.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for %s: %w", o.ProducerName, err)
			}
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &o.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources for %s: %w", o.ProducerName, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// CountOutcomes returns the number of section rows for a run.
func (s *Store) CountOutcomes(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trip_sections WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sections for %s: %w", runID, err)
	}
	return n, nil
}

// AppendError records one non-fatal run error.
func (s *Store) AppendError(ctx context.Context, runID string, runErr models.RunError) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_errors (run_id, producer_name, message, occurred_at) VALUES (?, ?, ?, ?)`,
		runID, runErr.ProducerName, runErr.Message, runErr.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("append run error for %s: %w", runID, err)
	}
	return nil
}

// GetErrors loads a run's error ledger in append order.
func (s *Store) GetErrors(ctx context.Context, runID string) ([]models.RunError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT producer_name, message, occurred_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run errors for %s: %w", runID, err)
	}
	defer rows.Close()

	var errs []models.RunError
	for rows.Next() {
		var e models.RunError
		if err := rows.Scan(&e.ProducerName, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan run error: %w", err)
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
