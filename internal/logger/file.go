package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/tripsmith/internal/models"
)

// FileLogger logs run events to a timestamped file under the log
// directory and maintains a latest.log symlink pointing at the most
// recent run. It is thread-safe and supports level filtering.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger writing under logDir, creating the
// directory if needed. The run log file is named run-YYYYMMDD-HHMMSS.log.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	runFile := filepath.Join(logDir, "run-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	// Best-effort symlink; some filesystems don't support it.
	latest := filepath.Join(logDir, "latest.log")
	os.Remove(latest)
	os.Symlink(filepath.Base(runFile), latest)

	return &FileLogger{
		logDir:   logDir,
		runLog:   f,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}, nil
}

// Close closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

// Path returns the run log file path.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

// LogPhaseStart logs the start of a phase.
func (fl *FileLogger) LogPhaseStart(phase models.Phase) {
	fl.logf("INFO", "Starting %s with %d producer(s)", phase.Name, len(phase.Producers))
}

// LogPhaseComplete logs the completion of a phase.
func (fl *FileLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	fl.logf("INFO", "Completed %s in %s", phase.Name, duration.Round(time.Millisecond))
}

// LogProducerStart logs a producer about to be invoked.
func (fl *FileLogger) LogProducerStart(spec models.ProducerSpec) {
	fl.logf("DEBUG", "Invoking producer %s (timeout %s)", spec.Name, spec.Timeout)
}

// LogOutcome logs one settled producer outcome.
func (fl *FileLogger) LogOutcome(outcome models.TaskOutcome) {
	if outcome.Succeeded() {
		fl.logf("INFO", "Producer %s succeeded (confidence %d%%)",
			outcome.ProducerName, models.ScaleConfidence(outcome.Confidence))
		return
	}
	fl.logf("WARN", "Producer %s failed: %s", outcome.ProducerName, outcome.ErrorMessage)
}

// LogSummary logs the aggregate result of a run.
func (fl *FileLogger) LogSummary(result models.RunResult) {
	fl.logf("INFO", "Run %s finished: status=%s available=%d missing_or_failed=%d errors=%d duration=%s",
		result.RunID, result.Status, len(result.Available), len(result.MissingOrFailed),
		len(result.Errors), result.Duration.Round(time.Second))
}

func (fl *FileLogger) logf(level, format string, args ...any) {
	if logLevelToInt(normalizeLogLevel(level)) < logLevelToInt(fl.logLevel) {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(fl.runLog, "[%s] [%s] %s\n", timestamp, level, fmt.Sprintf(format, args...))
}
