// Package logger provides logging implementations for tripsmith runs.
//
// Loggers report progress at the phase, producer, and summary levels.
// Implementations are thread-safe and support level filtering; console
// output is colorized when attached to a terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/tripsmith/internal/models"
)

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with [HH:MM:SS] timestamps.
// A nil writer silently discards messages.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger writing to w. logLevel is one
// of trace, debug, info, warn, error (case-insensitive); empty or invalid
// levels default to "info". Color is enabled only for TTY stdout/stderr.
func NewConsoleLogger(w io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      w,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(w),
	}
}

// isTerminal reports whether w is a TTY that supports colors. NO_COLOR is
// honored through the color library's NoColor flag.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	return !color.NoColor && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	}
	return levelInfo
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogPhaseStart logs the start of a phase.
func (cl *ConsoleLogger) LogPhaseStart(phase models.Phase) {
	cl.logf("INFO", "Starting %s with %d producer(s)", phase.Name, len(phase.Producers))
}

// LogPhaseComplete logs the completion of a phase.
func (cl *ConsoleLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	cl.logf("INFO", "Completed %s in %s", phase.Name, duration.Round(time.Millisecond))
}

// LogProducerStart logs a producer about to be invoked.
func (cl *ConsoleLogger) LogProducerStart(spec models.ProducerSpec) {
	cl.logf("DEBUG", "Invoking producer %s (timeout %s)", spec.Name, spec.Timeout)
}

// LogOutcome logs one settled producer outcome. Failures log at WARN so
// they surface at the default level without aborting anything.
func (cl *ConsoleLogger) LogOutcome(outcome models.TaskOutcome) {
	if outcome.Succeeded() {
		cl.logf("INFO", "Producer %s succeeded (confidence %d%%)",
			cl.paint(outcome.ProducerName, color.FgGreen), models.ScaleConfidence(outcome.Confidence))
		return
	}
	cl.logf("WARN", "Producer %s failed: %s",
		cl.paint(outcome.ProducerName, color.FgRed), outcome.ErrorMessage)
}

// LogSummary logs the aggregate result of a run.
func (cl *ConsoleLogger) LogSummary(result models.RunResult) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	if cl.writer == nil {
		return
	}

	fmt.Fprintf(cl.writer, "\nRun Summary (%s):\n", result.RunID)
	fmt.Fprintf(cl.writer, "  Status: %s\n", result.Status)
	fmt.Fprintf(cl.writer, "  Available: %d producer(s)\n", len(result.Available))
	fmt.Fprintf(cl.writer, "  Missing or failed: %d producer(s)\n", len(result.MissingOrFailed))
	fmt.Fprintf(cl.writer, "  Duration: %s\n", result.Duration.Round(time.Second))

	if len(result.MissingOrFailed) > 0 {
		fmt.Fprintf(cl.writer, "\nMissing or failed:\n")
		for _, name := range result.MissingOrFailed {
			fmt.Fprintf(cl.writer, "  - %s\n", name)
		}
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(cl.writer, "\nErrors:\n")
		for _, e := range result.Errors {
			if e.ProducerName != "" {
				fmt.Fprintf(cl.writer, "  - [%s] %s\n", e.ProducerName, e.Message)
			} else {
				fmt.Fprintf(cl.writer, "  - %s\n", e.Message)
			}
		}
	}
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) { cl.logf("TRACE", "%s", message) }

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) { cl.logf("DEBUG", "%s", message) }

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) { cl.logf("INFO", "%s", message) }

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) { cl.logf("WARN", "%s", message) }

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) { cl.logf("ERROR", "%s", message) }

func (cl *ConsoleLogger) paint(s string, attr color.Attribute) string {
	if !cl.colorOutput {
		return s
	}
	return color.New(attr).Sprint(s)
}

func (cl *ConsoleLogger) logf(level, format string, args ...any) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp, level, fmt.Sprintf(format, args...))
}
