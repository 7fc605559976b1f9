// Package filelock guards the orchestrator's shared on-disk state: a
// flock-based run lock so only one tripsmith process mutates a given
// store, and atomic pointer-file writes for the latest-run marker.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// RunLock is an advisory cross-process lock. Holding it means this
// process is the one driving runs against the store it guards.
type RunLock struct {
	flock *flock.Flock
	path  string
}

// NewRunLock creates a run lock at the given path. Parent directories
// are created on first acquisition.
func NewRunLock(path string) *RunLock {
	return &RunLock{
		flock: flock.New(path),
		path:  path,
	}
}

// TryLock attempts to acquire the lock without blocking. Returns false
// when another process holds it.
func (rl *RunLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(rl.path), 0755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := rl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock on %s: %w", rl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (rl *RunLock) Unlock() error {
	if err := rl.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", rl.path, err)
	}
	return nil
}

// AtomicWrite writes data to path via a temp file and rename, so readers
// never observe a partial write.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Temp file in the same directory keeps the rename on one
	// filesystem, which is what makes it atomic.
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	tempFile = nil
	return nil
}

// WriteLatestRun records the most recently started run ID next to the
// lock and config, for `tripsmith status` without an argument.
func WriteLatestRun(dir, runID string) error {
	return AtomicWrite(filepath.Join(dir, "latest-run"), []byte(runID+"\n"))
}

// ReadLatestRun returns the most recently recorded run ID, or empty when
// none has been recorded yet.
func ReadLatestRun(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "latest-run"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read latest-run: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
