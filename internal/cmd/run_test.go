package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/tripsmith/internal/filelock"
	"github.com/harrison/tripsmith/internal/store"
)

// writeTestConfig writes a config file that keeps all run state inside
// the given temp directory.
func writeTestConfig(t *testing.T, dir, generatorURL string) string {
	t.Helper()
	content := fmt.Sprintf(`rate_limit_interval: 1ms
phase_concurrency: 2
db_path: %s
log_dir: %s
lock_path: %s
generator_url: %s
registry_path: %s
`,
		filepath.Join(dir, "tripsmith.db"),
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "run.lock"),
		generatorURL,
		filepath.Join(dir, "registry.yaml"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// fakeGenerator serves the result envelope for every producer endpoint,
// failing the names listed in failures.
func fakeGenerator(failures map[string]bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate/", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		if failures[name] {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		confidence := 0.9
		json.NewEncoder(w).Encode(map[string]any{
			"payload":    map[string]any{"summary": "generated " + name},
			"confidence": confidence,
		})
	})
	return httptest.NewServer(mux)
}

func TestRunCommandRequiresDestination(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, "http://localhost:0")

	cmd := NewRunCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--destination")
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	server := fakeGenerator(map[string]bool{"country": true})
	defer server.Close()
	configPath := writeTestConfig(t, dir, server.URL)

	var buf bytes.Buffer
	cmd := NewRunCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{
		"--config", configPath,
		"--destination", "Japan",
		"--from", "2026-04-01",
		"--to", "2026-04-10",
	})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "completed")
	// country failed upstream; flight was skipped without an origin city.
	assert.Contains(t, out, "2 missing or failed")
	assert.Contains(t, out, "Producer country failed")

	// The latest-run pointer names a run whose sections are persisted.
	runID, err := filelock.ReadLatestRun(dir)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	st, err := store.New(filepath.Join(dir, "tripsmith.db"))
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)

	// 8 sections: 7 successes plus the country failure record.
	n, err := st.CountOutcomes(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestRunCommandPreconditionFailure(t *testing.T) {
	dir := t.TempDir()
	server := fakeGenerator(nil)
	defer server.Close()
	configPath := writeTestConfig(t, dir, server.URL)

	cmd := NewRunCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", configPath,
		"--destination", "Japan",
		// No travel dates: structural fields are missing.
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required subject fields")
}

func TestRunCommandRejectsBadInterval(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, "http://localhost:0")

	cmd := NewRunCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", configPath,
		"--destination", "Japan",
		"--interval", "soon",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid interval")
}

func TestRunCommandLockExcludesSecondRun(t *testing.T) {
	dir := t.TempDir()
	server := fakeGenerator(nil)
	defer server.Close()
	configPath := writeTestConfig(t, dir, server.URL)

	lock := filelock.NewRunLock(filepath.Join(dir, "run.lock"))
	acquired, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer lock.Unlock()

	cmd := NewRunCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", configPath,
		"--destination", "Japan",
		"--from", "2026-04-01",
		"--to", "2026-04-10",
	})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}
