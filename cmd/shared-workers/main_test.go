package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shared-workers/internal/logger"
	"shared-workers/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestBuildRuntimeConfigDefaults(t *testing.T) {
	rc, err := buildRuntimeConfig(&options{}, changedSet())
	require.NoError(t, err)

	assert.Equal(t, 4, rc.ComputeWorkers)
	assert.Equal(t, 0, rc.MapWorkers)
	assert.Equal(t, "worker.js", rc.Workers.WorkerLocation)
	assert.Equal(t, logger.LevelInfo, rc.LogLevel)
}

func TestBuildRuntimeConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  compute_workers: 6
  map_workers: 2
  bootstrap_timeout: 3s
log:
  level: warn
`), 0644))

	opts := &options{
		configFile:       path,
		computeWorkers:   2,
		mapWorkers:       5,
		bootstrapTimeout: time.Second,
		logLevel:         "debug",
	}

	// compute と log-level だけが明示的に指定された
	rc, err := buildRuntimeConfig(opts, changedSet("compute", "log-level"))
	require.NoError(t, err)

	assert.Equal(t, 2, rc.ComputeWorkers)
	assert.Equal(t, 2, rc.MapWorkers)
	assert.Equal(t, 2, rc.Workers.Pool.ComputeWorkers)
	assert.Equal(t, 3*time.Second, rc.Workers.Pool.BootstrapTimeout)
	assert.Equal(t, logger.LevelDebug, rc.LogLevel)
}

func TestBuildRuntimeConfigErrors(t *testing.T) {
	_, err := buildRuntimeConfig(&options{configFile: "/nonexistent.yaml"}, changedSet())
	assert.Error(t, err)

	_, err = buildRuntimeConfig(&options{computeWorkers: -1}, changedSet("compute"))
	assert.Error(t, err)

	_, err = buildRuntimeConfig(&options{logLevel: "loud"}, changedSet("log-level"))
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSumCommand(t *testing.T) {
	out, err := execute(t, "sum", "--from", "0", "--to", "50", "--compute", "4", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "sum[0,50) = 1225")
}

func TestSumCommandInvalidRange(t *testing.T) {
	_, err := execute(t, "sum", "--from", "10", "--to", "5")
	assert.Error(t, err)

	_, err = execute(t, "sum", "--from=-9223372036854775807", "--to=9223372036854775807")
	assert.ErrorIs(t, err, task.ErrRangeTooLarge)
}

func TestDemoCommand(t *testing.T) {
	out, err := execute(t, "demo", "--compute", "2", "--map", "1", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "sum[0,100000) = 4999950000")
	assert.Contains(t, out, "channel: First, Second")
	assert.Contains(t, out, `map[greeting] = "hello from a worker" (found=true)`)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "shared-workers version dev")
}
