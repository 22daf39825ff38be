package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shared-workers/internal/logger"
	"shared-workers/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestLoadFileYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
pool:
  compute_workers: 6
  map_workers: 2
  worker_location: ./worker.js
  bootstrap_timeout: 3s
reduce:
  chunk_count: 4
  default_from: 0
  default_to: 50
  fan_out_threshold: 1024
threads:
  workers: 8
  queue_factor: 16
recovery:
  enabled: true
  delay: 500ms
  max_retries: 5
log:
  level: debug
api:
  addr: ":9090"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pool.ComputeWorkers)
	assert.Equal(t, 2, cfg.Pool.MapWorkers)
	assert.Equal(t, "./worker.js", cfg.Pool.WorkerLocation)
	require.NotNil(t, cfg.Reduce.DefaultTo)
	assert.Equal(t, int64(50), *cfg.Reduce.DefaultTo)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.True(t, cfg.Recovery.Enabled)
	assert.Equal(t, 5, cfg.Recovery.MaxRetries)
}

func TestLoadFileJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "pool": {
    "compute_workers": 3,
    "combined": true
  },
  "threads": {
    "workers": 2
  }
}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pool.ComputeWorkers)
	assert.True(t, cfg.Pool.Combined)
	assert.Equal(t, 2, cfg.Threads.Workers)
	assert.Nil(t, cfg.Reduce.DefaultFrom)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "config.txt", "test")

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoadFileInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "pool: [unclosed")

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestToRuntimeConfig(t *testing.T) {
	cfg := &FileConfig{
		Pool: PoolConfig{
			ComputeWorkers:   6,
			MapWorkers:       2,
			Combined:         true,
			WorkerLocation:   "./worker.js",
			BootstrapTimeout: "3s",
		},
		Reduce: ReduceConfig{
			ChunkCount:      4,
			DefaultFrom:     int64Ptr(10),
			DefaultTo:       int64Ptr(60),
			FanOutThreshold: 1024,
		},
		Threads:  ThreadsConfig{Workers: 8, QueueFactor: 16},
		Recovery: RecoveryConfig{Enabled: true, Interval: "100ms", Delay: "1s", MaxRetries: 5},
		Log:      LogConfig{Level: "warn"},
		API:      APIConfig{Addr: ":9090"},
	}

	rc, err := cfg.ToRuntimeConfig()
	require.NoError(t, err)

	assert.Equal(t, 6, rc.ComputeWorkers)
	assert.Equal(t, 2, rc.MapWorkers)
	assert.Equal(t, 6, rc.Workers.Pool.ComputeWorkers)
	assert.True(t, rc.Workers.Pool.Combined)
	assert.Equal(t, 3*time.Second, rc.Workers.Pool.BootstrapTimeout)
	assert.Equal(t, int64(1024), rc.Workers.Pool.FanOutThreshold)
	assert.Equal(t, "./worker.js", rc.Workers.WorkerLocation)
	assert.Equal(t, 4, rc.Workers.Reduce.ChunkCount)
	assert.Equal(t, task.Range{From: 10, To: 60}, rc.Workers.Reduce.Default)
	assert.Equal(t, 8, rc.Workers.Threads.NumThreads)
	assert.Equal(t, 16, rc.Workers.Threads.QueueFactor)
	assert.Equal(t, logger.LevelWarn, rc.LogLevel)
	assert.Equal(t, ":9090", rc.APIAddr)
	assert.True(t, rc.AutoRestart)
	assert.Equal(t, 100*time.Millisecond, rc.Recovery.CheckInterval)
	assert.Equal(t, time.Second, rc.Recovery.RestartDelay)
	assert.Equal(t, 5, rc.Recovery.MaxRetries)
}

func TestToRuntimeConfigDefaults(t *testing.T) {
	rc, err := (&FileConfig{}).ToRuntimeConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, rc.ComputeWorkers)
	assert.Equal(t, 0, rc.MapWorkers)
	assert.Equal(t, "worker.js", rc.Workers.WorkerLocation)
	assert.Equal(t, task.Range{From: 0, To: 100000}, rc.Workers.Reduce.Default)
	assert.Equal(t, logger.LevelInfo, rc.LogLevel)
	assert.Equal(t, DefaultAPIAddr, rc.APIAddr)
	assert.False(t, rc.AutoRestart)
	assert.Equal(t, 3, rc.Recovery.MaxRetries)
}

func TestToRuntimeConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  FileConfig
	}{
		{"invalid timeout", FileConfig{Pool: PoolConfig{BootstrapTimeout: "soon"}}},
		{"invalid log level", FileConfig{Log: LogConfig{Level: "verbose"}}},
		{"invalid recovery delay", FileConfig{Recovery: RecoveryConfig{Delay: "later"}}},
		{"invalid recovery interval", FileConfig{Recovery: RecoveryConfig{Interval: "often"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.ToRuntimeConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FileConfig
		wantErr bool
	}{
		{"valid config", FileConfig{Pool: PoolConfig{ComputeWorkers: 4}}, false},
		{"empty config", FileConfig{}, false},
		{"negative compute workers", FileConfig{Pool: PoolConfig{ComputeWorkers: -1}}, true},
		{"negative map workers", FileConfig{Pool: PoolConfig{MapWorkers: -1}}, true},
		{"negative chunk count", FileConfig{Reduce: ReduceConfig{ChunkCount: -1}}, true},
		{"negative fan out threshold", FileConfig{Reduce: ReduceConfig{FanOutThreshold: -1}}, true},
		{"inverted default range", FileConfig{Reduce: ReduceConfig{DefaultFrom: int64Ptr(10), DefaultTo: int64Ptr(5)}}, true},
		{"too wide default range", FileConfig{Reduce: ReduceConfig{DefaultFrom: int64Ptr(math.MinInt64), DefaultTo: int64Ptr(math.MaxInt64)}}, true},
		{"negative threads", FileConfig{Threads: ThreadsConfig{Workers: -2}}, true},
		{"negative queue factor", FileConfig{Threads: ThreadsConfig{QueueFactor: -1}}, true},
		{"negative recovery retries", FileConfig{Recovery: RecoveryConfig{MaxRetries: -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
