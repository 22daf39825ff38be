package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shared-workers/internal/logger"
	"shared-workers/internal/recovery"
	"shared-workers/internal/task"
	"shared-workers/internal/workers"

	"gopkg.in/yaml.v3"
)

// DefaultAPIAddr は API サーバーのデフォルトアドレス
const DefaultAPIAddr = ":8080"

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Reduce   ReduceConfig   `yaml:"reduce" json:"reduce"`
	Threads  ThreadsConfig  `yaml:"threads" json:"threads"`
	Recovery RecoveryConfig `yaml:"recovery" json:"recovery"`
	Log      LogConfig      `yaml:"log" json:"log"`
	API      APIConfig      `yaml:"api" json:"api"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	ComputeWorkers   int    `yaml:"compute_workers" json:"compute_workers"`
	MapWorkers       int    `yaml:"map_workers" json:"map_workers"`
	Combined         bool   `yaml:"combined" json:"combined"`
	WorkerLocation   string `yaml:"worker_location" json:"worker_location"`
	BootstrapTimeout string `yaml:"bootstrap_timeout" json:"bootstrap_timeout"`
}

// ReduceConfig は総和スケジューラ設定
type ReduceConfig struct {
	ChunkCount      int    `yaml:"chunk_count" json:"chunk_count"`
	DefaultFrom     *int64 `yaml:"default_from" json:"default_from"`
	DefaultTo       *int64 `yaml:"default_to" json:"default_to"`
	FanOutThreshold int64  `yaml:"fan_out_threshold" json:"fan_out_threshold"`
}

// ThreadsConfig はワーカー内スレッドプール設定
type ThreadsConfig struct {
	Workers     int `yaml:"workers" json:"workers"`
	QueueFactor int `yaml:"queue_factor" json:"queue_factor"`
}

// RecoveryConfig はワーカー自動再起動の設定
type RecoveryConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Interval   string `yaml:"interval" json:"interval"`
	Delay      string `yaml:"delay" json:"delay"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// APIConfig は API サーバー設定
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Runtime は設定ファイルから組み立てた実行時設定
type Runtime struct {
	Workers        workers.Config
	ComputeWorkers int
	MapWorkers     int
	Recovery       recovery.Config
	AutoRestart    bool
	LogLevel       logger.Level
	APIAddr        string
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToRuntimeConfig は FileConfig を実行時設定に変換する。未指定の項目はデフォルト値を使う
func (f *FileConfig) ToRuntimeConfig() (Runtime, error) {
	wc := workers.DefaultConfig()
	rc := Runtime{
		Workers:        wc,
		ComputeWorkers: wc.Pool.ComputeWorkers,
		MapWorkers:     wc.Pool.MapWorkers,
		Recovery:       recovery.DefaultConfig(),
		LogLevel:       logger.LevelInfo,
		APIAddr:        DefaultAPIAddr,
	}

	// Pool設定
	p := f.Pool
	if p.ComputeWorkers > 0 {
		rc.ComputeWorkers = p.ComputeWorkers
	}
	if p.MapWorkers > 0 {
		rc.MapWorkers = p.MapWorkers
	}
	rc.Workers.Pool.Combined = p.Combined
	if p.WorkerLocation != "" {
		rc.Workers.WorkerLocation = p.WorkerLocation
	}
	if p.BootstrapTimeout != "" {
		d, err := time.ParseDuration(p.BootstrapTimeout)
		if err != nil {
			return rc, fmt.Errorf("invalid bootstrap_timeout: %w", err)
		}
		rc.Workers.Pool.BootstrapTimeout = d
	}
	rc.Workers.Pool.ComputeWorkers = rc.ComputeWorkers
	rc.Workers.Pool.MapWorkers = rc.MapWorkers

	// Reduce設定
	r := f.Reduce
	if r.ChunkCount > 0 {
		rc.Workers.Reduce.ChunkCount = r.ChunkCount
	}
	if r.DefaultFrom != nil {
		rc.Workers.Reduce.Default.From = *r.DefaultFrom
	}
	if r.DefaultTo != nil {
		rc.Workers.Reduce.Default.To = *r.DefaultTo
	}
	if r.FanOutThreshold > 0 {
		rc.Workers.Pool.FanOutThreshold = r.FanOutThreshold
	}

	// Threads設定
	if f.Threads.Workers > 0 {
		rc.Workers.Threads.NumThreads = f.Threads.Workers
	}
	if f.Threads.QueueFactor > 0 {
		rc.Workers.Threads.QueueFactor = f.Threads.QueueFactor
	}

	// Recovery設定
	rc.AutoRestart = f.Recovery.Enabled
	if f.Recovery.Interval != "" {
		d, err := time.ParseDuration(f.Recovery.Interval)
		if err != nil {
			return rc, fmt.Errorf("invalid recovery interval: %w", err)
		}
		rc.Recovery.CheckInterval = d
	}
	if f.Recovery.Delay != "" {
		d, err := time.ParseDuration(f.Recovery.Delay)
		if err != nil {
			return rc, fmt.Errorf("invalid recovery delay: %w", err)
		}
		rc.Recovery.RestartDelay = d
	}
	if f.Recovery.MaxRetries > 0 {
		rc.Recovery.MaxRetries = f.Recovery.MaxRetries
	}

	if f.Log.Level != "" {
		level, err := logger.ParseLevel(f.Log.Level)
		if err != nil {
			return rc, err
		}
		rc.LogLevel = level
	}
	if f.API.Addr != "" {
		rc.APIAddr = f.API.Addr
	}

	return rc, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.ComputeWorkers < 0 {
		return fmt.Errorf("pool.compute_workers must be non-negative")
	}
	if f.Pool.MapWorkers < 0 {
		return fmt.Errorf("pool.map_workers must be non-negative")
	}
	if f.Reduce.ChunkCount < 0 {
		return fmt.Errorf("reduce.chunk_count must be non-negative")
	}
	if f.Reduce.FanOutThreshold < 0 {
		return fmt.Errorf("reduce.fan_out_threshold must be non-negative")
	}
	if f.Reduce.DefaultFrom != nil && f.Reduce.DefaultTo != nil {
		r := task.Range{From: *f.Reduce.DefaultFrom, To: *f.Reduce.DefaultTo}
		if r.From > r.To {
			return fmt.Errorf("reduce default range %s is inverted", r)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reduce default range: %w", err)
		}
	}
	if f.Threads.Workers < 0 {
		return fmt.Errorf("threads.workers must be non-negative")
	}
	if f.Threads.QueueFactor < 0 {
		return fmt.Errorf("threads.queue_factor must be non-negative")
	}
	if f.Recovery.MaxRetries < 0 {
		return fmt.Errorf("recovery.max_retries must be non-negative")
	}
	return nil
}
