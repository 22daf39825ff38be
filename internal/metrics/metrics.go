package metrics

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxLatencySamples = 1000

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int
}

// Metrics はタスク実行のメトリクスを収集する
type Metrics struct {
	totalTasks     atomic.Uint64
	completedTasks atomic.Uint64
	failedTasks    atomic.Uint64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowTasks       uint64
	latencies         []time.Duration
	maxLatencySamples int
	byKind            map[string]uint64
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = defaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
		byKind:            make(map[string]uint64),
	}
}

// RecordTask はタスクの完了を種別ごとに記録する。err が nil でなければ失敗として数える
func (m *Metrics) RecordTask(kind string, latency time.Duration, err error) {
	m.totalTasks.Add(1)
	if err != nil {
		m.failedTasks.Add(1)
	} else {
		m.completedTasks.Add(1)
	}
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowTasks++
	m.byKind[kind]++
	if err == nil && len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// RecordSuccess は種別なしで成功を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.RecordTask("", latency, nil)
}

// TotalTasks は記録したタスク数を返す
func (m *Metrics) TotalTasks() uint64 {
	return m.totalTasks.Load()
}

// CompletedTasks は成功したタスク数を返す
func (m *Metrics) CompletedTasks() uint64 {
	return m.completedTasks.Load()
}

// FailedTasks は失敗したタスク数を返す
func (m *Metrics) FailedTasks() uint64 {
	return m.failedTasks.Load()
}

// KindCounts は種別ごとのタスク数のコピーを返す
func (m *Metrics) KindCounts() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.byKind)
}

// TPS は現在のウィンドウでの Tasks Per Second を返す
func (m *Metrics) TPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowTasks) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalTasks.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（成功タスクのサンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	sorted := slices.Clone(m.latencies)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalTasks.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedTasks.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowTasks = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalTasks     uint64            `json:"total_tasks"`
	CompletedTasks uint64            `json:"completed_tasks"`
	FailedTasks    uint64            `json:"failed_tasks"`
	ByKind         map[string]uint64 `json:"by_kind"`
	TPS            float64           `json:"tps"`
	AverageLatency time.Duration     `json:"average_latency_ns"`
	P99Latency     time.Duration     `json:"p99_latency_ns"`
	ErrorRate      float64           `json:"error_rate"`
	Elapsed        time.Duration     `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalTasks:     m.TotalTasks(),
		CompletedTasks: m.CompletedTasks(),
		FailedTasks:    m.FailedTasks(),
		ByKind:         m.KindCounts(),
		TPS:            m.TPS(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		ErrorRate:      m.ErrorRate(),
		Elapsed:        time.Since(m.startTime),
	}
}
