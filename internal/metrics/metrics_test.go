package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := New()

	if m.TotalTasks() != 0 {
		t.Errorf("expected 0 total tasks, got %d", m.TotalTasks())
	}
	if m.CompletedTasks() != 0 {
		t.Errorf("expected 0 completed tasks, got %d", m.CompletedTasks())
	}
	if m.P99Latency() != 0 {
		t.Errorf("expected 0 p99, got %v", m.P99Latency())
	}
}

func TestMetricsRecordTask(t *testing.T) {
	m := New()

	m.RecordTask("compute_chunk", 10*time.Millisecond, nil)
	m.RecordTask("compute_chunk", 20*time.Millisecond, nil)
	m.RecordTask("map_get", 30*time.Millisecond, errors.New("boom"))

	if m.TotalTasks() != 3 {
		t.Errorf("expected 3 total tasks, got %d", m.TotalTasks())
	}
	if m.CompletedTasks() != 2 {
		t.Errorf("expected 2 completed tasks, got %d", m.CompletedTasks())
	}
	if m.FailedTasks() != 1 {
		t.Errorf("expected 1 failed task, got %d", m.FailedTasks())
	}

	kinds := m.KindCounts()
	if kinds["compute_chunk"] != 2 || kinds["map_get"] != 1 {
		t.Errorf("unexpected kind counts: %v", kinds)
	}
}

func TestMetricsAverageLatency(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average 20ms, got %v", avg)
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := New()

	m.RecordTask("x", time.Millisecond, nil)
	m.RecordTask("x", time.Millisecond, errors.New("a"))
	m.RecordTask("x", time.Millisecond, nil)
	m.RecordTask("x", time.Millisecond, errors.New("b"))

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestMetricsP99Latency(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	if p99 := m.P99Latency(); p99 < 99*time.Millisecond {
		t.Errorf("expected p99 >= 99ms, got %v", p99)
	}
}

func TestMetricsSampleLimit(t *testing.T) {
	m := NewWithConfig(Config{MaxLatencySamples: 2})

	m.RecordSuccess(time.Millisecond)
	m.RecordSuccess(2 * time.Millisecond)
	m.RecordSuccess(time.Hour)

	if p99 := m.P99Latency(); p99 != 2*time.Millisecond {
		t.Errorf("expected samples beyond the limit to be ignored, got %v", p99)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.Reset()

	if m.P99Latency() != 0 {
		t.Errorf("expected p99 to be reset, got %v", m.P99Latency())
	}
	// 累積カウンタはリセットされない
	if m.TotalTasks() != 1 {
		t.Errorf("expected total tasks to survive reset, got %d", m.TotalTasks())
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.RecordTask("compute_chunk", time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()

	if m.TotalTasks() != 1000 {
		t.Errorf("expected 1000 total tasks, got %d", m.TotalTasks())
	}
	if m.KindCounts()["compute_chunk"] != 1000 {
		t.Errorf("expected 1000 compute_chunk tasks, got %d", m.KindCounts()["compute_chunk"])
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := New()

	m.RecordTask("map_put", 10*time.Millisecond, nil)
	m.RecordTask("map_put", 20*time.Millisecond, errors.New("x"))

	snap := m.Snapshot()
	if snap.TotalTasks != 2 {
		t.Errorf("expected 2 total tasks, got %d", snap.TotalTasks)
	}
	if snap.FailedTasks != 1 {
		t.Errorf("expected 1 failed task, got %d", snap.FailedTasks)
	}
	if snap.ByKind["map_put"] != 2 {
		t.Errorf("expected 2 map_put tasks, got %d", snap.ByKind["map_put"])
	}
	if snap.Elapsed <= 0 {
		t.Error("expected positive elapsed time")
	}
}
