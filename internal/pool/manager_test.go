package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shared-workers/internal/events"
	"shared-workers/internal/future"
	"shared-workers/internal/metrics"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegion() *shm.Region {
	return shm.NewRegion(shm.ImageFromBytes("worker.js", []byte("worker")))
}

func testConfig(compute, mapWorkers int) Config {
	cfg := DefaultConfig()
	cfg.ComputeWorkers = compute
	cfg.MapWorkers = mapWorkers
	cfg.BootstrapTimeout = 2 * time.Second
	return cfg
}

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "timeout waiting for future")
	return v, err
}

func TestStartAndSum(t *testing.T) {
	region := newRegion()
	m := New(testConfig(4, 0), region, nil)
	defer m.Shutdown()

	ready, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ready)
	assert.Equal(t, 4, m.Size())
	assert.Equal(t, 4, region.Attached())

	res, err := await(t, m.Submit(task.ComputeChunk(task.Range{From: 0, To: 50})))
	require.NoError(t, err)
	assert.Equal(t, int64(1225), res.Sum)
}

func TestSubmitBeforeReady(t *testing.T) {
	release := make(chan struct{})
	m := New(testConfig(2, 0), newRegion(), nil, WithInstantiateHook(func(WorkerID) error {
		<-release
		return nil
	}))
	defer m.Shutdown()

	require.NoError(t, m.Launch())

	ranges := []task.Range{{From: 0, To: 10}, {From: 10, To: 20}, {From: 20, To: 50}}
	futs := make([]*future.Future[task.Result], 0, len(ranges))
	for _, r := range ranges {
		futs = append(futs, m.Submit(task.ComputeChunk(r)))
	}
	assert.Equal(t, 3, m.PendingCount())

	close(release)
	ready, err := m.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ready)

	var total int64
	for i, f := range futs {
		res, err := await(t, f)
		require.NoError(t, err, "task %d", i)
		total += res.Sum
	}
	assert.Equal(t, int64(1225), total)
	assert.Equal(t, 0, m.PendingCount())
}

func TestBootstrapFailure(t *testing.T) {
	m := New(testConfig(3, 0), newRegion(), nil, WithInstantiateHook(func(id WorkerID) error {
		if id == 1 {
			return errors.New("module rejected")
		}
		return nil
	}))
	defer m.Shutdown()

	ready, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrBootstrapFailed)
	assert.Contains(t, err.Error(), "module rejected")
	assert.Equal(t, 2, ready)

	infos := m.Workers()
	require.Len(t, infos, 3)
	assert.Equal(t, StateTerminated, infos[1].State)
	assert.Equal(t, StateReady, infos[0].State)
}

func TestBootstrapTimeout(t *testing.T) {
	release := make(chan struct{})
	cfg := testConfig(1, 0)
	cfg.BootstrapTimeout = 50 * time.Millisecond
	m := New(cfg, newRegion(), nil, WithInstantiateHook(func(WorkerID) error {
		<-release
		return nil
	}))

	ready, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrBootstrapFailed)
	assert.Equal(t, 0, ready)
	assert.Equal(t, StateTerminated, m.Workers()[0].State)

	// 遅れて届いた Ready は無視される
	close(release)
	m.Shutdown()
	assert.Equal(t, StateTerminated, m.Workers()[0].State)
}

// exitSpawner はワーカーのゴルーチンが終了したことを通知する
type exitSpawner struct {
	exited chan WorkerID
}

func (s exitSpawner) Spawn(id WorkerID, entry func()) error {
	go func() {
		entry()
		s.exited <- id
	}()
	return nil
}

func waitExit(t *testing.T, s exitSpawner) {
	t.Helper()
	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for worker goroutine to exit")
	}
}

func TestRestartWhileTimedOutBootstrapIsRunning(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cfg := testConfig(1, 0)
	cfg.BootstrapTimeout = 50 * time.Millisecond
	region := newRegion()
	sp := exitSpawner{exited: make(chan WorkerID, 4)}
	m := New(cfg, region, sp, WithInstantiateHook(func(WorkerID) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	}))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrBootstrapFailed)

	require.NoError(t, m.Restart(context.Background(), 0))
	assert.Equal(t, 1, region.Attached())

	// 期限切れの世代は再起動後のワーカーを押しのけない
	close(release)
	waitExit(t, sp)

	assert.Equal(t, StateReady, m.Workers()[0].State)
	assert.Equal(t, 1, region.Attached())
	_, err = await(t, m.Submit(task.MapPut("k", []byte("v"))))
	require.NoError(t, err)
}

func TestTimedOutBootstrapDoesNotAttach(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cfg := testConfig(1, 0)
	cfg.BootstrapTimeout = 50 * time.Millisecond
	region := newRegion()
	sp := exitSpawner{exited: make(chan WorkerID, 4)}
	m := New(cfg, region, sp, WithInstantiateHook(func(WorkerID) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	}))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrBootstrapFailed)

	// 期限切れ後に初期化を終えた世代は接続しない
	close(release)
	waitExit(t, sp)
	assert.Equal(t, 0, region.Attached())
	assert.Equal(t, StateTerminated, m.Workers()[0].State)

	require.NoError(t, m.Restart(context.Background(), 0))
	assert.Equal(t, 1, region.Attached())
	assert.Equal(t, StateReady, m.Workers()[0].State)
}

type failingSpawner struct{}

func (failingSpawner) Spawn(id WorkerID, entry func()) error {
	if id == 0 {
		return errors.New("no threads left")
	}
	go entry()
	return nil
}

func TestSpawnFailure(t *testing.T) {
	m := New(testConfig(2, 0), newRegion(), failingSpawner{})
	defer m.Shutdown()

	ready, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrBootstrapFailed)
	assert.Equal(t, 1, ready)
}

func TestLaunchValidation(t *testing.T) {
	m := New(testConfig(0, 0), newRegion(), nil)
	assert.ErrorIs(t, m.Launch(), ErrBootstrapFailed)

	m = New(testConfig(1, 0), newRegion(), nil)
	defer m.Shutdown()
	require.NoError(t, m.Launch())
	assert.Error(t, m.Launch())

	_, err := New(testConfig(1, 0), newRegion(), nil).WaitReady(context.Background())
	assert.Error(t, err)
}

func TestRolesAndRoundRobin(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[task.Kind][]WorkerID)
	m := New(testConfig(2, 1), newRegion(), nil, WithInterceptor(func(id WorkerID, d *task.Descriptor) error {
		mu.Lock()
		ran[d.Kind] = append(ran[d.Kind], id)
		mu.Unlock()
		return nil
	}))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, m.RoleCount(RoleCompute))
	assert.Equal(t, 1, m.RoleCount(RoleMap))
	assert.Equal(t, 2, m.ComputeCapacity())

	var futs []*future.Future[task.Result]
	for i := range 6 {
		futs = append(futs, m.Submit(task.ComputeChunk(task.Range{From: int64(i), To: int64(i + 1)})))
	}
	for _, k := range []string{"a", "b", "c"} {
		futs = append(futs, m.Submit(task.MapPut(k, []byte(k))))
	}
	for _, f := range futs {
		_, err := await(t, f)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ran[task.KindMapPut] {
		assert.Equal(t, WorkerID(2), id, "map task ran on a compute worker")
	}
	for _, id := range ran[task.KindComputeChunk] {
		assert.NotEqual(t, WorkerID(2), id, "compute task ran on the map worker")
	}
	assert.Len(t, ran[task.KindComputeChunk], 6)
}

func TestCombinedRoles(t *testing.T) {
	cfg := testConfig(2, 1)
	cfg.Combined = true
	m := New(cfg, newRegion(), nil)
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.RoleCount(RoleAny))
	assert.Equal(t, 3, m.ComputeCapacity())
}

func TestMapFallsBackToComputeWorkers(t *testing.T) {
	region := newRegion()
	m := New(testConfig(1, 0), region, nil)
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = await(t, m.Submit(task.MapPut("k", []byte("v"))))
	require.NoError(t, err)

	res, err := await(t, m.Submit(task.MapGet("k")))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte("v"), res.Value)
}

func TestWorkerCrashAndRestart(t *testing.T) {
	m := New(testConfig(1, 0), newRegion(), nil, WithInterceptor(func(_ WorkerID, d *task.Descriptor) error {
		if d.Key == "boom" {
			panic("handler exploded")
		}
		return nil
	}))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = await(t, m.Submit(task.MapPut("boom", nil)))
	require.ErrorIs(t, err, ErrWorkerCrashed)

	require.Eventually(t, func() bool {
		return m.Workers()[0].State == StateTerminated
	}, time.Second, 5*time.Millisecond)

	_, err = await(t, m.Submit(task.MapGet("k")))
	require.ErrorIs(t, err, ErrNoEligibleWorker)

	require.NoError(t, m.Restart(context.Background(), 0))
	info := m.Workers()[0]
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, 2, info.Generation)

	_, err = await(t, m.Submit(task.MapPut("k", []byte("v"))))
	require.NoError(t, err)

	assert.Error(t, m.Restart(context.Background(), 0), "restart of a live worker")
	assert.Error(t, m.Restart(context.Background(), 7), "restart of an unknown worker")
}

func TestInterceptorError(t *testing.T) {
	denied := errors.New("denied")
	m := New(testConfig(1, 0), newRegion(), nil, WithInterceptor(func(WorkerID, *task.Descriptor) error {
		return denied
	}))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = await(t, m.Submit(task.MapGet("k")))
	require.ErrorIs(t, err, denied)

	require.Eventually(t, func() bool {
		info := m.Workers()[0]
		return info.State == StateReady && info.Failed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPending(t *testing.T) {
	region := newRegion()
	m := New(testConfig(1, 0), region, nil)
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	// 唯一のワーカーを受信待ちで占有する
	recv := m.Submit(task.ChannelReceive())
	require.Eventually(t, func() bool {
		return region.Coordinator().Channel().Waiters() == 1
	}, time.Second, 5*time.Millisecond)

	queued := m.Submit(task.ComputeChunk(task.Range{From: 0, To: 10}))
	assert.Equal(t, 1, m.PendingCount())
	assert.True(t, queued.Cancel())
	assert.Equal(t, 0, m.PendingCount())

	_, err = await(t, queued)
	assert.ErrorIs(t, err, future.ErrCanceled)

	require.NoError(t, region.Coordinator().Channel().Send([]byte("wake")))
	res, err := await(t, recv)
	require.NoError(t, err)
	assert.Equal(t, []byte("wake"), res.Value)

	// 配送済みのタスクは取り消せない
	assert.False(t, recv.Cancel())
}

func TestShutdown(t *testing.T) {
	region := newRegion()
	m := New(testConfig(1, 0), region, nil)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	recv := m.Submit(task.ChannelReceive())
	require.Eventually(t, func() bool {
		return region.Coordinator().Channel().Waiters() == 1
	}, time.Second, 5*time.Millisecond)
	queued := m.Submit(task.ComputeChunk(task.Range{From: 0, To: 10}))

	m.Shutdown()
	m.Shutdown()

	_, err = await(t, queued)
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, err = await(t, recv)
	assert.ErrorIs(t, err, ErrPoolClosed)

	_, err = await(t, m.Submit(task.MapGet("k")))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, m.Launch(), ErrPoolClosed)
	assert.ErrorIs(t, m.Restart(context.Background(), 0), ErrPoolClosed)

	assert.Equal(t, 0, m.ReadyCount())
	assert.Equal(t, 0, region.Attached())
}

func TestEventsAndMetrics(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ready := bus.Subscribe(events.EventWorkerReady)
	done := bus.Subscribe(events.EventTaskCompleted)
	mt := metrics.New()

	m := New(testConfig(2, 0), newRegion(), nil, WithEvents(bus), WithMetrics(mt))
	defer m.Shutdown()

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	for i := range 2 {
		select {
		case ev := <-ready:
			assert.Equal(t, events.EventWorkerReady, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for ready event %d", i)
		}
	}

	_, err = await(t, m.Submit(task.ComputeChunk(task.Range{From: 0, To: 5})))
	require.NoError(t, err)

	select {
	case ev := <-done:
		assert.Equal(t, "compute_chunk", ev.Data.TaskKind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task event")
	}
	assert.Equal(t, uint64(1), mt.TotalTasks())
}
