package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shared-workers/internal/events"
	"shared-workers/internal/future"
	"shared-workers/internal/logger"
	"shared-workers/internal/metrics"
	"shared-workers/internal/pool"
	"shared-workers/internal/reduce"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"
	"shared-workers/internal/threads"
)

// ErrNotInitialized は InitThreadWorkers 前の操作で返される
var ErrNotInitialized = errors.New("thread workers not initialized")

// Config はランタイムの設定
type Config struct {
	WorkerLocation string // ワーカーモジュールの場所（InitThreadWorkers で省略した場合に使う）
	Pool           pool.Config
	Reduce         reduce.Config
	Threads        threads.Config
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		WorkerLocation: "worker.js",
		Pool:           pool.DefaultConfig(),
		Reduce:         reduce.DefaultConfig(),
		Threads:        threads.DefaultConfig(),
	}
}

// Runtime は共有リージョン・ワーカープール・スケジューラをまとめた外部向けの境界
type Runtime struct {
	cfg      Config
	events   *events.Bus
	metrics  *metrics.Metrics
	spawner  pool.Spawner
	poolOpts []pool.Option

	initMu sync.Mutex
	mu     sync.RWMutex
	region *shm.Region
	pool   *pool.Manager
	tp     *threads.Pool
	sched  *reduce.Scheduler
	closed bool
}

// Option は Runtime のオプション
type Option func(*Runtime)

// WithEvents はライフサイクルイベントの発行先を設定する
func WithEvents(bus *events.Bus) Option {
	return func(r *Runtime) {
		r.events = bus
	}
}

// WithMetrics はタスクメトリクスの記録先を設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithSpawner はワーカーを生成するホストを設定する
func WithSpawner(s pool.Spawner) Option {
	return func(r *Runtime) {
		r.spawner = s
	}
}

// WithPoolOptions はプール作成時に追加するオプションを設定する
func WithPoolOptions(opts ...pool.Option) Option {
	return func(r *Runtime) {
		r.poolOpts = append(r.poolOpts, opts...)
	}
}

// New は新しい Runtime を作成する。ワーカーは InitThreadWorkers で起動する
func New(cfg Config, opts ...Option) *Runtime {
	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitThreadWorkers はモジュールを読み込み、計算ワーカーとマップワーカーを起動して
// 全員が Ready になるまで待つ。Ready になったワーカー数を返す。
// 起動中に投入されたタスクはワーカーが Ready になり次第実行される
func (r *Runtime) InitThreadWorkers(ctx context.Context, workerLocation string, computeWorkers, mapWorkers int) (int, error) {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.RLock()
	closed, initialized := r.closed, r.pool != nil
	r.mu.RUnlock()
	if closed {
		return 0, pool.ErrPoolClosed
	}
	if initialized {
		return 0, errors.New("thread workers already initialized")
	}

	if workerLocation == "" {
		workerLocation = r.cfg.WorkerLocation
	}
	image, err := shm.LoadImage(workerLocation)
	if err != nil {
		return 0, fmt.Errorf("load worker module: %w", err)
	}

	region := shm.NewRegion(image)
	tp := threads.New(r.cfg.Threads)
	tp.Start(context.Background())

	pcfg := r.cfg.Pool
	pcfg.ComputeWorkers = computeWorkers
	pcfg.MapWorkers = mapWorkers

	opts := []pool.Option{pool.WithThreads(tp)}
	if r.events != nil {
		opts = append(opts, pool.WithEvents(r.events))
	}
	if r.metrics != nil {
		opts = append(opts, pool.WithMetrics(r.metrics))
	}
	opts = append(opts, r.poolOpts...)
	m := pool.New(pcfg, region, r.spawner, opts...)

	if err := m.Launch(); err != nil {
		r.teardown(region, m, tp)
		return 0, fmt.Errorf("init thread workers: %w", err)
	}

	r.mu.Lock()
	r.region, r.pool, r.tp = region, m, tp
	r.sched = reduce.New(m, r.cfg.Reduce)
	r.mu.Unlock()

	ready, err := m.WaitReady(ctx)
	if err != nil {
		r.mu.Lock()
		r.region, r.pool, r.tp, r.sched = nil, nil, nil, nil
		r.mu.Unlock()
		r.teardown(region, m, tp)
		return ready, fmt.Errorf("init thread workers: %w", err)
	}

	logger.Info("", "Initialized %d thread workers for %s (region %s)", ready, image, region.ID())
	return ready, nil
}

// SumInWorkers はデフォルト区間の総和をワーカーで計算する
func (r *Runtime) SumInWorkers() *future.Future[int64] {
	sched := r.scheduler()
	if sched == nil {
		return future.Failed[int64](ErrNotInitialized)
	}
	return sched.SumDefault()
}

// SumRangeInWorkers は rg の総和をワーカーで計算する
func (r *Runtime) SumRangeInWorkers(rg task.Range) *future.Future[int64] {
	sched := r.scheduler()
	if sched == nil {
		return future.Failed[int64](ErrNotInitialized)
	}
	return sched.Sum(rg)
}

// SumWithRetry は失敗したチャンクを再試行しながら rg の総和を計算する
func (r *Runtime) SumWithRetry(ctx context.Context, rg task.Range, attempts int) (int64, error) {
	sched := r.scheduler()
	if sched == nil {
		return 0, ErrNotInitialized
	}
	return sched.SumWithRetry(ctx, rg, attempts)
}

// SendToChannel は共有チャネルに値を送る
func (r *Runtime) SendToChannel(v []byte) error {
	region := r.Region()
	if region == nil {
		return ErrNotInitialized
	}
	return region.Coordinator().Channel().Send(v)
}

// ReceiveFromChannel は共有チャネルから値を受け取る Future を返す。
// 待機はワーカーを経由せず呼び出し側のアタッチメントで登録する。
// ワーカーへの配送順は呼び出し順と一致しないため、この経路でだけ値が呼び出し順に届く。
// ワーカー内で受信するには Submit(task.ChannelReceive()) を使う
func (r *Runtime) ReceiveFromChannel() *future.Future[[]byte] {
	region := r.Region()
	if region == nil {
		return future.Failed[[]byte](ErrNotInitialized)
	}
	return region.Coordinator().Channel().Receive()
}

// GetFromMap は共有マップから値を取得する。未初期化またはキーが無い場合は false
func (r *Runtime) GetFromMap(key string) ([]byte, bool) {
	region := r.Region()
	if region == nil {
		return nil, false
	}
	return region.Coordinator().Map().Get(key)
}

// AddToMap は共有マップに値を書き込む
func (r *Runtime) AddToMap(key string, v []byte) error {
	region := r.Region()
	if region == nil {
		return ErrNotInitialized
	}
	region.Coordinator().Map().Put(key, v)
	return nil
}

// Submit は任意のタスクをプール経由で実行する
func (r *Runtime) Submit(desc *task.Descriptor) *future.Future[task.Result] {
	m := r.Pool()
	if m == nil {
		return future.Failed[task.Result](ErrNotInitialized)
	}
	return m.Submit(desc)
}

// Restart は終了したワーカーを起動し直す
func (r *Runtime) Restart(ctx context.Context, id pool.WorkerID) error {
	m := r.Pool()
	if m == nil {
		return ErrNotInitialized
	}
	return m.Restart(ctx, id)
}

// Shutdown はチャネルを閉じて待機中の受信を ErrChannelClosed で確定させ、
// プールとスレッドプールを停止する。二度目以降の呼び出しは何もしない
func (r *Runtime) Shutdown() {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	region, m, tp := r.region, r.pool, r.tp
	r.mu.Unlock()

	if m == nil {
		return
	}
	r.teardown(region, m, tp)
	logger.Info("", "Thread workers shut down")
}

func (r *Runtime) teardown(region *shm.Region, m *pool.Manager, tp *threads.Pool) {
	region.Close()
	m.Shutdown()
	tp.Stop()
}

// Initialized はワーカーが起動済みかどうかを返す
func (r *Runtime) Initialized() bool {
	return r.Pool() != nil
}

// Pool はワーカープールを返す。未初期化なら nil
func (r *Runtime) Pool() *pool.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// Region は共有リージョンを返す。未初期化なら nil
func (r *Runtime) Region() *shm.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.region
}

// Metrics はタスクメトリクスを返す（設定されていなければ nil）
func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

// Events はイベントバスを返す（設定されていなければ nil）
func (r *Runtime) Events() *events.Bus {
	return r.events
}

func (r *Runtime) scheduler() *reduce.Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sched
}
