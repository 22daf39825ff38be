package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shared-workers/internal/events"
	"shared-workers/internal/future"
	"shared-workers/internal/logger"
	"shared-workers/internal/metrics"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"
	"shared-workers/internal/threads"
)

// Interceptor はワーカーがタスクを実行する直前に呼ばれる。
// エラーを返すとタスクはそのエラーで失敗する
type Interceptor func(id WorkerID, desc *task.Descriptor) error

// pendingTask はまだワーカーに渡されていないタスク
type pendingTask struct {
	desc     *task.Descriptor
	fut      *future.Future[task.Result]
	enqueued time.Time
}

// Manager は共有リージョンに接続したワーカー群を管理する
type Manager struct {
	cfg     Config
	region  *shm.Region
	spawner Spawner

	threads     *threads.Pool
	events      *events.Bus
	metrics     *metrics.Metrics
	instantiate func(WorkerID) error
	intercept   Interceptor

	mu       sync.Mutex
	workers  []*worker
	pending  []*pendingTask
	cursor   int
	launched bool
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option は Manager のオプション
type Option func(*Manager)

// WithThreads はチャンク計算の分割に使うスレッドプールを設定する
func WithThreads(tp *threads.Pool) Option {
	return func(m *Manager) {
		m.threads = tp
	}
}

// WithEvents はライフサイクルイベントの発行先を設定する
func WithEvents(bus *events.Bus) Option {
	return func(m *Manager) {
		m.events = bus
	}
}

// WithMetrics はタスクメトリクスの記録先を設定する
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithInstantiateHook はワーカーがリージョンに接続する前に呼ばれるフックを設定する。
// エラーを返すとそのワーカーの起動は失敗する
func WithInstantiateHook(hook func(WorkerID) error) Option {
	return func(m *Manager) {
		m.instantiate = hook
	}
}

// WithInterceptor はタスク実行前のフックを設定する
func WithInterceptor(fn Interceptor) Option {
	return func(m *Manager) {
		m.intercept = fn
	}
}

// New は新しい Manager を作成する。spawner が nil なら GoSpawner を使う
func New(cfg Config, region *shm.Region, spawner Spawner, opts ...Option) *Manager {
	if spawner == nil {
		spawner = GoSpawner{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		region:  region,
		spawner: spawner,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Launch は全ワーカーを生成し、それぞれに BootstrapMessage を送る
func (m *Manager) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPoolClosed
	}
	if m.launched {
		return errors.New("worker pool already launched")
	}
	if m.cfg.ComputeWorkers < 0 || m.cfg.MapWorkers < 0 || m.cfg.Size() == 0 {
		return fmt.Errorf("%w: invalid worker counts (compute=%d, map=%d)",
			ErrBootstrapFailed, m.cfg.ComputeWorkers, m.cfg.MapWorkers)
	}

	boot := m.bootstrapMessage()
	for i := range m.cfg.Size() {
		role := RoleCompute
		switch {
		case m.cfg.Combined:
			role = RoleAny
		case i >= m.cfg.ComputeWorkers:
			role = RoleMap
		}
		w := &worker{id: WorkerID(i), role: role}
		m.workers = append(m.workers, w)
		m.spawnLocked(w, boot)
	}
	m.launched = true

	logger.Info("", "Launched %d workers (compute=%d, map=%d, combined=%v)",
		m.cfg.Size(), m.cfg.ComputeWorkers, m.cfg.MapWorkers, m.cfg.Combined)
	m.drainLocked()
	return nil
}

// WaitReady は起動済みの全ワーカーが応答するまで待ち、Ready のワーカー数を返す。
// いずれかのワーカーが失敗した場合やタイムアウトした場合は ErrBootstrapFailed を返す
func (m *Manager) WaitReady(ctx context.Context) (int, error) {
	m.mu.Lock()
	if !m.launched {
		m.mu.Unlock()
		return 0, errors.New("worker pool not launched")
	}
	settled := make([]<-chan struct{}, 0, len(m.workers))
	for _, w := range m.workers {
		settled = append(settled, w.settled)
	}
	m.mu.Unlock()

	waitErr := m.awaitSettled(ctx, settled)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, w := range m.workers {
		if waitErr != nil && w.state == StateInitializing {
			w.gen++
			m.failBootstrapLocked(w, fmt.Errorf("worker %d: %w", w.id, waitErr))
		}
		if w.bootErr != nil {
			errs = append(errs, w.bootErr)
		}
	}
	ready := m.readyCountLocked()
	if len(errs) > 0 {
		return ready, fmt.Errorf("%w: %w", ErrBootstrapFailed, errors.Join(errs...))
	}
	return ready, nil
}

// awaitSettled は全てのチャネルが閉じられるか、タイムアウトか ctx の終了まで待つ
func (m *Manager) awaitSettled(ctx context.Context, settled []<-chan struct{}) error {
	var timeout <-chan time.Time
	if m.cfg.BootstrapTimeout > 0 {
		timer := time.NewTimer(m.cfg.BootstrapTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for _, ch := range settled {
		select {
		case <-ch:
		case <-timeout:
			return fmt.Errorf("bootstrap timed out after %s", m.cfg.BootstrapTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrPoolClosed
		}
	}
	return nil
}

// Start はワーカーを起動し、全員が Ready になるまで待つ
func (m *Manager) Start(ctx context.Context) (int, error) {
	if err := m.Launch(); err != nil {
		return 0, err
	}
	return m.WaitReady(ctx)
}

// Submit はタスクをプールの待ち行列に入れ、結果の Future を返す。ブロックしない。
// 起動完了前に投入されたタスクは Ready になったワーカーに順に渡される
func (m *Manager) Submit(desc *task.Descriptor) *future.Future[task.Result] {
	fut := future.New[task.Result]()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		fut.Reject(ErrPoolClosed)
		return fut
	}

	p := &pendingTask{desc: desc, fut: fut, enqueued: time.Now()}
	m.pending = append(m.pending, p)
	fut.OnCancel(func() bool {
		return m.removePending(p)
	})
	m.drainLocked()
	return fut
}

// removePending は未配送のタスクを待ち行列から取り除く
func (m *Manager) removePending(target *pendingTask) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.pending {
		if p == target {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// drainLocked は待ち行列のタスクを空いている Ready のワーカーにラウンドロビンで渡す
func (m *Manager) drainLocked() {
	if m.closed || len(m.pending) == 0 {
		return
	}

	kept := m.pending[:0]
	for _, p := range m.pending {
		if w := m.pickLocked(p.desc.Kind); w != nil {
			m.assignLocked(w, p)
			continue
		}
		if m.launched && m.liveCountLocked() == 0 {
			p.fut.Reject(fmt.Errorf("%w for %s", ErrNoEligibleWorker, p.desc))
			continue
		}
		kept = append(kept, p)
	}
	clear(m.pending[len(kept):])
	m.pending = kept
}

// pickLocked は kind を実行できる空きワーカーをラウンドロビンで選ぶ
func (m *Manager) pickLocked(kind task.Kind) *worker {
	n := len(m.workers)
	for i := range n {
		idx := (m.cursor + i) % n
		w := m.workers[idx]
		if w.state == StateReady && m.eligibleLocked(w, kind) {
			m.cursor = (idx + 1) % n
			return w
		}
	}
	return nil
}

// eligibleLocked は w が kind のタスクを担当できるかを返す。
// 優先ロールの稼働中ワーカーがいなければ他のロールにも渡す
func (m *Manager) eligibleLocked(w *worker, kind task.Kind) bool {
	if w.role == RoleAny {
		return true
	}
	want, ok := preferredRole(kind)
	if !ok || w.role == want {
		return true
	}
	for _, other := range m.workers {
		if other.role == want && other.state != StateTerminated {
			return false
		}
	}
	return true
}

func (m *Manager) assignLocked(w *worker, p *pendingTask) {
	w.state = StateBusy
	w.current = p.desc
	w.inbox <- assignment{desc: p.desc, fut: p.fut, enqueued: p.enqueued}
}

// Restart は Terminated のワーカーを同じ WorkerID で起動し直す
func (m *Manager) Restart(ctx context.Context, id WorkerID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrPoolClosed
	}
	if int(id) < 0 || int(id) >= len(m.workers) {
		m.mu.Unlock()
		return fmt.Errorf("worker %d not found", id)
	}
	w := m.workers[id]
	if w.state != StateTerminated {
		m.mu.Unlock()
		return fmt.Errorf("worker %d is %s, not terminated", id, w.state)
	}
	w.bootErr = nil
	m.spawnLocked(w, m.bootstrapMessage())
	settled := w.settled
	m.mu.Unlock()

	logger.Info(w.name(), "Restarting worker")
	waitErr := m.awaitSettled(ctx, []<-chan struct{}{settled})

	m.mu.Lock()
	defer m.mu.Unlock()

	if waitErr != nil && w.state == StateInitializing {
		w.gen++
		m.failBootstrapLocked(w, fmt.Errorf("worker %d: %w", id, waitErr))
	}
	if w.bootErr != nil {
		return fmt.Errorf("%w: %w", ErrBootstrapFailed, w.bootErr)
	}
	return nil
}

// Shutdown は未配送のタスクを ErrPoolClosed で失敗させ、全ワーカーの終了を待つ。
// 二度目以降の呼び出しは何もしない
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.pending
	m.pending = nil
	for _, w := range m.workers {
		w.closeInbox()
	}
	m.mu.Unlock()

	for _, p := range pending {
		p.fut.Reject(ErrPoolClosed)
	}
	if len(pending) > 0 {
		logger.Warn("", "Rejected %d undelivered tasks", len(pending))
	}

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	for _, w := range m.workers {
		w.state = StateTerminated
		w.current = nil
		w.detach()
	}
	m.mu.Unlock()

	m.publish(events.NewPoolShutdownEvent())
	logger.Info("", "Worker pool shut down")
}

// Workers は全ワーカーの状態を返す
func (m *Manager) Workers() []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		infos = append(infos, w.info())
	}
	return infos
}

// Size は起動したワーカー数を返す
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// ReadyCount はタスクを受け付けられる状態（Ready または Busy）のワーカー数を返す
func (m *Manager) ReadyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyCountLocked()
}

func (m *Manager) readyCountLocked() int {
	count := 0
	for _, w := range m.workers {
		if w.state == StateReady || w.state == StateBusy {
			count++
		}
	}
	return count
}

func (m *Manager) liveCountLocked() int {
	count := 0
	for _, w := range m.workers {
		if w.state != StateTerminated {
			count++
		}
	}
	return count
}

// RoleCount は指定ロールのワーカー数を返す
func (m *Manager) RoleCount(role Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, w := range m.workers {
		if w.role == role {
			count++
		}
	}
	return count
}

// ComputeCapacity はチャンク計算を担当できるワーカー数を返す
func (m *Manager) ComputeCapacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, w := range m.workers {
		if w.state != StateTerminated && m.eligibleLocked(w, task.KindComputeChunk) {
			count++
		}
	}
	return count
}

// PendingCount は未配送のタスク数を返す
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Config はプールの設定を返す
func (m *Manager) Config() Config {
	return m.cfg
}

// Region は共有リージョンを返す
func (m *Manager) Region() *shm.Region {
	return m.region
}

func (m *Manager) bootstrapMessage() BootstrapMessage {
	return BootstrapMessage{Image: m.region.Image(), Handle: m.region.Handle()}
}

func (m *Manager) publish(ev events.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}
