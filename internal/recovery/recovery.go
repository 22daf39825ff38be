package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"shared-workers/internal/events"
	"shared-workers/internal/logger"
	"shared-workers/internal/pool"
)

// Target は監視対象のワーカープール
type Target interface {
	Workers() []pool.WorkerInfo
	Restart(ctx context.Context, id pool.WorkerID) error
}

var _ Target = (*pool.Manager)(nil)

// Config は RecoveryManager の設定
type Config struct {
	CheckInterval time.Duration // ヘルスチェック間隔
	RestartDelay  time.Duration // 再起動までの待機時間
	MaxRetries    int           // ワーカーごとの最大リトライ回数（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Second,
		RestartDelay:  2 * time.Second,
		MaxRetries:    3,
	}
}

// WorkerState はワーカーの障害状態の追跡
type WorkerState struct {
	FailedAt   time.Time
	RetryCount int
}

// Stats は復旧統計
type Stats struct {
	TotalRestarts   uint64
	SuccessRestarts uint64
	FailedRestarts  uint64
	CurrentlyFailed int
}

// Manager は終了したワーカーを再起動する
type Manager struct {
	config   Config
	target   Target
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	states map[pool.WorkerID]*WorkerState
	stats  Stats
}

// New は新しい RecoveryManager を作成する
func New(target Target, config Config) *Manager {
	return &Manager{
		config: config,
		target: target,
		states: make(map[pool.WorkerID]*WorkerState),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Manager) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// publishEvent はイベントを発行する
func (m *Manager) publishEvent(event events.Event) {
	if m.eventBus != nil {
		m.eventBus.Publish(event)
	}
}

// Start は復旧マネージャーを開始する
func (m *Manager) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.healthCheckLoop()

	logger.Info("", "RecoveryManager started (interval: %v, delay: %v)",
		m.config.CheckInterval, m.config.RestartDelay)
}

// Stop は復旧マネージャーを停止する
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	stats := m.Stats()
	logger.Info("", "RecoveryManager stopped (restarts: %d success, %d failed)",
		stats.SuccessRestarts, stats.FailedRestarts)
}

// healthCheckLoop は定期的にヘルスチェックを実行する
func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAndRecover(time.Now())
		}
	}
}

// checkAndRecover は全ワーカーをチェックし、必要に応じて再起動する
func (m *Manager) checkAndRecover(now time.Time) {
	for _, info := range m.target.Workers() {
		m.checkWorker(info, now)
	}
}

// checkWorker は個々のワーカーをチェックする
func (m *Manager) checkWorker(info pool.WorkerInfo, now time.Time) {
	m.mu.Lock()
	state, exists := m.states[info.ID]
	if !exists {
		state = &WorkerState{}
		m.states[info.ID] = state
	}
	m.mu.Unlock()

	switch info.State {
	case pool.StateReady, pool.StateBusy:
		m.handleLiveWorker(state)
	case pool.StateTerminated:
		m.handleTerminatedWorker(info.ID, state, now)
	}
}

// handleLiveWorker は稼働中のワーカーの障害状態をクリアする
func (m *Manager) handleLiveWorker(state *WorkerState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !state.FailedAt.IsZero() {
		state.FailedAt = time.Time{}
		m.stats.CurrentlyFailed--
	}
	state.RetryCount = 0
}

// handleTerminatedWorker は終了したワーカーを処理する
func (m *Manager) handleTerminatedWorker(id pool.WorkerID, state *WorkerState, now time.Time) {
	m.mu.Lock()

	// 初回検出
	if state.FailedAt.IsZero() {
		state.FailedAt = now
		m.stats.CurrentlyFailed++
		m.mu.Unlock()
		logger.Warn("", "RecoveryManager: detected terminated worker %d", id)
		return
	}

	// 復旧待機時間チェック
	if now.Sub(state.FailedAt) < m.config.RestartDelay {
		m.mu.Unlock()
		return
	}

	// リトライ上限チェック
	if m.config.MaxRetries > 0 && state.RetryCount >= m.config.MaxRetries {
		m.mu.Unlock()
		return
	}

	state.RetryCount++
	state.FailedAt = now
	m.stats.TotalRestarts++
	retryCount := state.RetryCount
	m.mu.Unlock()

	// 再起動を試みる
	err := m.target.Restart(m.ctx, id)
	m.publishEvent(events.NewWorkerRestartEvent(int(id), retryCount, err))

	if errors.Is(err, pool.ErrPoolClosed) {
		return
	}
	if err != nil {
		m.mu.Lock()
		m.stats.FailedRestarts++
		m.mu.Unlock()
		logger.Error("", "RecoveryManager: failed to restart worker %d: %v", id, err)
		return
	}

	m.mu.Lock()
	m.stats.SuccessRestarts++
	m.stats.CurrentlyFailed--
	state.FailedAt = time.Time{}
	m.mu.Unlock()

	logger.Info("", "RecoveryManager: restarted worker %d (attempt %d)", id, retryCount)
}

// IsRunning は実行中かどうかを返す
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Stats は復旧統計を返す
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ResetStats は統計をリセットする
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Stats{}
}
