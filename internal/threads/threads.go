package threads

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"shared-workers/internal/future"
	"shared-workers/internal/logger"
)

// ErrStopped は停止済みプールへの投入で返される
var ErrStopped = errors.New("thread pool stopped")

// Job はスレッドが実行するジョブを表す
type Job func()

// Config はスレッドプールの設定
type Config struct {
	NumThreads  int // スレッド数（0でCPU数）
	QueueFactor int // キューサイズ = NumThreads * QueueFactor
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		NumThreads:  0,
		QueueFactor: 64,
	}
}

// queued はキュー上のジョブ。drop は実行されずに破棄されるときに呼ばれる
type queued struct {
	run  Job
	drop func()
}

// Pool はワーカー内のデータ並列処理に使うゴルーチンのプール
type Pool struct {
	numThreads int
	jobs       chan queued
	wg         sync.WaitGroup
	submitMu   sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	mu         sync.Mutex
}

// New は設定を指定してスレッドプールを作成する
func New(config Config) *Pool {
	numThreads := config.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 64
	}
	return &Pool{
		numThreads: numThreads,
		jobs:       make(chan queued, numThreads*queueFactor),
	}
}

// Start はスレッドを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.stopping.Store(false)

	for i := range p.numThreads {
		p.wg.Add(1)
		go p.thread(i)
	}

	logger.Debug("", "Thread pool started with %d threads", p.numThreads)
}

// thread は個々のスレッドゴルーチン
func (p *Pool) thread(_ int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			job.run()
		}
	}
}

// Submit はジョブをキューに投入する。キューが満杯ならブロックする
func (p *Pool) Submit(job Job) bool {
	return p.submit(queued{run: job})
}

func (p *Pool) submit(job queued) bool {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	p.mu.Lock()
	started := p.started
	ctx := p.ctx
	p.mu.Unlock()

	if !started || p.stopping.Load() {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// Stop はスレッドプールを停止する。キューに残ったジョブは実行されずに破棄される
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.stopping.Store(true)
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	// 投入中の Submit が抜けるのを待つ
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	p.wg.Wait()
	p.drain()

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()

	logger.Debug("", "Thread pool stopped")
}

// drain は未実行のジョブを破棄する
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			if job.drop != nil {
				job.drop()
			}
		default:
			return
		}
	}
}

// NumThreads はスレッド数を返す
func (p *Pool) NumThreads() int {
	return p.numThreads
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Go は fn をプール上で実行し、結果を Future で返す。
// fn のパニックはエラーとして Future に伝える
func Go[T any](p *Pool, fn func() (T, error)) *future.Future[T] {
	f := future.New[T]()
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				f.Reject(fmt.Errorf("thread job panicked: %v", r))
			}
		}()
		v, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}
	drop := func() { f.Reject(ErrStopped) }

	if !p.submit(queued{run: run, drop: drop}) {
		drop()
	}
	return f
}
