package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shared-workers/internal/dispatch"
	"shared-workers/internal/events"
	"shared-workers/internal/future"
	"shared-workers/internal/logger"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"
)

// errSuperseded は期限切れの世代が接続しようとしたときに返される
var errSuperseded = errors.New("bootstrap superseded by a newer generation")

// assignment はワーカーの受信箱に置かれるタスク
type assignment struct {
	desc     *task.Descriptor
	fut      *future.Future[task.Result]
	enqueued time.Time
}

// worker は Manager が保持するワーカーの状態。フィールドは Manager.mu で保護される
type worker struct {
	id    WorkerID
	role  Role
	state State
	gen   int

	inbox   chan assignment
	settled chan struct{}
	current *task.Descriptor
	att     *shm.Attachment

	completed uint64
	failed    uint64
	bootErr   error
	lastErr   error
}

func (w *worker) name() string {
	return fmt.Sprintf("worker-%d", w.id)
}

func (w *worker) info() WorkerInfo {
	info := WorkerInfo{
		ID:         w.id,
		Role:       w.role,
		State:      w.state,
		Generation: w.gen,
		Completed:  w.completed,
		Failed:     w.failed,
	}
	if w.current != nil {
		info.Current = w.current.String()
	}
	if w.lastErr != nil {
		info.LastError = w.lastErr.Error()
	}
	return info
}

func (w *worker) closeInbox() {
	if w.inbox != nil {
		close(w.inbox)
		w.inbox = nil
	}
}

// detach は現在の世代のアタッチメントを切り離す
func (w *worker) detach() {
	if w.att != nil {
		w.att.Detach()
		w.att = nil
	}
}

func (w *worker) markSettled() {
	select {
	case <-w.settled:
	default:
		close(w.settled)
	}
}

// controlKind はワーカーから Manager へのコントロールメッセージの種類
type controlKind int

const (
	ctrlReady controlKind = iota
	ctrlBootstrapFailed
	ctrlDone
	ctrlCrashed
)

type control struct {
	kind controlKind
	id   WorkerID
	gen  int
	err  error
}

// spawnLocked はワーカーの実行コンテキストを作り、BootstrapMessage を送る
func (m *Manager) spawnLocked(w *worker, boot BootstrapMessage) {
	w.gen++
	w.state = StateInitializing
	w.current = nil
	w.detach()
	w.inbox = make(chan assignment, 1)
	w.settled = make(chan struct{})

	bootCh := make(chan BootstrapMessage, 1)
	bootCh <- boot

	id, gen, inbox := w.id, w.gen, w.inbox
	m.wg.Add(1)
	err := m.spawner.Spawn(id, func() {
		defer m.wg.Done()
		m.runWorker(id, gen, bootCh, inbox)
	})
	if err != nil {
		m.wg.Done()
		m.failBootstrapLocked(w, fmt.Errorf("spawn worker %d: %w", id, err))
	}
}

// failBootstrapLocked はワーカーを起動失敗として終了させる。再試行はしない
func (m *Manager) failBootstrapLocked(w *worker, err error) {
	w.state = StateTerminated
	w.bootErr = err
	w.lastErr = err
	w.detach()
	w.closeInbox()
	w.markSettled()

	logger.Error(w.name(), "Bootstrap failed: %v", err)
	m.publish(events.NewBootstrapFailedEvent(int(w.id), err))
	m.drainLocked()
}

// post はワーカーからのコントロールメッセージを処理する
func (m *Manager) post(c control) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.workers[c.id]
	if w.gen != c.gen {
		return
	}

	switch c.kind {
	case ctrlReady:
		if w.state != StateInitializing {
			return
		}
		w.state = StateReady
		w.markSettled()
		logger.Info(w.name(), "Ready (role=%s)", w.role)
		m.publish(events.NewWorkerReadyEvent(int(w.id)))
	case ctrlBootstrapFailed:
		m.failBootstrapLocked(w, c.err)
		return
	case ctrlDone:
		if w.state == StateBusy {
			w.state = StateReady
		}
		w.current = nil
		if c.err != nil {
			w.failed++
			w.lastErr = c.err
		} else {
			w.completed++
		}
	case ctrlCrashed:
		w.state = StateTerminated
		w.current = nil
		w.failed++
		w.lastErr = c.err
		w.detach()
		w.closeInbox()
		logger.Error(w.name(), "Terminated: %v", c.err)
		m.publish(events.NewWorkerTerminatedEvent(int(w.id), c.err))
	}
	m.drainLocked()
}

// runWorker はワーカー側のエントリポイント。
// BootstrapMessage を受け取って接続し、Ready を通知してからタスクを処理する
func (m *Manager) runWorker(id WorkerID, gen int, boot <-chan BootstrapMessage, inbox <-chan assignment) {
	msg := <-boot

	disp, att, err := m.instantiateWorker(id, gen, msg)
	if err != nil {
		m.post(control{kind: ctrlBootstrapFailed, id: id, gen: gen, err: err})
		return
	}
	defer att.Detach()

	m.post(control{kind: ctrlReady, id: id, gen: gen})

	for a := range inbox {
		taskErr, crashErr := m.execute(id, disp, a)
		if crashErr != nil {
			att.Detach()
			m.post(control{kind: ctrlCrashed, id: id, gen: gen, err: crashErr})
			return
		}
		m.post(control{kind: ctrlDone, id: id, gen: gen, err: taskErr})
	}
}

// instantiateWorker は受け取ったハンドルでリージョンに接続し、Dispatcher を作る
func (m *Manager) instantiateWorker(id WorkerID, gen int, msg BootstrapMessage) (*dispatch.Dispatcher, *shm.Attachment, error) {
	if m.instantiate != nil {
		if err := m.instantiate(id); err != nil {
			return nil, nil, fmt.Errorf("worker %d: instantiate %s: %w", id, msg.Image, err)
		}
	}
	if msg.Image.Digest != msg.Handle.Image.Digest {
		return nil, nil, fmt.Errorf("worker %d: %w: bootstrap image %s does not match handle", id, shm.ErrHandleMismatch, msg.Image)
	}

	att, err := m.attach(id, gen, msg.Handle)
	if err != nil {
		return nil, nil, fmt.Errorf("worker %d: attach: %w", id, err)
	}

	opts := []dispatch.Option{dispatch.WithFanOutThreshold(m.cfg.FanOutThreshold)}
	if m.threads != nil {
		opts = append(opts, dispatch.WithThreads(m.threads))
	}
	return dispatch.New(att, opts...), att, nil
}

// attach は世代 gen がまだ起動中の場合に限りリージョンに接続する。
// 世代の確認と接続は Manager.mu の下で行い、Restart と競合しない
func (m *Manager) attach(id WorkerID, gen int, h shm.Handle) (*shm.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.workers[id]
	if w.gen != gen || w.state != StateInitializing {
		return nil, fmt.Errorf("%w (generation %d, current %d)", errSuperseded, gen, w.gen)
	}
	att, err := m.region.Attach(int(id), h)
	if err != nil {
		return nil, err
	}
	w.att = att
	return att, nil
}

// execute はタスクを実行して Future を確定させる。
// ハンドラがパニックした場合は crashErr を返す
func (m *Manager) execute(id WorkerID, disp *dispatch.Dispatcher, a assignment) (taskErr, crashErr error) {
	start := time.Now()

	var res task.Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				crashErr = fmt.Errorf("%w: worker %d while running %s: %v", ErrWorkerCrashed, id, a.desc, r)
			}
		}()
		if m.intercept != nil {
			if err := m.intercept(id, a.desc); err != nil {
				taskErr = err
				return
			}
		}
		res, taskErr = disp.Dispatch(m.ctx, a.desc)
	}()

	if crashErr != nil {
		taskErr = crashErr
	}
	if taskErr != nil && errors.Is(taskErr, context.Canceled) && m.ctx.Err() != nil {
		taskErr = fmt.Errorf("%w: %w", ErrPoolClosed, taskErr)
	}

	if taskErr != nil {
		a.fut.Reject(taskErr)
	} else {
		a.fut.Resolve(res)
	}

	latency := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordTask(a.desc.Kind.String(), latency, taskErr)
	}
	m.publish(events.NewTaskEvent(int(id), a.desc.ID, a.desc.Kind.String(), latency, taskErr))
	logger.Debug(fmt.Sprintf("worker-%d", id), "Settled %s in %v (queued %v)", a.desc, latency, start.Sub(a.enqueued))
	return taskErr, crashErr
}
