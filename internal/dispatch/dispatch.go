package dispatch

import (
	"context"
	"errors"
	"fmt"

	"shared-workers/internal/future"
	"shared-workers/internal/logger"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"
	"shared-workers/internal/threads"
)

// DefaultFanOutThreshold はスレッドプールに分割する最小チャンク長
const DefaultFanOutThreshold = 1 << 14

// Dispatcher はワーカーごとのスレッドエントリポイント。
// 受け取ったタスク記述子を種別ごとのハンドラに振り分ける
type Dispatcher struct {
	name      string
	att       *shm.Attachment
	threads   *threads.Pool
	threshold int64
}

// Option は Dispatcher のオプション
type Option func(*Dispatcher)

// WithThreads はチャンク計算の分割先スレッドプールを設定する
func WithThreads(tp *threads.Pool) Option {
	return func(d *Dispatcher) {
		d.threads = tp
	}
}

// WithFanOutThreshold は分割を行う最小チャンク長を設定する
func WithFanOutThreshold(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.threshold = n
		}
	}
}

// New はアタッチ済みのリージョンに対する Dispatcher を作成する
func New(att *shm.Attachment, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:      fmt.Sprintf("worker-%d", att.WorkerID()),
		att:       att,
		threshold: DefaultFanOutThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch は記述子を一度だけ消費し、対応するハンドラを実行する
func (d *Dispatcher) Dispatch(ctx context.Context, desc *task.Descriptor) (task.Result, error) {
	if err := desc.Claim(); err != nil {
		return task.Result{}, err
	}

	logger.Debug(d.name, "Dispatching %s", desc)

	switch desc.Kind {
	case task.KindComputeChunk:
		return d.computeChunk(desc.Range)
	case task.KindMapGet:
		v, ok := d.att.Map().Get(desc.Key)
		return task.Result{Kind: desc.Kind, Value: v, Found: ok}, nil
	case task.KindMapPut:
		d.att.Map().Put(desc.Key, desc.Value)
		return task.Result{Kind: desc.Kind}, nil
	case task.KindChannelSend:
		if err := d.att.Channel().Send(desc.Value); err != nil {
			return task.Result{}, err
		}
		return task.Result{Kind: desc.Kind}, nil
	case task.KindChannelReceive:
		v, err := d.att.Channel().ReceiveContext(ctx)
		if err != nil {
			return task.Result{}, err
		}
		return task.Result{Kind: desc.Kind, Value: v, Found: true}, nil
	default:
		return task.Result{}, fmt.Errorf("%w: %d", task.ErrUnknownKind, desc.Kind)
	}
}

// computeChunk は区間の部分和を計算する。
// 十分長い区間はスレッドプールに分割して並列に計算する
func (d *Dispatcher) computeChunk(r task.Range) (task.Result, error) {
	if err := r.Validate(); err != nil {
		return task.Result{}, err
	}
	if d.threads == nil || r.Len() < d.threshold {
		sum, err := task.SumRange(r)
		if err != nil {
			return task.Result{}, err
		}
		return task.Result{Kind: task.KindComputeChunk, Sum: sum}, nil
	}

	parts := task.Split(r, d.threads.NumThreads())
	futures := make([]*future.Future[int64], len(parts))
	for i, part := range parts {
		futures[i] = threads.Go(d.threads, func() (int64, error) {
			return task.SumRange(part)
		})
	}

	// 実行中の計算は中断しない
	var sum int64
	var errs []error
	for _, f := range futures {
		v, err := f.Await(context.Background())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sum, err = task.AddSum(sum, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return task.Result{}, fmt.Errorf("chunk %s: %w", r, errors.Join(errs...))
	}
	return task.Result{Kind: task.KindComputeChunk, Sum: sum}, nil
}

// Name はログ用のワーカー名を返す
func (d *Dispatcher) Name() string {
	return d.name
}
