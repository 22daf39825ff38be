package future

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled は Cancel によって取り消された Future の結果
var ErrCanceled = errors.New("future canceled")

// Future は非同期に確定する単一の値を表す
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	val T
	err error

	mu       sync.Mutex
	onCancel func() bool
}

// New は未確定の Future を作成する
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved は値で確定済みの Future を返す
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed はエラーで確定済みの Future を返す
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve は値で確定する。既に確定していれば false を返す
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject はエラーで確定する。既に確定していれば false を返す
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done は確定時に閉じられるチャネルを返す
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await は確定を待つ。ctx が先に終了した場合は ctx.Err() を返すが、
// Future 自体は取り消さない
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result は確定済みなら結果を返す。未確定なら ok は false
func (f *Future[T]) Result() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// OnCancel は Cancel 時に呼ばれるフックを設定する。
// フックが true を返したときだけ Future は ErrCanceled で確定する
func (f *Future[T]) OnCancel(hook func() bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCancel = hook
}

// Cancel は未確定の Future を取り消す。取り消せた場合 true を返す
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	hook := f.onCancel
	f.mu.Unlock()

	if hook == nil || !hook() {
		return false
	}
	return f.Reject(ErrCanceled)
}

// Then は f の確定後に fn を適用した新しい Future を返す
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	go func() {
		<-f.done
		if f.err != nil {
			out.Reject(f.err)
			return
		}
		u, err := fn(f.val)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(u)
	}()
	return out
}
