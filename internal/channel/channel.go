package channel

import (
	"context"
	"errors"
	"sync"

	"shared-workers/internal/future"
)

// ErrChannelClosed はクローズ済みチャネルへの操作で返される
var ErrChannelClosed = errors.New("channel closed")

// waiter は値の到着を待つ受信者の登録
type waiter[T any] struct {
	fut *future.Future[T]
}

// Channel は複数スレッド間で値を受け渡す FIFO チャネル。
// waiters が空でないとき queue は常に空
type Channel[T any] struct {
	mu      sync.Mutex
	queue   []T
	waiters []*waiter[T]
	closed  bool
}

// New は新しいチャネルを作成する
func New[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Send は値を送信する。待機中の受信者がいれば最古の受信者に直接渡す
func (c *Channel[T]) Send(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	if len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters[0] = nil
		c.waiters = c.waiters[1:]
		w.fut.Resolve(v)
		return nil
	}

	c.queue = append(c.queue, v)
	return nil
}

// Receive は値を受信する Future を返す。
// キューに値があれば確定済みの Future を、なければ受信者として登録する
func (c *Channel[T]) Receive() *future.Future[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.popLocked(); ok {
		return future.Resolved(v)
	}
	if c.closed {
		return future.Failed[T](ErrChannelClosed)
	}

	w := &waiter[T]{fut: future.New[T]()}
	c.waiters = append(c.waiters, w)
	w.fut.OnCancel(func() bool {
		return c.removeWaiter(w)
	})
	return w.fut
}

// ReceiveContext は値が届くか ctx が終了するまでブロックする
func (c *Channel[T]) ReceiveContext(ctx context.Context) (T, error) {
	f := c.Receive()

	select {
	case <-f.Done():
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		if f.Cancel() {
			var zero T
			return zero, ctx.Err()
		}
		// 取り消し前に値が渡されていた
		v, err, _ := f.Result()
		return v, err
	}
}

// TryReceive はキューに値があれば取り出す
func (c *Channel[T]) TryReceive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Channel[T]) popLocked() (T, bool) {
	if len(c.queue) == 0 {
		var zero T
		return zero, false
	}
	v := c.queue[0]
	var zero T
	c.queue[0] = zero
	c.queue = c.queue[1:]
	return v, true
}

// removeWaiter は未起床の受信者登録を取り除く
func (c *Channel[T]) removeWaiter(target *waiter[T]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Close はチャネルをクローズし、待機中の受信者を全て ErrChannelClosed で確定させる。
// キュー済みの値は引き続き受信できる
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, w := range c.waiters {
		w.fut.Reject(ErrChannelClosed)
	}
	c.waiters = nil
}

// Closed はクローズ済みかどうかを返す
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len はキューに溜まっている値の数を返す
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Waiters は待機中の受信者数を返す
func (c *Channel[T]) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
