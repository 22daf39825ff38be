package task

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrAlreadyConsumed = errors.New("task descriptor already consumed")
	ErrUnknownKind     = errors.New("unknown task kind")
	ErrRangeTooLarge   = errors.New("range width exceeds int64")
	ErrSumOverflow     = errors.New("sum overflows int64")
)

// Kind はタスク記述子の種別
type Kind int

const (
	KindComputeChunk Kind = iota + 1
	KindMapGet
	KindMapPut
	KindChannelSend
	KindChannelReceive
)

func (k Kind) String() string {
	switch k {
	case KindComputeChunk:
		return "compute_chunk"
	case KindMapGet:
		return "map_get"
	case KindMapPut:
		return "map_put"
	case KindChannelSend:
		return "channel_send"
	case KindChannelReceive:
		return "channel_receive"
	default:
		return "unknown"
	}
}

// Range は半開区間 [From, To)
type Range struct {
	From int64 `json:"from" yaml:"from"`
	To   int64 `json:"to" yaml:"to"`
}

// Len は区間の長さを返す（空または逆転した区間は 0）。
// 幅が int64 に収まらない区間は -1 を返す
func (r Range) Len() int64 {
	if r.To <= r.From {
		return 0
	}
	n := r.To - r.From
	if n < 0 {
		return -1
	}
	return n
}

// Validate は区間の幅が int64 に収まることを確認する
func (r Range) Validate() error {
	if r.Len() < 0 {
		return fmt.Errorf("%w: %s", ErrRangeTooLarge, r)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.From, r.To)
}

// Descriptor はワーカーのディスパッチャが一度だけ消費する作業単位
type Descriptor struct {
	ID    uuid.UUID
	Kind  Kind
	Range Range
	Key   string
	Value []byte

	claimed atomic.Bool
}

func newDescriptor(kind Kind) *Descriptor {
	return &Descriptor{ID: uuid.New(), Kind: kind}
}

// ComputeChunk は区間の部分和を計算するタスクを作成する
func ComputeChunk(r Range) *Descriptor {
	d := newDescriptor(KindComputeChunk)
	d.Range = r
	return d
}

// MapGet は共有マップの読み出しタスクを作成する
func MapGet(key string) *Descriptor {
	d := newDescriptor(KindMapGet)
	d.Key = key
	return d
}

// MapPut は共有マップへの書き込みタスクを作成する
func MapPut(key string, value []byte) *Descriptor {
	d := newDescriptor(KindMapPut)
	d.Key = key
	d.Value = value
	return d
}

// ChannelSend は共有チャネルへの送信タスクを作成する
func ChannelSend(value []byte) *Descriptor {
	d := newDescriptor(KindChannelSend)
	d.Value = value
	return d
}

// ChannelReceive は共有チャネルからの受信タスクを作成する
func ChannelReceive() *Descriptor {
	return newDescriptor(KindChannelReceive)
}

// Claim は記述子を消費済みにする。二度目以降は ErrAlreadyConsumed を返す
func (d *Descriptor) Claim() error {
	if d.claimed.Swap(true) {
		return fmt.Errorf("%w: %s", ErrAlreadyConsumed, d)
	}
	return nil
}

// Claimed は消費済みかどうかを返す
func (d *Descriptor) Claimed() bool {
	return d.claimed.Load()
}

func (d *Descriptor) String() string {
	switch d.Kind {
	case KindComputeChunk:
		return fmt.Sprintf("%s%s#%s", d.Kind, d.Range, d.ID.String()[:8])
	case KindMapGet, KindMapPut:
		return fmt.Sprintf("%s(%q)#%s", d.Kind, d.Key, d.ID.String()[:8])
	default:
		return fmt.Sprintf("%s#%s", d.Kind, d.ID.String()[:8])
	}
}

// Result はタスクの実行結果。どのフィールドが有効かは Kind に依存する
type Result struct {
	Kind  Kind
	Sum   int64
	Value []byte
	Found bool
}
