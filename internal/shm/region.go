package shm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"shared-workers/internal/channel"
	"shared-workers/internal/logger"
	"shared-workers/internal/shmap"

	"github.com/google/uuid"
)

// Layout constants
const (
	// Magic bytes for region identification
	RegionMagic = "SHWORK\x00\x00"

	// Current layout version
	RegionVersion = uint32(1)
)

var (
	ErrHandleMismatch = errors.New("shared memory handle mismatch")
	ErrRegionClosed   = errors.New("shared memory region closed")
)

// Handle はリージョンとモジュールイメージを参照する共有可能なケイパビリティ
type Handle struct {
	RegionID uuid.UUID
	Image    ModuleImage
}

// header はリージョンのヘッダ
type header struct {
	magic    [8]byte
	version  uint32
	attached atomic.Int32
	closed   atomic.Bool
}

// Region はコーディネータが一度だけ作成する共有メモリ領域。
// 共有マップと共有チャネルはこの領域に置かれ、Attach したワーカーだけが触れる
type Region struct {
	id    uuid.UUID
	image ModuleImage
	hdr   header

	data *shmap.Map[string, []byte]
	ch   *channel.Channel[[]byte]

	mu          sync.Mutex
	attachments map[int]*Attachment
}

// NewRegion は新しい共有メモリ領域を作成する
func NewRegion(image ModuleImage) *Region {
	r := &Region{
		id:          uuid.New(),
		image:       image,
		data:        shmap.New[string, []byte](),
		ch:          channel.New[[]byte](),
		attachments: make(map[int]*Attachment),
	}
	copy(r.hdr.magic[:], RegionMagic)
	r.hdr.version = RegionVersion

	logger.Debug("", "Region %s created for %s", r.id, image)
	return r
}

// ID はリージョンIDを返す
func (r *Region) ID() uuid.UUID {
	return r.id
}

// Image はリージョンに紐づくモジュールイメージを返す
func (r *Region) Image() ModuleImage {
	return r.image
}

// Handle はワーカーに渡すハンドルを返す
func (r *Region) Handle() Handle {
	return Handle{RegionID: r.id, Image: r.image}
}

// Attach はワーカーをリージョンに接続する。
// ハンドルが別のリージョンやイメージを指している場合は ErrHandleMismatch を返す
func (r *Region) Attach(workerID int, h Handle) (*Attachment, error) {
	if r.hdr.closed.Load() {
		return nil, ErrRegionClosed
	}
	if string(r.hdr.magic[:]) != RegionMagic || r.hdr.version != RegionVersion {
		return nil, fmt.Errorf("corrupt region header (version %d)", r.hdr.version)
	}
	if h.RegionID != r.id {
		return nil, fmt.Errorf("%w: region %s, handle %s", ErrHandleMismatch, r.id, h.RegionID)
	}
	if h.Image.Digest != r.image.Digest {
		return nil, fmt.Errorf("%w: image %s, handle %s", ErrHandleMismatch, r.image, h.Image)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.attachments[workerID]; ok && !prev.detached.Load() {
		return nil, fmt.Errorf("worker %d is already attached to region %s", workerID, r.id)
	}

	a := &Attachment{workerID: workerID, region: r}
	r.attachments[workerID] = a
	r.hdr.attached.Add(1)
	return a, nil
}

// Coordinator はコーディネータ自身のアタッチメントを返す
func (r *Region) Coordinator() *Attachment {
	return &Attachment{workerID: -1, region: r}
}

// Attached は現在接続中のワーカー数を返す
func (r *Region) Attached() int {
	return int(r.hdr.attached.Load())
}

// Closed はリージョンがクローズ済みかどうかを返す
func (r *Region) Closed() bool {
	return r.hdr.closed.Load()
}

// Close はリージョンを閉じ、共有チャネルをクローズする
func (r *Region) Close() {
	if r.hdr.closed.Swap(true) {
		return
	}
	r.ch.Close()
	logger.Debug("", "Region %s closed (%d workers still attached)", r.id, r.Attached())
}

// Attachment はワーカーから見た共有領域
type Attachment struct {
	workerID int
	region   *Region
	detached atomic.Bool
}

// WorkerID は接続しているワーカーIDを返す（コーディネータは -1）
func (a *Attachment) WorkerID() int {
	return a.workerID
}

// Region は接続先のリージョンを返す
func (a *Attachment) Region() *Region {
	return a.region
}

// Map は共有マップを返す
func (a *Attachment) Map() *shmap.Map[string, []byte] {
	return a.region.data
}

// Channel は共有チャネルを返す
func (a *Attachment) Channel() *channel.Channel[[]byte] {
	return a.region.ch
}

// Detach はリージョンから切断する
func (a *Attachment) Detach() {
	if a.workerID < 0 || a.detached.Swap(true) {
		return
	}
	a.region.hdr.attached.Add(-1)
}
