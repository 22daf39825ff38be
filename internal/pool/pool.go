package pool

import (
	"errors"
	"time"

	"shared-workers/internal/dispatch"
	"shared-workers/internal/shm"
	"shared-workers/internal/task"
)

var (
	// ErrBootstrapFailed はワーカーの起動ハンドシェイクが完了しなかったことを示す
	ErrBootstrapFailed = errors.New("worker bootstrap failed")
	// ErrPoolClosed はシャットダウン済みのプールへの操作で返される
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrWorkerCrashed はタスク実行中にワーカーが異常終了したことを示す
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrNoEligibleWorker はタスクを実行できる稼働中のワーカーがいないことを示す
	ErrNoEligibleWorker = errors.New("no eligible worker")
)

// WorkerID はプール内のワーカー番号（0..N-1）
type WorkerID int

// State はワーカーの状態
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateBusy
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText は State を文字列として出力する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Role はワーカーが担当するタスクの種類
type Role int

const (
	// RoleCompute はチャンク計算を担当する
	RoleCompute Role = iota
	// RoleMap は共有マップ操作を担当する
	RoleMap
	// RoleAny は全種類のタスクを担当する（Combined 構成）
	RoleAny
)

func (r Role) String() string {
	switch r {
	case RoleCompute:
		return "compute"
	case RoleMap:
		return "map"
	case RoleAny:
		return "any"
	default:
		return "unknown"
	}
}

// MarshalText は Role を文字列として出力する
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// preferredRole はタスク種別を優先的に担当するロールを返す。
// チャネル操作はどのワーカーでも実行できる
func preferredRole(k task.Kind) (Role, bool) {
	switch k {
	case task.KindComputeChunk:
		return RoleCompute, true
	case task.KindMapGet, task.KindMapPut:
		return RoleMap, true
	default:
		return RoleAny, false
	}
}

// Config はプールの設定
type Config struct {
	ComputeWorkers   int           // 計算ワーカー数
	MapWorkers       int           // マップワーカー数
	Combined         bool          // true なら全ワーカーが全種類のタスクを担当する
	BootstrapTimeout time.Duration // 起動ハンドシェイクのタイムアウト（0で無制限）
	FanOutThreshold  int64         // チャンク内でスレッドプールに分割する最小長
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		ComputeWorkers:   4,
		MapWorkers:       0,
		BootstrapTimeout: 10 * time.Second,
		FanOutThreshold:  dispatch.DefaultFanOutThreshold,
	}
}

// Size は起動するワーカーの総数を返す
func (c Config) Size() int {
	return c.ComputeWorkers + c.MapWorkers
}

// BootstrapMessage はワーカー起動時に送られる最初のメッセージ
type BootstrapMessage struct {
	Image  shm.ModuleImage
	Handle shm.Handle
}

// WorkerInfo はワーカーの状態のスナップショット
type WorkerInfo struct {
	ID         WorkerID `json:"id"`
	Role       Role     `json:"role"`
	State      State    `json:"state"`
	Generation int      `json:"generation"`
	Completed  uint64   `json:"completed"`
	Failed     uint64   `json:"failed"`
	Current    string   `json:"current,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
}

// Spawner はワーカーの実行コンテキストを生成するホスト
type Spawner interface {
	Spawn(id WorkerID, entry func()) error
}

// GoSpawner はゴルーチンでワーカーを実行するデフォルトのホスト
type GoSpawner struct{}

// Spawn は entry を新しいゴルーチンで実行する
func (GoSpawner) Spawn(_ WorkerID, entry func()) error {
	go entry()
	return nil
}
