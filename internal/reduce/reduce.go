package reduce

import (
	"context"
	"errors"
	"fmt"

	"shared-workers/internal/future"
	"shared-workers/internal/logger"
	"shared-workers/internal/pool"
	"shared-workers/internal/task"
)

// ErrPartialComputeFailure は一部のチャンク計算が失敗したことを示す
var ErrPartialComputeFailure = errors.New("partial compute failure")

// DefaultRange はデフォルトの総和区間
var DefaultRange = task.Range{From: 0, To: 100000}

// Submitter はチャンク計算を実行するプール
type Submitter interface {
	Submit(desc *task.Descriptor) *future.Future[task.Result]
	ComputeCapacity() int
}

var _ Submitter = (*pool.Manager)(nil)

// Config はスケジューラの設定
type Config struct {
	ChunkCount int        // チャンク数の上限（0でプールサイズ）
	Default    task.Range // SumDefault の区間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{Default: DefaultRange}
}

// Scheduler は区間の総和をプールのワーカーに分散して計算する
type Scheduler struct {
	cfg  Config
	pool Submitter
}

// New は新しいスケジューラを作成する
func New(p Submitter, cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg, pool: p}
}

// Chunks は r を min(n, 長さ) 個の連続した部分区間に分割する
func Chunks(r task.Range, n int) []task.Range {
	return task.Split(r, n)
}

// chunkCount は min(ChunkCount, 計算ワーカー数) を返す
func (s *Scheduler) chunkCount() int {
	n := s.pool.ComputeCapacity()
	if s.cfg.ChunkCount > 0 && s.cfg.ChunkCount < n {
		n = s.cfg.ChunkCount
	}
	return n
}

// Sum は r の総和を計算する。いずれかのチャンクが失敗すると
// ErrPartialComputeFailure で失敗し、部分的な値は返さない
func (s *Scheduler) Sum(r task.Range) *future.Future[int64] {
	if err := r.Validate(); err != nil {
		return future.Failed[int64](err)
	}
	if r.Len() == 0 {
		return future.Resolved[int64](0)
	}
	n := s.chunkCount()
	if n == 0 {
		return future.Failed[int64](fmt.Errorf("%w: %w", ErrPartialComputeFailure, pool.ErrNoEligibleWorker))
	}

	chunks := Chunks(r, n)
	futs := s.submit(chunks)
	logger.Debug("", "Sum %s split into %d chunks", r, len(chunks))

	out := future.New[int64]()
	out.OnCancel(func() bool {
		for _, f := range futs {
			f.Cancel()
		}
		return true
	})

	go func() {
		sum, failed := collect(context.Background(), chunks, futs)
		if len(failed) > 0 {
			out.Reject(partialFailure(failed))
			return
		}
		out.Resolve(sum)
	}()
	return out
}

// SumDefault は設定されたデフォルト区間の総和を計算する
func (s *Scheduler) SumDefault() *future.Future[int64] {
	r := s.cfg.Default
	if r.Len() == 0 {
		r = DefaultRange
	}
	return s.Sum(r)
}

// SumWithRetry は失敗したチャンクだけを最大 attempts 回まで再投入して r の総和を計算する。
// チャンク計算は副作用を持たないので再実行できる
func (s *Scheduler) SumWithRetry(ctx context.Context, r task.Range, attempts int) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if r.Len() == 0 {
		return 0, nil
	}
	n := s.chunkCount()
	if n == 0 {
		return 0, fmt.Errorf("%w: %w", ErrPartialComputeFailure, pool.ErrNoEligibleWorker)
	}
	if attempts < 1 {
		attempts = 1
	}

	var total int64
	remaining := Chunks(r, n)
	var failed map[task.Range]error

	for attempt := 1; attempt <= attempts && len(remaining) > 0; attempt++ {
		sum, errs := collect(ctx, remaining, s.submit(remaining))
		var err error
		if total, err = task.AddSum(total, sum); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrPartialComputeFailure, err)
		}
		failed = errs

		remaining = remaining[:0:0]
		for chunk, err := range errs {
			// 再実行しても結果の変わらない失敗は打ち切る
			if errors.Is(err, pool.ErrPoolClosed) || errors.Is(err, task.ErrSumOverflow) || ctx.Err() != nil {
				return 0, partialFailure(errs)
			}
			remaining = append(remaining, chunk)
		}
		if len(remaining) > 0 && attempt < attempts {
			logger.Warn("", "Retrying %d failed chunks of %s (attempt %d/%d)", len(remaining), r, attempt+1, attempts)
		}
	}

	if len(failed) > 0 {
		return 0, partialFailure(failed)
	}
	return total, nil
}

func (s *Scheduler) submit(chunks []task.Range) []*future.Future[task.Result] {
	futs := make([]*future.Future[task.Result], len(chunks))
	for i, c := range chunks {
		futs[i] = s.pool.Submit(task.ComputeChunk(c))
	}
	return futs
}

// collect は全チャンクの結果を待ち、成功した部分和の合計と失敗したチャンクを返す。
// 合計がオーバーフローしたチャンクは ErrSumOverflow で失敗扱いにする
func collect(ctx context.Context, chunks []task.Range, futs []*future.Future[task.Result]) (int64, map[task.Range]error) {
	var sum int64
	var failed map[task.Range]error
	fail := func(chunk task.Range, err error) {
		if failed == nil {
			failed = make(map[task.Range]error)
		}
		failed[chunk] = err
	}
	for i, f := range futs {
		res, err := f.Await(ctx)
		if err != nil {
			fail(chunks[i], err)
			continue
		}
		next, err := task.AddSum(sum, res.Sum)
		if err != nil {
			fail(chunks[i], err)
			continue
		}
		sum = next
	}
	return sum, failed
}

func partialFailure(failed map[task.Range]error) error {
	errs := make([]error, 0, len(failed))
	for chunk, err := range failed {
		errs = append(errs, fmt.Errorf("chunk %s: %w", chunk, err))
	}
	return fmt.Errorf("%w: %d chunks failed: %w", ErrPartialComputeFailure, len(failed), errors.Join(errs...))
}
