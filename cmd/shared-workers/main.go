// Package main is the entry point for shared-workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shared-workers/internal/config"
	"shared-workers/internal/events"
	"shared-workers/internal/logger"
	"shared-workers/internal/metrics"
	"shared-workers/internal/workers"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
)

// options はコマンドラインフラグの値
type options struct {
	configFile       string
	computeWorkers   int
	mapWorkers       int
	combined         bool
	workerLocation   string
	bootstrapTimeout time.Duration
	chunks           int
	logLevel         string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("", "%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "shared-workers",
		Short:         "Parallel computation over a pool of workers sharing one memory region",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # [0, 100000) の総和をワーカーで計算
  shared-workers sum

  # 区間とワーカー数を指定
  shared-workers sum --from 0 --to 50 --compute 4

  # チャネルとマップを含むデモを実行
  shared-workers demo --compute 4 --map 1

  # 設定ファイルを使って API サーバーを起動
  shared-workers serve --config workers.yaml --addr :3000`,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flags.IntVar(&opts.computeWorkers, "compute", 0, "計算ワーカー数")
	flags.IntVar(&opts.mapWorkers, "map", 0, "マップワーカー数")
	flags.BoolVar(&opts.combined, "combined", false, "全ワーカーが全種類のタスクを担当する")
	flags.StringVar(&opts.workerLocation, "worker", "", "ワーカーモジュールの場所")
	flags.DurationVar(&opts.bootstrapTimeout, "bootstrap-timeout", 0, "起動ハンドシェイクのタイムアウト (例: 5s)")
	flags.IntVar(&opts.chunks, "chunks", 0, "総和のチャンク数の上限 (0でワーカー数)")
	flags.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	root.AddCommand(
		newSumCmd(opts),
		newDemoCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// buildRuntimeConfig は実行時設定を構築する。
// 設定ファイルの値を読み込み、明示的に指定されたフラグで上書きする
func buildRuntimeConfig(opts *options, changed func(name string) bool) (config.Runtime, error) {
	fileConfig := &config.FileConfig{}

	// 1. 設定ファイルから読み込み
	if opts.configFile != "" {
		var err error
		fileConfig, err = config.LoadFile(opts.configFile)
		if err != nil {
			return config.Runtime{}, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return config.Runtime{}, fmt.Errorf("設定検証エラー: %w", err)
		}
	}

	// 2. デフォルト値で補完
	rc, err := fileConfig.ToRuntimeConfig()
	if err != nil {
		return rc, fmt.Errorf("設定変換エラー: %w", err)
	}

	// 3. フラグが明示的に指定された場合のみオーバーライド
	if changed("compute") {
		if opts.computeWorkers < 0 {
			return rc, fmt.Errorf("--compute must be non-negative")
		}
		rc.ComputeWorkers = opts.computeWorkers
	}
	if changed("map") {
		if opts.mapWorkers < 0 {
			return rc, fmt.Errorf("--map must be non-negative")
		}
		rc.MapWorkers = opts.mapWorkers
	}
	if changed("combined") {
		rc.Workers.Pool.Combined = opts.combined
	}
	if changed("worker") {
		rc.Workers.WorkerLocation = opts.workerLocation
	}
	if changed("bootstrap-timeout") {
		rc.Workers.Pool.BootstrapTimeout = opts.bootstrapTimeout
	}
	if changed("chunks") {
		rc.Workers.Reduce.ChunkCount = opts.chunks
	}
	if changed("log-level") {
		level, err := logger.ParseLevel(opts.logLevel)
		if err != nil {
			return rc, err
		}
		rc.LogLevel = level
	}
	rc.Workers.Pool.ComputeWorkers = rc.ComputeWorkers
	rc.Workers.Pool.MapWorkers = rc.MapWorkers

	return rc, nil
}

// startRuntime は設定に従ってランタイムを起動する
func startRuntime(ctx context.Context, rc config.Runtime, opts ...workers.Option) (*workers.Runtime, error) {
	logger.Default.SetLevel(rc.LogLevel)

	rt := workers.New(rc.Workers, opts...)
	ready, err := rt.InitThreadWorkers(ctx, rc.Workers.WorkerLocation, rc.ComputeWorkers, rc.MapWorkers)
	if err != nil {
		rt.Shutdown()
		return nil, err
	}
	logger.Info("", "%d workers ready (compute=%d, map=%d)", ready, rc.ComputeWorkers, rc.MapWorkers)
	return rt, nil
}

// signalContext は SIGINT/SIGTERM で終了する context を返す
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newObservers はイベントバスとメトリクスを有効にするオプションを返す
func newObservers() ([]workers.Option, *events.Bus) {
	bus := events.NewBus()
	return []workers.Option{workers.WithEvents(bus), workers.WithMetrics(metrics.New())}, bus
}
