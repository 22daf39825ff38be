package main

import (
	"fmt"
	"time"

	"shared-workers/internal/api"
	"shared-workers/internal/config"
	"shared-workers/internal/recovery"
	"shared-workers/internal/task"

	"github.com/spf13/cobra"
)

func newSumCmd(opts *options) *cobra.Command {
	var (
		from, to int64
		retries  int
	)

	cmd := &cobra.Command{
		Use:   "sum",
		Short: "区間 [from, to) の総和をワーカーで計算する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := buildRuntimeConfig(opts, cmd.Flags().Changed)
			if err != nil {
				return err
			}

			rg := rc.Workers.Reduce.Default
			if cmd.Flags().Changed("from") {
				rg.From = from
			}
			if cmd.Flags().Changed("to") {
				rg.To = to
			}
			if rg.From > rg.To {
				return fmt.Errorf("invalid range %s", rg)
			}
			if err := rg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := startRuntime(ctx, rc)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			start := time.Now()
			var sum int64
			if retries > 0 {
				sum, err = rt.SumWithRetry(ctx, rg, retries+1)
			} else {
				sum, err = rt.SumRangeInWorkers(rg).Await(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sum%s = %d (%v)\n", rg, sum, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "区間の開始（含む）")
	cmd.Flags().Int64Var(&to, "to", 0, "区間の終了（含まない）")
	cmd.Flags().IntVar(&retries, "retries", 0, "失敗したチャンクの再試行回数")
	return cmd
}

func newDemoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "総和・チャネル・共有マップを一通り実行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := buildRuntimeConfig(opts, cmd.Flags().Changed)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := startRuntime(ctx, rc)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "shared-workers demo")
			fmt.Fprintln(out, "===================")

			// 総和
			sum, err := rt.SumInWorkers().Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sum%s = %d\n", rc.Workers.Reduce.Default, sum)

			// チャネル: 受信を先に登録し、送信順に受け取る
			first := rt.ReceiveFromChannel()
			second := rt.ReceiveFromChannel()
			for _, msg := range []string{"First", "Second"} {
				if err := rt.SendToChannel([]byte(msg)); err != nil {
					return err
				}
			}
			v1, err := first.Await(ctx)
			if err != nil {
				return err
			}
			v2, err := second.Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "channel: %s, %s\n", v1, v2)

			// 共有マップ: ワーカー経由で書き込み、コーディネータから読む
			if _, err := rt.Submit(task.MapPut("greeting", []byte("hello from a worker"))).Await(ctx); err != nil {
				return err
			}
			v, ok := rt.GetFromMap("greeting")
			fmt.Fprintf(out, "map[greeting] = %q (found=%v)\n", v, ok)

			return nil
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr        string
		autoRestart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP/WebSocket API サーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := buildRuntimeConfig(opts, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				rc.APIAddr = addr
			}
			if cmd.Flags().Changed("auto-restart") {
				rc.AutoRestart = autoRestart
			}

			ctx, cancel := signalContext()
			defer cancel()

			runtimeOpts, bus := newObservers()
			defer bus.Close()

			rt, err := startRuntime(ctx, rc, runtimeOpts...)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			// 終了したワーカーの自動再起動
			if rc.AutoRestart {
				rm := recovery.New(rt.Pool(), rc.Recovery)
				rm.SetEventBus(bus)
				rm.Start(ctx)
				defer rm.Stop()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Starting server on http://%s\nPress Ctrl+C to stop\n", rc.APIAddr)
			return api.NewServer(rc.APIAddr, rt).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultAPIAddr, "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	cmd.Flags().BoolVar(&autoRestart, "auto-restart", false, "終了したワーカーを自動的に再起動する")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示する",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shared-workers version %s\n", version)
		},
	}
}
