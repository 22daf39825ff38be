// Package recovery はワーカーの自動再起動機能を提供する。
//
// プールはタスク実行中にパニックしたワーカーや起動に失敗したワーカーを
// Terminated にしたまま放置する。RecoveryManager はプールを定期的に監視し、
// 終了したワーカーを待機時間の後に Manager.Restart で起動し直す。
// 明示的に Start したときだけ動作する。
//
// # 使用例
//
//	config := recovery.DefaultConfig()
//	config.RestartDelay = 500 * time.Millisecond
//	config.MaxRetries = 3
//
//	manager := recovery.New(rt.Pool(), config)
//	manager.Start(ctx)
//	defer manager.Stop()
package recovery
