// Package metrics collects task execution statistics for a worker pool.
//
// Every task a pool settles is recorded with its kind, its latency and
// whether it failed. The collector keeps atomic totals, a per-kind count and
// a bounded sample of successful latencies for the P99 estimate.
//
//	m := metrics.New()
//	start := time.Now()
//	res, err := dispatcher.Dispatch(ctx, desc)
//	m.RecordTask(desc.Kind.String(), time.Since(start), err)
//
//	snap := m.Snapshot()
//	fmt.Printf("tasks=%d failed=%d p99=%v\n", snap.TotalTasks, snap.FailedTasks, snap.P99Latency)
//
// Use NewWithConfig to change the number of latency samples kept between
// calls to Reset. All methods are safe for concurrent use.
package metrics
