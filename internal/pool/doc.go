// Package pool manages a fixed set of workers attached to one shared region.
//
// A Manager brings workers online with a two-phase handshake. Launch spawns
// every worker through a Spawner and posts it a BootstrapMessage carrying the
// module image and the region handle. The worker attaches to the region,
// builds its dispatcher and answers with a Ready control message; only then
// does the manager hand it tasks. WaitReady reports ErrBootstrapFailed when a
// worker fails to attach or instantiate, or when the bootstrap timeout
// elapses. Failed workers are not retried automatically; Restart brings a
// terminated worker back under the same WorkerID.
//
// Submit never blocks. Tasks go onto a single pool-level pending queue that is
// drained, round-robin, into idle Ready workers whose role accepts the task
// kind. Tasks submitted before bootstrap completes wait in the same queue.
//
//	m := pool.New(pool.DefaultConfig(), region, nil, pool.WithMetrics(mt))
//	if _, err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Shutdown()
//
//	res, err := m.Submit(task.ComputeChunk(task.Range{From: 0, To: 50})).Await(ctx)
//
// A panic inside a task handler rejects that task with ErrWorkerCrashed and
// terminates the worker. Shutdown rejects undelivered tasks with ErrPoolClosed
// and waits for every worker to exit.
package pool
