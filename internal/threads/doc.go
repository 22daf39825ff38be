// Package threads provides the data-parallel goroutine pool that compute
// tasks fan out onto inside a worker.
//
// The Pool manages a fixed number of goroutines that process jobs from a
// shared buffered queue. It is shared by every worker of a pool manager, in
// the same way a single work-stealing pool serves all workers of a compute
// runtime.
//
// # Basic Usage
//
//	tp := threads.New(threads.Config{NumThreads: 8})
//	tp.Start(ctx)
//	defer tp.Stop()
//
//	f := threads.Go(tp, func() (int64, error) {
//	    return sumRange(0, 1000), nil
//	})
//	v, err := f.Await(ctx)
//
// # Shutdown
//
// Stop waits for running jobs to return. Jobs still queued are discarded
// and Go futures that could not be queued are rejected with ErrStopped.
package threads
