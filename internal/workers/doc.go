// Package workers is the boundary surface of the shared-workers runtime.
//
// A Runtime loads a worker module image, creates the shared region every
// worker attaches to, and brings up the compute and map worker pool:
//
//	rt := workers.New(workers.DefaultConfig())
//	if _, err := rt.InitThreadWorkers(ctx, "worker.js", 4, 0); err != nil {
//	    return err
//	}
//	defer rt.Shutdown()
//
//	sum, err := rt.SumRangeInWorkers(task.Range{From: 0, To: 50}).Await(ctx) // 1225
//
// Channel and map operations issued from the coordinator act on the shared
// region directly. Receivers registered with ReceiveFromChannel are served in
// call order. Submit routes any task descriptor through the pool, so map and
// channel operations can also run inside workers.
//
// Shutdown closes the shared channel first, so pending receivers settle with
// channel.ErrChannelClosed, then stops the pool and the thread pool.
package workers
