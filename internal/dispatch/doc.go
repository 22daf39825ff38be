// Package dispatch implements the per-worker thread entry point.
//
// A Dispatcher is built once a worker has attached to the shared region. The
// pool manager hands it each task.Descriptor delivered to that worker;
// Dispatch claims the descriptor (at-most-once) and routes it by kind:
//
//   - ComputeChunk: sums the chunk, fanning long chunks out over the shared
//     threads.Pool
//   - MapGet / MapPut: operate on the region's shared map
//   - ChannelSend / ChannelReceive: operate on the region's shared channel;
//     a receive is the only point where a worker suspends
//
// Failures are returned as errors, never panics, so the pool manager can
// settle the task's future with them.
package dispatch
