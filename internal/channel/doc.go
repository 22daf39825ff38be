// Package channel provides the cross-thread handoff channel of the shared
// region.
//
// Sends never block: a value is either handed directly to the oldest
// registered receiver or appended to an unbounded FIFO queue. Receive
// returns a future.Future that is already resolved when a value is queued,
// and otherwise registers the caller as a waiter.
//
// # Ordering
//
// Values are delivered in send order and each value reaches exactly one
// receiver. Concurrent receivers are served in the order they registered.
//
//	ch := channel.New[string]()
//	first := ch.Receive()
//	second := ch.Receive()
//	_ = ch.Send("First")  // resolves first
//	_ = ch.Send("Second") // resolves second
//
// # Cancellation and Close
//
// Cancel on a pending receive future withdraws the registration if no value
// has been handed to it yet. Close rejects every pending receiver with
// ErrChannelClosed and makes further Sends fail; values queued before Close
// can still be drained.
package channel
