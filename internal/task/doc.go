// Package task defines the descriptors routed to worker dispatchers.
//
// A Descriptor is a tagged union over five kinds: ComputeChunk, MapGet,
// MapPut, ChannelSend and ChannelReceive. Build one with the matching
// constructor; each carries a fresh uuid for tracing.
//
// Descriptors are delivered at most once: the consuming dispatcher calls
// Claim, and any later Claim on the same descriptor fails with
// ErrAlreadyConsumed.
package task
