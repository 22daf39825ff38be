// Package reduce computes range sums by fanning chunks out over a worker pool.
//
// Sum splits a half-open range into min(ChunkCount, compute workers)
// contiguous chunks, submits one ComputeChunk task per chunk and adds the
// partial sums. Any failed chunk fails the whole sum with
// ErrPartialComputeFailure; no partial value is returned. SumWithRetry
// resubmits failed chunks only, since chunk computation has no side effects.
package reduce
