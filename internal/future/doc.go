// Package future provides a minimal single-assignment future.
//
// A Future is settled exactly once, either with a value (Resolve) or an
// error (Reject). Callers wait with Await, select on Done, or poll with
// Result. Abandoning a Future is always safe; the producer still settles it.
//
// Producers that can withdraw pending work (for example a channel waiter
// registration) install a hook with OnCancel; Cancel then settles the
// Future with ErrCanceled only if the hook reports success.
package future
