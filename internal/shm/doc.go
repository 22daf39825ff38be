// Package shm models the single shared memory region every worker attaches
// to.
//
// The coordinator creates one Region per pool from a ModuleImage. The
// region owns the shared map (shmap) and the shared channel (channel); both
// are reachable only through an Attachment, which a worker obtains by
// presenting the region's Handle during bootstrap:
//
//	region := shm.NewRegion(image)
//	att, err := region.Attach(workerID, region.Handle())
//	if errors.Is(err, shm.ErrHandleMismatch) {
//	    // the worker was given another region's handle or another image
//	}
//	att.Map().Put("k", []byte("v"))
//
// Workers run as goroutines of one process, so attaching grants access to
// the same heap objects rather than mapping pages. The region header still
// carries a magic value, a layout version, an atomic attached-worker count
// and a closed flag so that attach is validated the same way a mapped
// segment would be.
package shm
