// Package region implements the process-shared memory region that holds
// the accept lock and the worker descriptor table: a single
// anonymous-but-fd-backed mapping created once by the supervisor before
// any worker is spawned, and re-attached by each spawned worker via an
// inherited file descriptor.
//
// Layout, in order: an 8-byte lock word (lock int32, current int32)
// followed by N fixed-layout Slot records. No field in either the lock
// word or a Slot is a pointer — nothing in the shared region may own heap
// memory outside it. Scalar fields are read and written with atomic
// loads/stores at fixed byte offsets computed by hand, since the region
// is a []byte obtained from mmap rather than a Go-managed struct; the
// LastHandler name bytes are copied without atomics.
package region
