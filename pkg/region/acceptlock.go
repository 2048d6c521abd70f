package region

import (
	"sync/atomic"
	"unsafe"
)

// Free/Held values for the lock word.
const (
	lockFree int32 = 0
	lockHeld int32 = 1
)

func (r *Region) lockPtr() *int32 {
	return (*int32)(unsafe.Pointer(&r.data[0]))
}

func (r *Region) currentPtr() *int32 {
	return (*int32)(unsafe.Pointer(&r.data[4]))
}

// TryAcquire attempts the single 0→1 compare-and-swap that grants the
// accept lock to pid. On success it records pid as the holder. Failure
// is silent and retried by the caller on its next loop iteration.
func (r *Region) TryAcquire(pid int32) bool {
	if !atomic.CompareAndSwapInt32(r.lockPtr(), lockFree, lockHeld) {
		return false
	}
	atomic.StoreInt32(r.currentPtr(), pid)
	return true
}

// Release clears the holder and performs the 1→0 compare-and-swap. It
// returns false if the lock word was not 1, which the caller logs but
// treats as non-fatal.
func (r *Region) Release() bool {
	atomic.StoreInt32(r.currentPtr(), 0)
	return atomic.CompareAndSwapInt32(r.lockPtr(), lockHeld, lockFree)
}

// ForceRelease unconditionally restores the free state, regardless of the
// current holder. Only the supervisor's reaper calls this, to restore the
// lock invariant after a holder crashes.
func (r *Region) ForceRelease() {
	atomic.StoreInt32(r.currentPtr(), 0)
	atomic.StoreInt32(r.lockPtr(), lockFree)
}

// Holder returns the pid last recorded as the lock holder. It is advisory
// diagnostics, not the synchronization primitive.
func (r *Region) Holder() int32 {
	return atomic.LoadInt32(r.currentPtr())
}

// IsLocked reports whether the lock word is currently held.
func (r *Region) IsLocked() bool {
	return atomic.LoadInt32(r.lockPtr()) == lockHeld
}
