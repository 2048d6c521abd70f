package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserved role values for Slot.Role; general workers use their 1..K id.
const (
	RoleKeymgr int32 = -2
	RoleACME   int32 = -1
)

const (
	lockWordSize     = 8  // lock int32 + current int32
	slotFixedSize    = 28 // Idx,Role,CPU,PID,Running,HasLock,Restarted int32
	slotHandlerSize  = 32 // LastHandler [32]byte
	slotTrailerSize  = 4 + 8 // ErrorCount uint32 + LastExitUnixNano int64
	slotSize         = slotFixedSize + slotHandlerSize + slotTrailerSize
)

// Region is the mapped shared-memory area holding the accept lock and the
// worker descriptor table.
type Region struct {
	fd   int
	data []byte
	n    int // number of slots
}

// Size returns the number of bytes Create/Attach must map for n slots.
func Size(n int) int { return lockWordSize + n*slotSize }

// Create allocates and zero-initializes a new shared region sized for n
// worker slots, backed by an anonymous memfd. It must be called before
// any worker is spawned.
func Create(n int) (*Region, error) {
	if n <= 0 {
		return nil, fmt.Errorf("region: slot count must be positive, got %d", n)
	}
	fd, err := unix.MemfdCreate("fleetd-region", 0)
	if err != nil {
		return nil, fmt.Errorf("region: memfd_create: %w", err)
	}
	size := Size(n)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("region: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("region: mmap: %w", err)
	}
	return &Region{fd: fd, data: data, n: n}, nil
}

// Attach maps a region previously created by Create, given its inherited
// file descriptor and the slot count the supervisor passed down (e.g. via
// an environment variable or CLI flag to the re-exec'd worker process).
func Attach(fd int, n int) (*Region, error) {
	if n <= 0 {
		return nil, fmt.Errorf("region: slot count must be positive, got %d", n)
	}
	size := Size(n)
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("region: mmap attach: %w", err)
	}
	return &Region{fd: fd, data: data, n: n}, nil
}

// FD returns the region's backing file descriptor, to be placed in a
// spawned worker's exec.Cmd.ExtraFiles.
func (r *Region) FD() int { return r.fd }

// NumSlots returns the number of worker slots the region holds.
func (r *Region) NumSlots() int { return r.n }

// Close unmaps the region. The supervisor additionally closes the backing
// descriptor; a worker that merely attached should leave the descriptor
// for the kernel to reclaim on process exit.
func (r *Region) Close(closeFD bool) error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	if closeFD {
		return unix.Close(r.fd)
	}
	return nil
}

func (r *Region) checkIndex(i int) {
	if i < 0 || i >= r.n {
		panic(fmt.Sprintf("region: slot index %d out of range [0,%d)", i, r.n))
	}
}

func (r *Region) slotOffset(i int) int {
	r.checkIndex(i)
	return lockWordSize + i*slotSize
}
