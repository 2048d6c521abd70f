// Package channel implements the transport half of the control channel:
// a non-blocking UNIX stream socket pair, one end kept by the supervisor,
// the other inherited across exec by a spawned worker.
package channel

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Pair creates a connected, non-blocking UNIX stream socket pair to be
// used as a worker's spawn-time control channel. The parent end is
// returned as a ready-to-use net.Conn; the child end is returned as an
// *os.File meant to be placed in exec.Cmd.ExtraFiles so the spawned
// worker inherits it across exec.
//
// The caller must Close the returned child file once the child process has
// been started (the kernel keeps the underlying socket alive via the
// duplicated descriptor in the child).
func Pair() (parent net.Conn, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("channel: socketpair: %w", err)
	}

	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("channel: set nonblock parent: %w", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("channel: set nonblock child: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "fleetd-control-parent")
	parentConn, err := net.FileConn(parentFile)
	if err != nil {
		parentFile.Close()
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("channel: FileConn parent: %w", err)
	}
	// net.FileConn dup'd the descriptor; release our copy.
	parentFile.Close()

	childFile := os.NewFile(uintptr(fds[1]), "fleetd-control-child")
	return parentConn, childFile, nil
}

// FromFD reconstructs the worker-side control channel connection from an
// inherited file descriptor (the slot passed via ExtraFiles lands at fd
// 3+index in the child's descriptor table).
func FromFD(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "fleetd-control")
	conn, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("channel: FileConn fd %d: %w", fd, err)
	}
	f.Close()
	return conn, nil
}
