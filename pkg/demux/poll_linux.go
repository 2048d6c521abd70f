//go:build linux

package demux

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PollDemux is a poll(2)-based Demux. It rebuilds its pollfd slice lazily on
// Wait, which is cheap for the small, slowly-changing fd sets (one or two
// listeners plus the control channel) a worker watches.
type PollDemux struct {
	watch map[int]Events
}

// New returns a PollDemux ready to use.
func New() *PollDemux {
	return &PollDemux{watch: make(map[int]Events)}
}

func (p *PollDemux) Watch(fd int, events Events) error {
	p.watch[fd] = events
	return nil
}

func (p *PollDemux) Unwatch(fd int) error {
	delete(p.watch, fd)
	return nil
}

func (p *PollDemux) Close() error {
	p.watch = nil
	return nil
}

func (p *PollDemux) Wait(deadline time.Duration) ([]Ready, error) {
	if len(p.watch) == 0 {
		if deadline > 0 {
			time.Sleep(deadline)
		}
		return nil, nil
	}

	fds := make([]unix.PollFd, 0, len(p.watch))
	order := make([]int, 0, len(p.watch))
	for fd, ev := range p.watch {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(ev)})
		order = append(order, fd)
	}

	timeoutMs := int(deadline / time.Millisecond)
	if deadline > 0 && timeoutMs == 0 {
		timeoutMs = 1
	}
	if deadline <= 0 {
		timeoutMs = 0
	}

	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("demux: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]Ready, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		ready = append(ready, Ready{FD: order[i], Events: fromPollEvents(pfd.Revents)})
	}
	return ready, nil
}

func toPollEvents(e Events) int16 {
	var out int16
	if e&Readable != 0 {
		out |= unix.POLLIN
	}
	if e&Writable != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func fromPollEvents(e int16) Events {
	var out Events
	if e&unix.POLLIN != 0 {
		out |= Readable
	}
	if e&unix.POLLOUT != 0 {
		out |= Writable
	}
	if e&unix.POLLERR != 0 {
		out |= Error
	}
	if e&unix.POLLHUP != 0 {
		out |= Hangup
	}
	return out
}
