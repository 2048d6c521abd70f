package workerloop

import (
	"time"

	"github.com/cuemby/fleetd/pkg/acceptlock"
	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/demux"
	"github.com/cuemby/fleetd/pkg/keymgr"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/cuemby/fleetd/pkg/tasks"
	"github.com/cuemby/fleetd/pkg/timers"
	"github.com/rs/zerolog"
)

// Context is passed to configure/onload/teardown hooks, giving them access
// to the loop's long-lived subsystems without exposing the loop's private
// iteration state.
type Context struct {
	Slot   int
	Region *region.Region
	Log    zerolog.Logger
	Timers *timers.Queue
	Tasks  *tasks.Queue
}

// Hook is the contract configure/onload/teardown hooks implement. A nil
// Hook field is skipped; absence is not an error.
type Hook func(*Context) error

// Hooks bundles the three runtime extension points the loop calls at
// well-defined points: once after setup (Configure, then Onload), and once
// before shutdown begins (Teardown).
type Hooks struct {
	Configure Hook
	Onload    Hook
	Teardown  Hook
}

func (h Hooks) run(which Hook, ctx *Context) error {
	if which == nil {
		return nil
	}
	return which(ctx)
}

// HTTPEngine is the narrow interface the loop drives once per iteration.
// A real HTTP/TLS engine is out of scope; fleetd's own tests use a fake.
type HTTPEngine interface {
	// InFlight reports whether any HTTP request is currently being
	// served, used to shorten the demultiplexer deadline.
	InFlight() bool
	// Drive advances any in-progress request processing by one step.
	Drive()
}

// ConnTracker is the narrow interface the loop uses to drive the 500ms
// inactivity sweep and disconnect pruning.
type ConnTracker interface {
	Active() int
	SweepInactive(olderThan time.Duration, now time.Time) int
	PruneDisconnected() int
}

// AcceptLock is the subset of acceptlock.Controller the loop depends on,
// narrowed so tests can substitute a fake.
type AcceptLock interface {
	Bypass() bool
	HasLock() bool
	NotifyAcceptAvailable()
	TryAcquire() bool
	MaybeRelease() bool
}

var _ AcceptLock = (*acceptlock.Controller)(nil)

// Endpoint is the subset of channel.Endpoint the loop depends on, so
// tests can substitute a fake control-channel peer.
type Endpoint interface {
	TrySend(f control.Frame) error
	TryRecv() (control.Frame, error)
	Close() error
}

// InboundDispatcher handles one inbound control frame addressed to this
// worker (e.g. keymgr.Handler installing a pushed CERTIFICATE/CRL/
// ACME_CHALLENGE_* or reseeding the local entropy pool from an
// ENTROPY_RESP). A nil Dispatch in Config skips inbound processing
// entirely, which is fine for tests that only exercise the loop's timing.
type InboundDispatcher interface {
	Dispatch(f control.Frame)
}

var _ InboundDispatcher = (*keymgr.Handler)(nil)

// Demux is the subset of demux.Demux the loop depends on, narrowed to
// avoid forcing tests onto the real poll(2)-backed implementation.
type Demux interface {
	Watch(fd int, events demux.Events) error
	Unwatch(fd int) error
	Wait(deadline time.Duration) ([]demux.Ready, error)
	Close() error
}

var _ Demux = (*demux.PollDemux)(nil)
var _ Demux = (*demux.Fake)(nil)
var _ Endpoint = (*channel.Endpoint)(nil)
