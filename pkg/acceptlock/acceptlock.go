package acceptlock

import (
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/rs/zerolog"
)

// Solo is the worker count at which lock coordination is bypassed
// because contention among so few workers is not worthwhile. Only an
// exact match triggers the bypass (see Bypass).
const Solo = 3

// LoadGates bundles the two thresholds whose exceedance forces a holder
// to release. HTTPInFlight/RequestLimit are nil/zero when HTTP support is
// not compiled in.
type LoadGates struct {
	ActiveConnections func() int
	MaxConnections    int

	HTTPInFlight func() int
	RequestLimit int
}

// Tripped reports whether either gate has been exceeded.
func (g LoadGates) Tripped() bool {
	if g.ActiveConnections != nil && g.ActiveConnections() >= g.MaxConnections {
		return true
	}
	if g.HTTPInFlight != nil && g.RequestLimit > 0 && g.HTTPInFlight() >= g.RequestLimit {
		return true
	}
	return false
}

// Broadcaster sends ACCEPT_AVAILABLE to every live general worker. It
// returns an error if the message could not be enqueued; a failed
// broadcast is logged, not retried.
type Broadcaster func() error

// Controller drives the accept-lock protocol for a single worker process.
type Controller struct {
	reg         *region.Region
	slot        int
	pid         int32
	workerCount int
	listeners   bool
	gates       LoadGates
	broadcast   Broadcaster
	log         zerolog.Logger

	peerAvailable bool
}

// New creates a Controller for the given worker slot. workerCount is the
// total number of worker processes (general + KEYMGR + ACME); listeners
// reports whether any listening sockets exist. Both feed the bypass rule.
func New(reg *region.Region, slot int, pid int32, workerCount int, listeners bool, gates LoadGates, broadcast Broadcaster, log zerolog.Logger) *Controller {
	return &Controller{
		reg:         reg,
		slot:        slot,
		pid:         pid,
		workerCount: workerCount,
		listeners:   listeners,
		gates:       gates,
		broadcast:   broadcast,
		log:         log,
		// A freshly started worker should be able to make its first
		// acquisition attempt without waiting for a broadcast that may
		// never come (e.g. it is the only general worker currently up).
		peerAvailable: true,
	}
}

// Bypass reports whether lock coordination is skipped entirely: worker
// count equals Solo, or there are no listening sockets.
func (c *Controller) Bypass() bool {
	return c.workerCount == Solo || !c.listeners
}

// HasLock reports whether this worker currently holds accept capability.
// Under bypass it is unconditionally true.
func (c *Controller) HasLock() bool {
	if c.Bypass() {
		return true
	}
	return c.reg.HasLock(c.slot)
}

// NotifyAcceptAvailable records that a peer announced availability; call
// this when an ACCEPT_AVAILABLE message is received.
func (c *Controller) NotifyAcceptAvailable() {
	c.peerAvailable = true
}

// TryAcquire attempts to acquire the lock: only when the worker does not
// already hold it, a peer has signalled availability since the last
// release, and both load gates pass. It returns true if the worker now
// holds accept capability (including the bypass case, where no CAS is
// performed at all).
func (c *Controller) TryAcquire() bool {
	if c.Bypass() {
		return true
	}
	if c.reg.HasLock(c.slot) {
		return false
	}
	if !c.peerAvailable {
		return false
	}
	if c.gates.Tripped() {
		return false
	}
	if !c.reg.TryAcquire(c.pid) {
		return false
	}
	c.reg.SetHasLock(c.slot, true)
	c.peerAvailable = false
	metrics.AcceptLockAcquiresTotal.Inc()
	metrics.AcceptLockHeld.Set(1)
	return true
}

// MaybeRelease evaluates the release condition once per loop iteration:
// if holding and a load gate has tripped, release and broadcast. Returns
// true if a release occurred.
func (c *Controller) MaybeRelease() bool {
	if c.Bypass() {
		return false
	}
	if !c.reg.HasLock(c.slot) {
		return false
	}
	if !c.gates.Tripped() {
		return false
	}
	return c.release("load_gate")
}

// MakeBusy is the voluntary "force release" entry point for long-running
// handlers that want to give up accept capability early, subject to the
// same bypass check.
func (c *Controller) MakeBusy() bool {
	if c.Bypass() {
		return false
	}
	if !c.reg.HasLock(c.slot) {
		return false
	}
	return c.release("make_busy")
}

func (c *Controller) release(trigger string) bool {
	ok := c.reg.Release()
	if !ok {
		c.log.Warn().Str("trigger", trigger).Msg("accept lock CAS mismatch on release")
	}
	c.reg.SetHasLock(c.slot, false)
	metrics.AcceptLockHeld.Set(0)
	metrics.AcceptLockReleasesTotal.WithLabelValues(trigger).Inc()

	if err := c.broadcast(); err != nil {
		c.log.Warn().Err(err).Msg("failed to enqueue ACCEPT_AVAILABLE broadcast")
	}
	return ok
}

// RecoverFromCrash restores the accept-lock invariants after a worker
// holding the lock has crashed: if the region still records deadPID as
// the holder, it is force-released so a peer can progress. It reports
// whether it acted.
func RecoverFromCrash(reg *region.Region, deadPID int32) bool {
	if reg.Holder() != deadPID || !reg.IsLocked() {
		return false
	}
	reg.ForceRelease()
	return true
}
