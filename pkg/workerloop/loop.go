package workerloop

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/demux"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/cuemby/fleetd/pkg/tasks"
	"github.com/cuemby/fleetd/pkg/timers"
	"github.com/rs/zerolog"
)

// ReseedInterval bounds how often the loop asks the key manager for fresh
// entropy.
const ReseedInterval = 5 * time.Minute

// SweepInterval bounds how often inactive connections are swept, step 10
// of the main iteration.
const SweepInterval = 500 * time.Millisecond

const (
	signalDeadline  = 10 * time.Millisecond
	taskDeadline    = 10 * time.Millisecond
	httpDeadline    = 100 * time.Millisecond
	defaultDeadline = time.Second
)

// Config carries every collaborator the loop needs for one general
// worker's lifetime, wired up by the caller's post-fork prelude.
type Config struct {
	Slot    int
	Region  *region.Region
	Lock    AcceptLock
	Demux   Demux
	Peer    Endpoint
	Timers  *timers.Queue
	Tasks   *tasks.Queue
	HTTP    HTTPEngine
	Conns   ConnTracker
	Hooks   Hooks
	Log     zerolog.Logger

	// Dispatch handles every inbound frame drained from Peer each
	// iteration (CERTIFICATE, CRL, ACME_CHALLENGE_*, ENTROPY_RESP pushed
	// down from KEYMGR). Nil skips inbound processing.
	Dispatch InboundDispatcher

	// ListenerFDs are armed for readability while the lock is held and
	// disarmed when it is released.
	ListenerFDs []int

	// KeymgrActive gates the periodic ENTROPY_REQ; false for a
	// configuration with no active key manager.
	KeymgrActive bool

	// Now defaults to time.Now; overridable so tests can control the
	// clock driving step 1 and the reseed/sweep cadences.
	Now func() time.Time
}

// Loop runs a single general worker's main iteration until told to quit.
type Loop struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	quit           int32 // atomic; set by handleSignals once a quit signal is drained
	sigCh          chan os.Signal
	lastEntropyReq time.Time
	lastSweep      time.Time
	restarted      bool
	listenersArmed bool
}

// New builds a Loop from cfg. restarted mirrors the shared region's
// Restarted flag for this slot at construction time, driving the
// proactive CERTIFICATE_REQ in the post-fork prelude.
func New(cfg Config) *Loop {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	restarted := false
	if cfg.Region != nil {
		restarted = cfg.Region.GetSlot(cfg.Slot).Restarted
	}
	return &Loop{
		cfg:       cfg,
		log:       cfg.Log,
		now:       now,
		restarted: restarted,
	}
}

// Prelude runs the post-fork setup: arms the OS signal channel, sends a
// proactive certificate refresh request if this slot was respawned, then
// runs the configure and onload hooks in order, clearing the restarted
// flag in the shared region once hooks complete.
func (l *Loop) Prelude(ctx *Context) error {
	l.sigCh = make(chan os.Signal, 8)
	signal.Notify(l.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGCHLD)

	if l.restarted && l.cfg.Peer != nil {
		if err := l.cfg.Peer.TrySend(control.Frame{Kind: control.KindCertificateReq, To: control.TargetKeymgr}); err != nil {
			l.log.Warn().Err(err).Msg("certificate refresh request on restart failed")
		}
	}

	if err := l.cfg.Hooks.run(l.cfg.Hooks.Configure, ctx); err != nil {
		return err
	}
	if err := l.cfg.Hooks.run(l.cfg.Hooks.Onload, ctx); err != nil {
		return err
	}

	if l.cfg.Region != nil {
		l.cfg.Region.SetRestarted(l.cfg.Slot, false)
	}
	l.restarted = false
	return nil
}

// RunOnce executes exactly one main iteration (steps 1-10). It returns
// true when the loop should break (quit was set in step 8).
func (l *Loop) RunOnce() bool {
	now := l.now() // step 1

	if l.cfg.KeymgrActive && l.cfg.Peer != nil && now.Sub(l.lastEntropyReq) > ReseedInterval { // step 2
		if err := l.cfg.Peer.TrySend(control.Frame{Kind: control.KindEntropyReq, To: control.TargetKeymgr}); err == nil {
			l.lastEntropyReq = now
		}
	}

	if l.cfg.Lock != nil && !l.cfg.Lock.HasLock() { // step 3
		if l.cfg.Lock.TryAcquire() {
			l.armListeners()
		}
	}

	deadline := l.computeDeadline(now) // step 4

	if l.cfg.Demux != nil {
		ready, err := l.cfg.Demux.Wait(deadline) // step 5
		if err == nil {
			l.dispatchReady(ready)
		}
	}
	now = l.now() // refresh now

	l.drainInbound()

	if l.cfg.Lock != nil && l.cfg.Lock.HasLock() { // step 6
		if l.cfg.Lock.MaybeRelease() {
			l.disarmListeners()
		}
	}

	quit := l.handleSignals() // step 7
	if quit { // step 8
		return true
	}

	if l.cfg.Timers != nil { // step 9
		l.cfg.Timers.RunExpired()
	}
	if l.cfg.HTTP != nil {
		l.cfg.HTTP.Drive()
	}
	if l.cfg.Tasks != nil {
		l.cfg.Tasks.Drain()
	}

	if l.cfg.Conns != nil && now.Sub(l.lastSweep) >= SweepInterval { // step 10
		l.cfg.Conns.SweepInactive(SweepInterval, now)
		l.cfg.Conns.PruneDisconnected()
		l.lastSweep = now
	}

	return false
}

// Run executes the Prelude, then drives RunOnce in a loop until it
// reports quit, then runs Shutdown.
func (l *Loop) Run(ctx *Context) error {
	if err := l.Prelude(ctx); err != nil {
		return err
	}
	for !l.RunOnce() {
	}
	return l.Shutdown()
}

// Shutdown invokes the teardown hook, notifies the supervisor, and closes
// the loop's collaborators in reverse order of initialization.
func (l *Loop) Shutdown() error {
	var hookErr error
	if l.cfg.Peer != nil {
		hookErr = l.cfg.Hooks.run(l.cfg.Hooks.Teardown, &Context{
			Slot: l.cfg.Slot, Region: l.cfg.Region, Log: l.log,
			Timers: l.cfg.Timers, Tasks: l.cfg.Tasks,
		})
		if err := l.cfg.Peer.TrySend(control.Frame{Kind: control.KindShutdown, To: control.TargetParent}); err != nil {
			l.log.Warn().Err(err).Msg("shutdown notification failed")
		}
		l.cfg.Peer.Close()
	}
	if l.cfg.Demux != nil {
		l.cfg.Demux.Close()
	}
	return hookErr
}

func (l *Loop) computeDeadline(now time.Time) time.Duration {
	deadline := defaultDeadline
	if l.cfg.Timers != nil {
		if d, ok := l.cfg.Timers.NextDeadline(); ok {
			deadline = d
		}
	}
	if atomic.LoadInt32(&l.quit) != 0 || len(l.sigCh) > 0 {
		deadline = min(deadline, signalDeadline)
	}
	if l.cfg.HTTP != nil && l.cfg.HTTP.InFlight() {
		deadline = min(deadline, httpDeadline)
	}
	if l.cfg.Tasks != nil && l.cfg.Tasks.Pending() {
		deadline = min(deadline, taskDeadline)
	}
	return deadline
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// drainInbound dispatches every frame currently buffered on Peer, capped
// so a misbehaving sender can't starve the rest of the iteration.
// ACCEPT_AVAILABLE goes to the accept lock's availability latch; every
// other kind goes to Dispatch.
func (l *Loop) drainInbound() {
	if l.cfg.Peer == nil || l.cfg.Dispatch == nil {
		return
	}
	const maxPerIteration = 64
	for i := 0; i < maxPerIteration; i++ {
		f, err := l.cfg.Peer.TryRecv()
		if err != nil {
			return
		}
		if f.Kind == control.KindAcceptAvailable {
			if l.cfg.Lock != nil {
				l.cfg.Lock.NotifyAcceptAvailable()
			}
			continue
		}
		l.cfg.Dispatch.Dispatch(f)
	}
}

// dispatchReady is a hook point for a real HTTP/TLS engine to pull
// readable listener fds off; a configured HTTPEngine is driven from
// RunOnce's step 9 instead, so this does nothing.
func (l *Loop) dispatchReady(ready []demux.Ready) {}

func (l *Loop) armListeners() {
	if l.listenersArmed || l.cfg.Demux == nil {
		return
	}
	for _, fd := range l.cfg.ListenerFDs {
		if err := l.cfg.Demux.Watch(fd, demux.Readable); err != nil {
			l.log.Warn().Err(err).Int("fd", fd).Msg("arm listener failed")
		}
	}
	l.listenersArmed = true
}

func (l *Loop) disarmListeners() {
	if !l.listenersArmed || l.cfg.Demux == nil {
		return
	}
	for _, fd := range l.cfg.ListenerFDs {
		if err := l.cfg.Demux.Unwatch(fd); err != nil {
			l.log.Warn().Err(err).Int("fd", fd).Msg("disarm listener failed")
		}
	}
	l.listenersArmed = false
}

// handleSignals drains the pending OS signal (if any) and applies step 7's
// dispatch: SIGHUP is logged as a reload request (nothing is reloaded),
// SIGINT/SIGQUIT/SIGTERM quit, SIGCHLD is a no-op (fleetd workers spawn
// no subprocesses), others are ignored. It returns true once a quit signal has been seen.
func (l *Loop) handleSignals() bool {
	for {
		select {
		case sig := <-l.sigCh:
			switch sig {
			case syscall.SIGHUP:
				l.log.Info().Msg("reload requested")
			case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
				atomic.StoreInt32(&l.quit, 1)
			case syscall.SIGCHLD:
				// No embedded subprocesses in a general worker today.
			}
		default:
			return atomic.LoadInt32(&l.quit) != 0
		}
	}
}
