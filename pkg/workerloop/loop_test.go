package workerloop

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/demux"
	"github.com/cuemby/fleetd/pkg/tasks"
	"github.com/cuemby/fleetd/pkg/timers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	bypass     bool
	hasLock    bool
	available  bool
	acquireOK  bool
	gateTripped bool
	released   int
}

func (f *fakeLock) Bypass() bool  { return f.bypass }
func (f *fakeLock) HasLock() bool { return f.hasLock }
func (f *fakeLock) NotifyAcceptAvailable() { f.available = true }
func (f *fakeLock) TryAcquire() bool {
	if f.acquireOK {
		f.hasLock = true
	}
	return f.hasLock
}
func (f *fakeLock) MaybeRelease() bool {
	if f.hasLock && f.gateTripped {
		f.hasLock = false
		f.released++
		return true
	}
	return false
}

type fakeHTTP struct {
	inFlight bool
	drives   int
}

func (f *fakeHTTP) InFlight() bool { return f.inFlight }
func (f *fakeHTTP) Drive()         { f.drives++ }

type fakeConns struct {
	swept, pruned int
}

func (f *fakeConns) Active() int { return 0 }
func (f *fakeConns) SweepInactive(time.Duration, time.Time) int { f.swept++; return 0 }
func (f *fakeConns) PruneDisconnected() int                     { f.pruned++; return 0 }

type fakeEndpoint struct {
	sent    []control.Frame
	inbound []control.Frame
}

func (f *fakeEndpoint) TrySend(fr control.Frame) error { f.sent = append(f.sent, fr); return nil }
func (f *fakeEndpoint) TryRecv() (control.Frame, error) {
	if len(f.inbound) == 0 {
		return control.Frame{}, channel.ErrNoMessage
	}
	fr := f.inbound[0]
	f.inbound = f.inbound[1:]
	return fr, nil
}
func (f *fakeEndpoint) Close() error { return nil }

type fakeDispatcher struct {
	received []control.Frame
}

func (d *fakeDispatcher) Dispatch(f control.Frame) { d.received = append(d.received, f) }

func TestRunOnceAcquiresLockAndArmsListeners(t *testing.T) {
	lock := &fakeLock{acquireOK: true, available: true}
	d := demux.NewFake()
	l := New(Config{
		Lock:        lock,
		Demux:       d,
		ListenerFDs: []int{7},
		Log:         zerolog.Nop(),
		Now:         func() time.Time { return time.Unix(100, 0) },
	})

	quit := l.RunOnce()
	assert.False(t, quit)
	assert.True(t, lock.hasLock)
	assert.Contains(t, d.Watched, 7)
}

func TestRunOnceReleasesLockOnLoadGate(t *testing.T) {
	lock := &fakeLock{hasLock: true, gateTripped: true}
	d := demux.NewFake()
	l := New(Config{Lock: lock, Demux: d, ListenerFDs: []int{7}, Log: zerolog.Nop(), Now: time.Now})
	l.listenersArmed = true
	d.Watch(7, demux.Readable)

	l.RunOnce()
	assert.Equal(t, 1, lock.released)
	assert.NotContains(t, d.Watched, 7)
}

func TestRunOnceSendsEntropyRequestWhenDue(t *testing.T) {
	ep := &fakeEndpoint{}
	l := New(Config{
		Peer:         ep,
		KeymgrActive: true,
		Log:          zerolog.Nop(),
		Now:          func() time.Time { return time.Unix(1000, 0) },
	})

	l.RunOnce()
	require.Len(t, ep.sent, 1)
	assert.Equal(t, control.KindEntropyReq, ep.sent[0].Kind)
}

func TestRunOnceSkipsEntropyRequestBeforeInterval(t *testing.T) {
	ep := &fakeEndpoint{}
	l := New(Config{Peer: ep, KeymgrActive: true, Log: zerolog.Nop(), Now: func() time.Time { return time.Unix(1000, 0) }})
	l.lastEntropyReq = time.Unix(1000, 0)

	l.RunOnce()
	assert.Len(t, ep.sent, 0)
}

func TestRunOnceRunsTimersTasksAndHTTP(t *testing.T) {
	ran := false
	tq := timers.New(func() time.Time { return time.Unix(5, 0) })
	tq.Schedule(time.Unix(4, 0), func() { ran = true })

	taskQ := tasks.New()
	taskRan := false
	taskQ.Submit(func() { taskRan = true })

	httpEng := &fakeHTTP{}

	l := New(Config{Timers: tq, Tasks: taskQ, HTTP: httpEng, Log: zerolog.Nop(), Now: func() time.Time { return time.Unix(5, 0) }})
	l.RunOnce()

	assert.True(t, ran)
	assert.True(t, taskRan)
	assert.Equal(t, 1, httpEng.drives)
}

func TestRunOnceSweepsConnectionsAfterInterval(t *testing.T) {
	conns := &fakeConns{}
	l := New(Config{Conns: conns, Log: zerolog.Nop(), Now: func() time.Time { return time.Unix(10, 0) }})

	l.RunOnce()
	assert.Equal(t, 1, conns.swept)

	// A second call within the same second should not re-sweep.
	l.RunOnce()
	assert.Equal(t, 1, conns.swept)
}

func TestRunOnceDispatchesInboundFrames(t *testing.T) {
	ep := &fakeEndpoint{inbound: []control.Frame{
		{Kind: control.KindEntropyResp},
		{Kind: control.KindCertificate},
	}}
	disp := &fakeDispatcher{}
	l := New(Config{Peer: ep, Dispatch: disp, Log: zerolog.Nop(), Now: time.Now})

	l.RunOnce()
	require.Len(t, disp.received, 2)
	assert.Equal(t, control.KindEntropyResp, disp.received[0].Kind)
	assert.Equal(t, control.KindCertificate, disp.received[1].Kind)
}

func TestHandleSignalsSetsQuitOnTerm(t *testing.T) {
	l := New(Config{Log: zerolog.Nop(), Now: time.Now})
	l.sigCh = make(chan os.Signal, 1)
	l.sigCh <- syscall.SIGTERM

	assert.True(t, l.handleSignals())
}

func TestHandleSignalsIgnoresSIGCHLDByDefault(t *testing.T) {
	l := New(Config{Log: zerolog.Nop(), Now: time.Now})
	l.sigCh = make(chan os.Signal, 1)
	l.sigCh <- syscall.SIGCHLD

	assert.False(t, l.handleSignals())
}
