package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/cuemby/fleetd/pkg/acceptlock"
	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Config carries every knob the supervisor's startup sequence needs.
type Config struct {
	// WorkerCount is K, the number of general workers (not counting the
	// two reserved KEYMGR/ACME slots). Zero means "use the detected CPU
	// count".
	WorkerCount int
	// EnableACME spawns the reserved ACME slot. KEYMGR is always spawned.
	EnableACME bool
	Policy     Policy

	// SelfExe and ExtraArgs build the command line each spawned worker
	// re-execs: SelfExe followed by ExtraArgs followed by "internal-worker".
	SelfExe   string
	ExtraArgs []string
}

// numSlots returns N, the general worker count plus the two reserved roles.
func (c Config) numSlots(generalCount int) int {
	return generalCount + 2
}

// Supervisor owns the shared region and the supervisor-local state for
// every worker slot.
type Supervisor struct {
	cfg     Config
	reg     *region.Region
	workers []*worker
	log     zerolog.Logger

	quit bool
}

// New allocates the shared region (startup steps a-c) and prepares slot
// bookkeeping, but does not spawn anything yet.
func New(cfg Config, log zerolog.Logger) (*Supervisor, error) {
	generalCount := cfg.WorkerCount
	if generalCount <= 0 {
		generalCount = runtime.NumCPU()
	}
	n := cfg.numSlots(generalCount)

	reg, err := region.Create(n)
	if err != nil {
		return nil, fmt.Errorf("supervisor: create region: %w", err)
	}

	s := &Supervisor{cfg: cfg, reg: reg, log: log}

	cpus := runtime.NumCPU()
	// Reserved slots occupy the tail: [0, generalCount) general, then
	// ACME (if enabled), then KEYMGR. Without ACME the last region slot
	// stays unused.
	for i := 0; i < generalCount; i++ {
		s.workers = append(s.workers, &worker{
			idx: i,
			role: int32(i + 1),
			cpu:  int32(i % cpus),
			log:  log.With().Int("slot", i).Str("role", "general").Logger(),
		})
	}
	if cfg.EnableACME {
		idx := len(s.workers)
		s.workers = append(s.workers, &worker{
			idx:  idx,
			role: region.RoleACME,
			cpu:  int32(idx % cpus),
			log:  log.With().Int("slot", idx).Str("role", "acme").Logger(),
		})
	}
	keymgrIdx := len(s.workers)
	s.workers = append(s.workers, &worker{
		idx:  keymgrIdx,
		role: region.RoleKeymgr,
		cpu:  int32(keymgrIdx % cpus),
		log:  log.With().Int("slot", keymgrIdx).Str("role", "keymgr").Logger(),
	})

	expected := n
	if !cfg.EnableACME {
		// The ACME slot stays reserved in the region but gets no worker.
		expected--
	}
	if len(s.workers) != expected {
		reg.Close(true)
		return nil, fmt.Errorf("supervisor: slot accounting mismatch: built %d, expected %d", len(s.workers), expected)
	}
	return s, nil
}

// Region exposes the shared region, mainly for tests.
func (s *Supervisor) Region() *region.Region { return s.reg }

// Start spawns every slot (startup steps d-e): general workers first,
// then ACME, then KEYMGR.
func (s *Supervisor) Start() error {
	for _, w := range s.workers {
		if err := s.spawn(w); err != nil {
			return fmt.Errorf("supervisor: spawn slot %d: %w", w.idx, err)
		}
	}
	return nil
}

// spawn implements the spawn protocol: create a non-blocking control
// channel, re-exec the binary as internal-worker with the region and
// child-channel descriptors inherited via ExtraFiles, and record the new
// pid in the shared region. A spawn failure is fatal to the caller.
func (s *Supervisor) spawn(w *worker) error {
	parentConn, childFile, err := channel.Pair()
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}

	regionDup, err := unix.Dup(s.reg.FD())
	if err != nil {
		childFile.Close()
		parentConn.Close()
		return fmt.Errorf("dup region fd: %w", err)
	}
	regionFile := os.NewFile(uintptr(regionDup), "fleetd-region")

	w.spawnID = uuid.NewString()

	args := append(append([]string{}, s.cfg.ExtraArgs...), "internal-worker")
	cmd := exec.Command(s.cfg.SelfExe, args...)
	cmd.ExtraFiles = []*os.File{regionFile, childFile}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("FLEETD_SLOT=%d", w.idx),
		fmt.Sprintf("FLEETD_ROLE=%d", w.role),
		fmt.Sprintf("FLEETD_CPU=%d", w.cpu),
		fmt.Sprintf("FLEETD_NUM_SLOTS=%d", s.reg.NumSlots()),
		fmt.Sprintf("FLEETD_SPAWN_ID=%s", w.spawnID),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		regionFile.Close()
		childFile.Close()
		parentConn.Close()
		return fmt.Errorf("start: %w", err)
	}
	// The child has its own duplicates from the exec-time fd inheritance;
	// release the parent's copies used only to populate ExtraFiles.
	regionFile.Close()
	childFile.Close()

	w.cmd = cmd
	w.endpoint = channel.NewEndpoint(parentConn)

	s.reg.InitSlot(w.idx, int32(w.idx), w.role, w.cpu)
	s.reg.SetPID(w.idx, int32(cmd.Process.Pid))
	s.reg.SetRunning(w.idx, true)

	metrics.WorkersRunning.WithLabelValues(roleLabel(w.role)).Inc()
	w.log.Info().Int("pid", cmd.Process.Pid).Str("spawn_id", w.spawnID).Msg("spawned worker")
	return nil
}

func roleLabel(role int32) string {
	switch role {
	case region.RoleKeymgr:
		return "keymgr"
	case region.RoleACME:
		return "acme"
	default:
		return "general"
	}
}

// ReapOnce consumes every currently-exited child without blocking,
// applying the configured restart/terminate policy. It returns true if
// the caller should begin global shutdown: either a special-role
// process (KEYMGR or ACME) died, or a general worker crashed under
// PolicyTerminate.
func (s *Supervisor) ReapOnce() (shutdown bool) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return shutdown
		}
		if s.reapPID(pid, ws) {
			shutdown = true
		}
	}
}

func (s *Supervisor) reapPID(pid int, ws unix.WaitStatus) (shutdown bool) {
	w := s.findByPID(pid)
	if w == nil {
		return false
	}

	metrics.WorkersRunning.WithLabelValues(roleLabel(w.role)).Dec()

	if ws.Exited() && ws.ExitStatus() == 0 {
		s.reg.SetRunning(w.idx, false)
		s.reg.SetPID(w.idx, 0)
		w.log.Info().Msg("worker exited cleanly")
		return false
	}

	w.log.Warn().Str("handler", s.reg.GetSlot(w.idx).LastHandler).Msg("worker crashed")
	s.reg.SetLastExit(w.idx, time.Now().UnixNano())
	s.reg.SetRunning(w.idx, false)

	if w.role == region.RoleKeymgr || w.role == region.RoleACME {
		return true
	}

	if acceptlock.RecoverFromCrash(s.reg, int32(pid)) {
		w.log.Warn().Msg("released accept lock held by crashed worker")
	}

	// PolicyTerminate means any crash, not just a reserved-role one, ends
	// the whole fleet rather than leaving a dead slot running short.
	if s.cfg.Policy == PolicyTerminate {
		return true
	}

	s.reg.IncErrorCount(w.idx)
	s.reg.SetRestarted(w.idx, true)
	if err := s.spawn(w); err != nil {
		w.log.Error().Err(err).Msg("respawn failed")
	}
	return false
}

func (s *Supervisor) findByPID(pid int) *worker {
	for _, w := range s.workers {
		if w.cmd != nil && w.cmd.Process != nil && w.cmd.Process.Pid == pid {
			return w
		}
	}
	return nil
}

// Broadcast sends f to every general worker that has a control channel
// (ALL_WORKERS addressing), logging but not failing on a per-peer
// delivery error. Reserved roles are never included.
func (s *Supervisor) Broadcast(f control.Frame) {
	for _, w := range s.workers {
		if w.role < 1 || w.endpoint == nil {
			continue
		}
		if err := w.endpoint.TrySend(f); err != nil {
			w.log.Warn().Err(err).Str("kind", f.Kind.String()).Msg("broadcast delivery failed")
		} else {
			metrics.ControlMessagesTotal.WithLabelValues(f.Kind.String(), "out").Inc()
		}
	}
}

// PumpOnce polls every live worker's control channel for one inbound
// frame and routes it: ALL_WORKERS re-broadcasts, KEYMGR/ACME unicasts to
// the matching reserved slot, a specific slot unicasts directly, and
// PARENT is handled by the supervisor itself (currently just logged).
// It never blocks beyond each endpoint's own poll window.
func (s *Supervisor) PumpOnce() {
	for _, w := range s.workers {
		if w.endpoint == nil {
			continue
		}
		f, err := w.endpoint.TryRecv()
		if err != nil {
			continue
		}
		metrics.ControlMessagesTotal.WithLabelValues(f.Kind.String(), "in").Inc()
		s.route(w, f)
	}
}

func (s *Supervisor) route(from *worker, f control.Frame) {
	f.FromSlot = int32(from.idx)
	switch f.To {
	case control.TargetAllWorkers:
		s.Broadcast(f)
	case control.TargetKeymgr:
		s.sendToRole(region.RoleKeymgr, f)
	case control.TargetACME:
		s.sendToRole(region.RoleACME, f)
	case control.TargetSlot:
		s.sendToSlot(int(f.ToSlot), f)
	case control.TargetParent:
		from.log.Info().Str("kind", f.Kind.String()).Msg("message addressed to supervisor")
	}
}

func (s *Supervisor) sendToRole(role int32, f control.Frame) {
	for _, w := range s.workers {
		if w.role == role && w.endpoint != nil {
			if err := w.endpoint.TrySend(f); err != nil {
				w.log.Warn().Err(err).Str("kind", f.Kind.String()).Msg("route delivery failed")
			}
			return
		}
	}
}

func (s *Supervisor) sendToSlot(idx int, f control.Frame) {
	for _, w := range s.workers {
		if w.idx == idx && w.endpoint != nil {
			if err := w.endpoint.TrySend(f); err != nil {
				w.log.Warn().Err(err).Str("kind", f.Kind.String()).Msg("route delivery failed")
			}
			return
		}
	}
}

// Signal delivers sig to every live worker pid; failures are logged, not
// fatal.
func (s *Supervisor) Signal(sig os.Signal) {
	for _, w := range s.workers {
		if w.cmd == nil || w.cmd.Process == nil {
			continue
		}
		if !s.reg.GetSlot(w.idx).Running {
			continue
		}
		if err := w.cmd.Process.Signal(sig); err != nil {
			w.log.Warn().Err(err).Msg("signal delivery failed")
		}
	}
}

// Shutdown blocks until every slot reports not-running, then destroys the
// shared region.
func (s *Supervisor) Shutdown() error {
	s.quit = true
	s.Signal(os.Interrupt)

	for _, w := range s.workers {
		if w.cmd == nil || w.cmd.Process == nil {
			continue
		}
		_, _ = unix.Wait4(w.cmd.Process.Pid, nil, 0, nil)
		s.reg.SetRunning(w.idx, false)
	}
	return s.reg.Close(true)
}
