package supervisor

import (
	"os/exec"

	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/rs/zerolog"
)

// Policy governs what the supervisor does when a general worker's child
// process exits with a non-zero status or by signal.
type Policy int

const (
	PolicyRestart Policy = iota
	PolicyTerminate
)

func (p Policy) String() string {
	if p == PolicyTerminate {
		return "TERMINATE"
	}
	return "RESTART"
}

// worker is the supervisor-local state for one slot: everything that
// cannot live in the shared region because it is not numerically
// portable across address spaces (file descriptors, the *exec.Cmd
// handle) or simply has no reason to be cross-process (the per-slot
// logger). It references its region.Slot by index.
type worker struct {
	idx  int
	role int32 // region.RoleKeymgr, region.RoleACME, or 1..K
	cpu  int32

	cmd      *exec.Cmd
	endpoint *channel.Endpoint
	childFD  int // the child's control-channel fd, closed once cmd.Start succeeds

	// spawnID distinguishes one incarnation of a slot from the next
	// across a restart, so log lines from a crashed worker and its
	// replacement are never attributed to the same run.
	spawnID string

	log zerolog.Logger
}
