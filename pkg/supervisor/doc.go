// Package supervisor implements the process that creates the shared
// region and control channels, spawns the fixed pool of worker
// processes plus the reserved KEYMGR and ACME roles, reaps exited
// children, applies restart/terminate policy, and routes control-channel
// traffic between workers.
//
// Go has no safe bare fork without exec (goroutines and the runtime's own
// threads make the post-fork-pre-exec window unsafe), so "spawn a
// worker" here means re-exec the running binary with a hidden
// subcommand, handing the shared-memory and control-channel file
// descriptors across exec via os/exec's ExtraFiles.
package supervisor
