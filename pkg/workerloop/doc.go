// Package workerloop runs the single-threaded, cooperative event loop a
// general worker executes after the supervisor spawns it: post-fork
// setup, the ten-step main iteration, and the shutdown sequence. Reserved
// roles (KEYMGR, ACME) do not use this loop; they hand control to their
// own subroutine instead.
package workerloop
