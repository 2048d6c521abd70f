// Package acceptlock implements the rules governing when a worker
// attempts to acquire the shared accept lock, when it voluntarily
// releases it, and how peers learn that capability is available again.
// The raw compare-and-swap mechanics live in pkg/region; this package
// adds the per-worker policy layer: the solo-worker bypass rule, the
// "peer announced availability" latch, and the load gates that force a
// busy worker to give up the lock.
package acceptlock
