// Package tasks implements the cooperative task queue a worker loop drains
// once per iteration: a plain FIFO of zero-argument callbacks with a
// pending/drain contract, so the loop can decide how urgently to wake up
// based on whether any work is queued.
package tasks
