package main

import (
	"os"
	"os/signal"
	"syscall"
)

// armShutdownSignals returns a channel that fires once on the first
// INT/TERM/QUIT received, for any process role (supervisor or a reserved
// worker's own loop) that blocks on a select waiting to drain.
func armShutdownSignals() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}
