// Package demux implements the minimal event demultiplexer a worker loop
// waits on each iteration: a set of watched file descriptors (listener
// sockets, the control-channel fd) plus a bounded wait deadline. The real
// implementation wraps poll(2); Fake is a deterministic stand-in for
// tests that need to control exactly what becomes ready on which tick.
package demux
