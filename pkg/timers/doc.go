// Package timers implements the min-heap timer queue a worker loop drains
// once per iteration: schedule a callback for a future time, find out how
// long until the next one fires, and run every timer whose deadline has
// passed.
package timers
