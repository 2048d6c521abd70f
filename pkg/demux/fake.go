package demux

import "time"

// Fake is a deterministic Demux for tests: each call to Wait pops the next
// scheduled readiness batch (set up via ScheduleReady) instead of touching
// the OS. Watch/Unwatch just track the armed set for assertions.
type Fake struct {
	Watched  map[int]Events
	schedule [][]Ready
	waits    int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{Watched: make(map[int]Events)}
}

func (f *Fake) Watch(fd int, events Events) error {
	f.Watched[fd] = events
	return nil
}

func (f *Fake) Unwatch(fd int) error {
	delete(f.Watched, fd)
	return nil
}

func (f *Fake) Close() error { return nil }

// ScheduleReady queues a batch of Ready results to be returned by the next
// Wait call that has nothing left scheduled before it.
func (f *Fake) ScheduleReady(r ...Ready) {
	f.schedule = append(f.schedule, r)
}

// Waits reports how many times Wait has been called.
func (f *Fake) Waits() int { return f.waits }

func (f *Fake) Wait(deadline time.Duration) ([]Ready, error) {
	f.waits++
	if len(f.schedule) == 0 {
		return nil, nil
	}
	next := f.schedule[0]
	f.schedule = f.schedule[1:]
	return next, nil
}
