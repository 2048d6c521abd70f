package timers

import (
	"container/heap"
	"time"
)

// ID identifies a scheduled timer for cancellation.
type ID uint64

// entry is one scheduled callback.
type entry struct {
	id    ID
	when  time.Time
	fn    func()
	index int // heap index, maintained by container/heap
}

// entryHeap is a min-heap ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a single-threaded timer min-heap. It is not safe for concurrent
// use; a worker loop owns exactly one Queue.
type Queue struct {
	h      entryHeap
	byID   map[ID]*entry
	nextID ID
	now    func() time.Time
}

// New returns an empty Queue. now defaults to time.Now when nil, letting
// tests substitute a controllable clock.
func New(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{byID: make(map[ID]*entry), now: now}
}

// Schedule arms fn to run at "at" and returns an ID usable with Cancel.
func (q *Queue) Schedule(at time.Time, fn func()) ID {
	q.nextID++
	e := &entry{id: q.nextID, when: at, fn: fn}
	heap.Push(&q.h, e)
	q.byID[e.id] = e
	return e.id
}

// After is a convenience wrapper scheduling fn to run d from now.
func (q *Queue) After(d time.Duration, fn func()) ID {
	return q.Schedule(q.now().Add(d), fn)
}

// Cancel removes a pending timer. It is a no-op if the ID is unknown or
// has already fired.
func (q *Queue) Cancel(id ID) {
	e, ok := q.byID[id]
	if !ok {
		return
	}
	delete(q.byID, id)
	if e.index >= 0 {
		heap.Remove(&q.h, e.index)
	}
}

// Len reports the number of pending timers.
func (q *Queue) Len() int { return q.h.Len() }

// NextDeadline returns the duration until the earliest pending timer, and
// false if the queue is empty. A past deadline yields a non-positive
// duration, meaning "run now".
func (q *Queue) NextDeadline() (time.Duration, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].when.Sub(q.now()), true
}

// RunExpired pops and invokes every timer whose deadline has passed,
// oldest first, and returns how many ran. Callbacks that schedule new
// timers do not extend this pass: a timer only runs here if its deadline
// was already due when RunExpired was called.
func (q *Queue) RunExpired() int {
	now := q.now()
	var due []*entry
	for q.h.Len() > 0 && !q.h[0].when.After(now) {
		e := heap.Pop(&q.h).(*entry)
		delete(q.byID, e.id)
		due = append(due, e)
	}
	for _, e := range due {
		e.fn()
	}
	return len(due)
}
