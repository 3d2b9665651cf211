package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled callback in the wheel.
type timerEntry struct {
	deadline time.Time
	fire     func(now time.Time)
	index    int // heap.Interface bookkeeping
	canceled bool
}

// timerHeap is a binary min-heap ordered by deadline, the approach spec.md
// §9 explicitly allows ("either is acceptable... a binary heap satisfies
// the deadline ordering property").
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// PollQuantum bounds how long the reactor ever blocks in a single receive
// call even with no timers due (spec.md §4.5).
const PollQuantum = 50 * time.Millisecond

// TimerWheel is the reactor-owned deadline queue driving SD phase
// transitions, cyclic offers, pending-request deadlines, TTL expiry, and TP
// assembly timeouts (spec.md §4.5).
type TimerWheel struct {
	h timerHeap
}

// NewTimerWheel constructs an empty wheel.
func NewTimerWheel() *TimerWheel {
	w := &TimerWheel{}
	heap.Init(&w.h)
	return w
}

// Schedule registers fire to run at deadline, returning a handle that can
// cancel it.
func (w *TimerWheel) Schedule(deadline time.Time, fire func(now time.Time)) *timerEntry {
	e := &timerEntry{deadline: deadline, fire: fire}
	heap.Push(&w.h, e)
	return e
}

// Cancel marks e so it is skipped when popped, without needing to search
// the heap.
func (w *TimerWheel) Cancel(e *timerEntry) {
	if e != nil {
		e.canceled = true
	}
}

// NextTimeout returns min(time until the next due timer, PollQuantum), the
// value spec.md §4.5 says the reactor passes as its socket read timeout.
func (w *TimerWheel) NextTimeout(now time.Time) time.Duration {
	if w.h.Len() == 0 {
		return PollQuantum
	}
	next := w.h[0].deadline
	if !next.After(now) {
		return 0
	}
	if d := next.Sub(now); d < PollQuantum {
		return d
	}
	return PollQuantum
}

// FireDue pops and runs every timer whose deadline has elapsed by now.
func (w *TimerWheel) FireDue(now time.Time) {
	for w.h.Len() > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*timerEntry)
		if e.canceled {
			continue
		}
		e.fire(now)
	}
}

// Len reports how many timers are scheduled, for tests.
func (w *TimerWheel) Len() int {
	return w.h.Len()
}
