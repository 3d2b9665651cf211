package reactor

import (
	"testing"
	"time"
)

func TestTimerWheelFiresInDeadlineOrder(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()

	var order []int
	w.Schedule(base.Add(30*time.Millisecond), func(time.Time) { order = append(order, 3) })
	w.Schedule(base.Add(10*time.Millisecond), func(time.Time) { order = append(order, 1) })
	w.Schedule(base.Add(20*time.Millisecond), func(time.Time) { order = append(order, 2) })

	w.FireDue(base.Add(100 * time.Millisecond))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fired out of deadline order: %v", order)
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d after firing all due timers, want 0", w.Len())
	}
}

func TestTimerWheelSkipsCanceled(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()

	fired := false
	entry := w.Schedule(base.Add(time.Millisecond), func(time.Time) { fired = true })
	w.Cancel(entry)

	w.FireDue(base.Add(time.Second))
	if fired {
		t.Fatal("canceled timer fired")
	}
}

func TestTimerWheelNextTimeoutCapsAtPollQuantum(t *testing.T) {
	w := NewTimerWheel()
	now := time.Now()

	if d := w.NextTimeout(now); d != PollQuantum {
		t.Fatalf("NextTimeout() with no timers = %v, want %v", d, PollQuantum)
	}

	w.Schedule(now.Add(time.Hour), func(time.Time) {})
	if d := w.NextTimeout(now); d != PollQuantum {
		t.Fatalf("NextTimeout() with a far timer = %v, want %v", d, PollQuantum)
	}
}

func TestTimerWheelNextTimeoutZeroWhenDue(t *testing.T) {
	w := NewTimerWheel()
	now := time.Now()
	w.Schedule(now.Add(-time.Millisecond), func(time.Time) {})

	if d := w.NextTimeout(now); d != 0 {
		t.Fatalf("NextTimeout() for an already-due timer = %v, want 0", d)
	}
}
