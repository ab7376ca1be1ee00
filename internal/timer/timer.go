// Package timer implements a cancellable delayed action. It backs both
// lobby start countdowns and per-session inactivity timeouts.
package timer

import (
	"sync"
	"time"
)

// Timer runs a callback once after a delay unless stopped first. Stop
// before the fire is synchronous and guaranteed; a fire racing a late
// Stop may still run, so callbacks must re-validate state before acting.
type Timer struct {
	mu       sync.Mutex
	fn       func()
	t        *time.Timer
	gen      int
	stopped  bool
	deadline time.Time
}

// After schedules fn to run once after d.
func After(d time.Duration, fn func()) *Timer {
	tm := &Timer{fn: fn}
	tm.mu.Lock()
	tm.arm(d)
	tm.mu.Unlock()
	return tm
}

func (tm *Timer) arm(d time.Duration) {
	tm.gen++
	g := tm.gen
	tm.deadline = time.Now().Add(d)
	tm.t = time.AfterFunc(d, func() { tm.fire(g) })
}

func (tm *Timer) fire(g int) {
	tm.mu.Lock()
	if tm.stopped || g != tm.gen {
		// stale fire from before a Stop or Reset
		tm.mu.Unlock()
		return
	}
	tm.mu.Unlock()
	tm.fn()
}

// Stop cancels the pending fire. It reports whether a fire was prevented;
// stopping an already-stopped timer is a no-op.
func (tm *Timer) Stop() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return false
	}
	tm.stopped = true
	return tm.t.Stop()
}

// Reset cancels any pending fire and reschedules d from now. It reports
// whether the timer was still live; a stopped timer stays stopped.
func (tm *Timer) Reset(d time.Duration) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return false
	}
	tm.t.Stop()
	tm.arm(d)
	return true
}

// Deadline reports when the timer is due to fire.
func (tm *Timer) Deadline() time.Time {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.deadline
}
