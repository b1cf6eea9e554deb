package dispatch

import (
	"sync"
	"time"
)

// Loop is a manually pumped dispatcher for deterministic tests and
// single-threaded drivers. Closures run on whichever goroutine pumps the
// loop; the goroutine that created the loop is its designated context.
// Time is virtual by default and only moves when the owner advances it.
type Loop struct {
	mu          sync.Mutex
	pending     []func()
	head        int
	timers      timerHeap
	timerByID   map[TimerID]*timer
	nextTimerID TimerID
	nowMs       uint64
	clock       Clock
	stopped     bool
	ownerGID    uint64
}

// NewLoop constructs a loop with a virtual clock owned by the calling
// goroutine.
func NewLoop() *Loop {
	l := &Loop{ownerGID: goroutineID()}
	l.clock = &VirtualClock{loop: l}
	return l
}

// NewLoopWithClock constructs a loop driven by the provided clock.
// A RealClock makes AdvanceBy block the owner until deadlines pass.
func NewLoopWithClock(clock Clock) *Loop {
	l := &Loop{ownerGID: goroutineID()}
	if clock == nil {
		clock = &VirtualClock{loop: l}
	}
	l.clock = clock
	return l
}

// PostTask appends fn to the run queue. Thread-safe.
func (l *Loop) PostTask(fn func()) bool {
	if l == nil || fn == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.pending = append(l.pending, fn)
	return true
}

// PostDelayedTask schedules fn to run once loop time reaches now+delay.
func (l *Loop) PostDelayedTask(fn func(), delay time.Duration) bool {
	if l == nil || fn == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.scheduleTimerLocked(fn, l.nowMs+durationToMs(delay))
	return true
}

// ScheduleTimer is PostDelayedTask with a handle: the returned id can be
// passed to CancelTimer or TimerActive. Returns 0 once the loop stopped.
func (l *Loop) ScheduleTimer(fn func(), delay time.Duration) TimerID {
	if l == nil || fn == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0
	}
	return l.scheduleTimerLocked(fn, l.nowMs+durationToMs(delay))
}

// InContext reports whether the caller is the loop's owning goroutine.
func (l *Loop) InContext() bool {
	if l == nil {
		return false
	}
	return goroutineID() == l.ownerGID
}

// NowMs returns the loop's current time in milliseconds.
func (l *Loop) NowMs() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowMs
}

// RunUntilIdle runs queued closures in FIFO order until the queue is
// empty, including closures posted during the run. Timers already due at
// the current time fire first. Reentrant-safe on the owning goroutine.
func (l *Loop) RunUntilIdle() {
	if l == nil {
		return
	}
	for {
		l.mu.Lock()
		if t := l.popDueLocked(l.nowMs); t != nil {
			l.mu.Unlock()
			t.fn()
			continue
		}
		fn, ok := l.popPendingLocked()
		l.mu.Unlock()
		if !ok {
			return
		}
		fn()
	}
}

// AdvanceBy moves loop time forward by d, firing due timers and draining
// the queue as each deadline is reached. Owner-goroutine only.
func (l *Loop) AdvanceBy(d time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	target := l.nowMs + durationToMs(d)
	l.mu.Unlock()
	l.AdvanceToMs(target)
}

// AdvanceToMs moves loop time to the absolute millisecond target.
func (l *Loop) AdvanceToMs(target uint64) {
	if l == nil {
		return
	}
	for {
		l.RunUntilIdle()
		l.mu.Lock()
		deadline, ok := l.nextDeadlineLocked()
		if !ok || deadline > target {
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()
		l.clock.SleepUntilMs(deadline)
		l.mu.Lock()
		if l.nowMs < deadline {
			l.nowMs = deadline
		}
		l.mu.Unlock()
		l.RunUntilIdle()
	}
	l.clock.SleepUntilMs(target)
	l.mu.Lock()
	if l.nowMs < target {
		l.nowMs = target
	}
	l.mu.Unlock()
	l.RunUntilIdle()
}

// Stop refuses further posts and discards queued closures and timers
// without running them.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.pending = nil
	l.head = 0
	l.timers = nil
	if l.timerByID != nil {
		clear(l.timerByID)
	}
}

// popPendingLocked removes the oldest queued closure. Caller holds l.mu.
func (l *Loop) popPendingLocked() (func(), bool) {
	if len(l.pending)-l.head == 0 {
		return nil, false
	}
	fn := l.pending[l.head]
	l.pending[l.head] = nil
	l.head++
	if l.head >= len(l.pending) {
		l.pending = nil
		l.head = 0
	} else if l.head > 128 && l.head*2 >= len(l.pending) {
		remaining := append(([]func())(nil), l.pending[l.head:]...)
		l.pending = remaining
		l.head = 0
	}
	return fn, true
}
