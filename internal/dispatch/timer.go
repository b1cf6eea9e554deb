package dispatch

import "container/heap"

// TimerID identifies a scheduled delayed task.
type TimerID uint64

// timer represents a single scheduled wakeup on a Loop.
type timer struct {
	id         TimerID
	deadlineMs uint64
	fn         func()
	cancelled  bool
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadlineMs == h[j].deadlineMs {
		return h[i].id < h[j].id
	}
	return h[i].deadlineMs < h[j].deadlineMs
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	t, ok := x.(*timer)
	if !ok || t == nil {
		return
	}
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return (*timer)(nil)
	}
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduleTimerLocked registers fn at the given absolute deadline.
// Caller holds l.mu.
func (l *Loop) scheduleTimerLocked(fn func(), deadlineMs uint64) TimerID {
	if l.nextTimerID == 0 {
		l.nextTimerID = 1
	}
	id := l.nextTimerID
	l.nextTimerID++
	t := &timer{
		id:         id,
		deadlineMs: deadlineMs,
		fn:         fn,
	}
	if l.timerByID == nil {
		l.timerByID = make(map[TimerID]*timer)
	}
	l.timerByID[id] = t
	heap.Push(&l.timers, t)
	return id
}

// CancelTimer marks a pending delayed task as cancelled. Cancelled tasks
// are discarded without running when their deadline is reached.
func (l *Loop) CancelTimer(id TimerID) {
	if l == nil || id == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.timerByID[id]
	if t == nil {
		return
	}
	t.cancelled = true
	delete(l.timerByID, id)
}

// TimerActive reports whether a delayed task is still pending.
func (l *Loop) TimerActive(id TimerID) bool {
	if l == nil || id == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.timerByID[id]
	return t != nil && !t.cancelled
}

// popDueLocked removes and returns the next timer due at or before nowMs,
// skipping cancelled entries. Caller holds l.mu.
func (l *Loop) popDueLocked(nowMs uint64) *timer {
	for len(l.timers) > 0 {
		next := l.timers[0]
		if next == nil || next.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		if next.deadlineMs > nowMs {
			return nil
		}
		heap.Pop(&l.timers)
		delete(l.timerByID, next.id)
		return next
	}
	return nil
}

// nextDeadlineLocked returns the earliest pending deadline.
// Caller holds l.mu.
func (l *Loop) nextDeadlineLocked() (uint64, bool) {
	for len(l.timers) > 0 {
		next := l.timers[0]
		if next == nil || next.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		return next.deadlineMs, true
	}
	return 0, false
}
