// Package serialq marshals closures from arbitrary goroutines onto one
// designated dispatch context, in FIFO order, with stop-once teardown.
// Stopping the queue discards pending closures without running them;
// closures carrying a cleanup get their cleanup invoked on discard so
// owned resources are still released deterministically.
package serialq

import (
	"strconv"
	"sync"

	"rendez/internal/dispatch"
	"rendez/internal/trace"
)

type entry struct {
	run     func()
	cleanup func()
}

// Queue is a FIFO closure queue bound to a single dispatcher.
type Queue struct {
	dispatcher dispatch.Dispatcher
	tracer     trace.Tracer

	mu       sync.Mutex
	pending  []entry
	head     int
	draining bool
	stopped  bool
}

// New binds a queue to its dispatcher. The dispatcher's execution
// context is where every enqueued closure runs.
func New(d dispatch.Dispatcher) *Queue {
	return NewTraced(d, nil)
}

// NewTraced is New with a tracer observing drain passes and dropped
// closures. A nil tracer disables tracing.
func NewTraced(d dispatch.Dispatcher, t trace.Tracer) *Queue {
	if d == nil {
		panic("serialq: nil dispatcher")
	}
	if t == nil {
		t = trace.Nop
	}
	return &Queue{dispatcher: d, tracer: t}
}

// Enqueue appends fn. Thread-safe. If the queue has been stopped, fn is
// dropped immediately on the calling goroutine.
func (q *Queue) Enqueue(fn func()) {
	q.EnqueueWithCleanup(fn, nil)
}

// EnqueueWithCleanup appends run; cleanup fires if and only if the
// closure is discarded without running (the queue stopped first, or the
// dispatcher refused the drain).
func (q *Queue) EnqueueWithCleanup(run, cleanup func()) {
	if q == nil || run == nil {
		if cleanup != nil {
			cleanup()
		}
		return
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		trace.Point(q.tracer, trace.ScopeEntry, "serialq.drop", "stopped")
		if cleanup != nil {
			cleanup()
		}
		return
	}
	needPost := len(q.pending)-q.head == 0 && !q.draining
	q.pending = append(q.pending, entry{run: run, cleanup: cleanup})
	q.mu.Unlock()

	if needPost && !q.dispatcher.PostTask(q.drain) {
		// The context is gone; nothing queued here can ever run.
		q.discardAll()
	}
}

// StopAndClear marks the queue stopped and discards pending closures,
// running their cleanups on the calling goroutine. Legal only on the
// designated dispatch context; enforced when the dispatcher can identify
// its context. Idempotent.
func (q *Queue) StopAndClear() {
	if q == nil {
		return
	}
	if cc, ok := q.dispatcher.(dispatch.ContextChecker); ok && !cc.InContext() {
		panic("serialq: StopAndClear called off the dispatch context")
	}
	q.discardAll()
}

// Stopped reports whether StopAndClear has run.
func (q *Queue) Stopped() bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of closures waiting to run.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) - q.head
}

// Dispatcher returns the bound dispatcher.
func (q *Queue) Dispatcher() dispatch.Dispatcher {
	if q == nil {
		return nil
	}
	return q.dispatcher
}

// drain runs on the dispatch context. One drain pass keeps going until
// the queue is empty, so closures enqueued mid-drain run in the same
// pass unless the queue stops first.
func (q *Queue) drain() {
	span := trace.Begin(q.tracer, trace.ScopeComponent, "serialq.drain", 0)
	ran := 0
	q.mu.Lock()
	q.draining = true
	for !q.stopped {
		e, ok := q.popLocked()
		if !ok {
			break
		}
		q.mu.Unlock()
		e.run()
		ran++
		q.mu.Lock()
	}
	q.draining = false
	stopped := q.stopped
	q.mu.Unlock()
	detail := ""
	if stopped {
		detail = "stopped"
	}
	span.WithExtra("entries", strconv.Itoa(ran)).End(detail)
}

func (q *Queue) discardAll() {
	q.mu.Lock()
	q.stopped = true
	dropped := q.pending[q.head:]
	q.pending = nil
	q.head = 0
	q.mu.Unlock()
	if len(dropped) > 0 {
		trace.Point(q.tracer, trace.ScopeEntry, "serialq.drop", strconv.Itoa(len(dropped))+" pending")
	}
	for i := range dropped {
		if dropped[i].cleanup != nil {
			dropped[i].cleanup()
		}
	}
}

// popLocked removes the oldest entry. Caller holds q.mu.
func (q *Queue) popLocked() (entry, bool) {
	if len(q.pending)-q.head == 0 {
		return entry{}, false
	}
	e := q.pending[q.head]
	q.pending[q.head] = entry{}
	q.head++
	if q.head >= len(q.pending) {
		q.pending = nil
		q.head = 0
	} else if q.head > 128 && q.head*2 >= len(q.pending) {
		remaining := append([]entry(nil), q.pending[q.head:]...)
		q.pending = remaining
		q.head = 0
	}
	return e, true
}
