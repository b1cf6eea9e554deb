package sched

import (
	"sync"

	"rendez/internal/cancellable"
)

// Promise is a single-shot value cell whose observers run as scheduler
// tasks. Completion is delivered at most once; later Complete calls are
// dropped. Release pipelines chain on promises: each Then observer is
// scheduled when the value lands, and pumped by the next RunUntilIdle.
type Promise struct {
	s *Scheduler

	mu      sync.Mutex
	done    bool
	val     any
	waiters []func(any)

	complete func(any)
}

// NewPromise allocates an unresolved promise on this scheduler.
func (s *Scheduler) NewPromise() *Promise {
	p := &Promise{s: s}
	p.complete = cancellable.Wrap1(cancellable.New(nil), p.deliver)
	return p
}

// Complete resolves the promise with v. Only the first call has effect.
func (p *Promise) Complete(v any) {
	if p == nil {
		return
	}
	p.complete(v)
}

// Done reports whether the promise has resolved.
func (p *Promise) Done() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Then schedules fn with the promise value once it resolves. Observers
// registered after resolution are scheduled immediately. Registration
// order is preserved for observers added before resolution.
func (p *Promise) Then(fn func(any)) {
	if p == nil || fn == nil {
		return
	}
	p.mu.Lock()
	if p.done {
		v := p.val
		p.mu.Unlock()
		p.s.Schedule(func(*Context) { fn(v) })
		return
	}
	p.waiters = append(p.waiters, fn)
	p.mu.Unlock()
}

// ResolveOnComplete resolves one claim on t when the promise lands,
// requesting resumption. Pairs with Context.Suspend for tasks that wait
// on a promise.
func (p *Promise) ResolveOnComplete(t Ticket) {
	p.Then(func(any) { t.Resolve(true) })
}

func (p *Promise) deliver(v any) {
	p.mu.Lock()
	p.done = true
	p.val = v
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, fn := range waiters {
		fn := fn
		p.s.Schedule(func(*Context) { fn(v) })
	}
}
