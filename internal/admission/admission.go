// Package admission gates concurrent access to a logical resource pool
// that supports two mutually exclusive usage modes: one exclusive
// single-instance holder, or any number of multi-instance holders.
// Admission decisions are serialized on a single dispatch context so
// that no two TryAdd evaluations ever interleave; releases run
// synchronously under the controller lock from any goroutine, so a
// release never has to wait on the decision context.
package admission

import (
	"sync"
	"sync/atomic"

	"rendez/internal/cancellable"
	"rendez/internal/serialq"
	"rendez/internal/trace"
)

// Controller serializes and enforces the admission rules.
type Controller struct {
	queue  *serialq.Queue
	tracer trace.Tracer

	mu      sync.Mutex
	single  uint
	multi   uint
	onEmpty []func()
}

// NewController binds a controller to the queue carrying its decisions.
func NewController(q *serialq.Queue) *Controller {
	return NewTracedController(q, nil)
}

// NewTracedController is NewController with a tracer observing decisions
// and releases. A nil tracer disables tracing.
func NewTracedController(q *serialq.Queue, t trace.Tracer) *Controller {
	if q == nil {
		panic("admission: nil queue")
	}
	if t == nil {
		t = trace.Nop
	}
	return &Controller{queue: q, tracer: t}
}

// TryAdd posts an admission decision onto the controller's dispatch
// context and delivers the outcome to cont there: a live Admission on
// success, nil on rejection. Rejection is a normal negative result, not
// an error.
//
// The returned token cancels delivery: if Cancel wins the race with the
// decision, cont never runs and any slot the decision grabbed is
// returned immediately.
func (c *Controller) TryAdd(multiInstance bool, cont func(*Admission)) *cancellable.Cancellable {
	token := cancellable.New(nil)
	c.queue.Enqueue(func() {
		span := trace.Begin(c.tracer, trace.ScopeComponent, "admission.try_add", 0).
			WithExtra("mode", modeName(multiInstance))
		if token.Cancelled() {
			span.End("cancelled")
			return
		}
		granted := c.evaluate(multiInstance)
		delivered := false
		deliver := token.Wrap(func() {
			delivered = true
			if cont != nil {
				cont(granted)
			}
		})
		deliver()
		if !delivered && granted != nil {
			// Cancel slipped in between evaluation and delivery.
			granted.Release()
			span.End("cancelled")
			return
		}
		if granted != nil {
			span.End("granted")
		} else {
			span.End("rejected")
		}
	})
	return token
}

// evaluate applies the mutual-exclusion rules. Runs only on the decision
// context, but takes the lock because releases mutate the counters from
// arbitrary goroutines.
func (c *Controller) evaluate(multiInstance bool) *Admission {
	c.mu.Lock()
	defer c.mu.Unlock()
	if multiInstance {
		if c.single > 0 {
			return nil
		}
		c.multi++
	} else {
		if c.single > 0 || c.multi > 0 {
			return nil
		}
		c.single++
	}
	return &Admission{ctrl: c, multiInstance: multiInstance}
}

// ShutDown invokes cb once every outstanding Admission has been
// released; immediately if none are outstanding. Callers must stop
// issuing TryAdd before shutting down; the controller does not enforce
// that.
func (c *Controller) ShutDown(cb func()) {
	if c == nil || cb == nil {
		return
	}
	c.mu.Lock()
	if c.single == 0 && c.multi == 0 {
		c.mu.Unlock()
		cb()
		return
	}
	c.onEmpty = append(c.onEmpty, cb)
	c.mu.Unlock()
}

// Counts returns the current admission counters.
func (c *Controller) Counts() (single, multi uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.single, c.multi
}

// Admission is a granted slot in the pool. Release returns it.
type Admission struct {
	ctrl          *Controller
	multiInstance bool
	released      atomic.Bool
}

// MultiInstance reports which mode the slot was granted in.
func (a *Admission) MultiInstance() bool {
	if a == nil {
		return false
	}
	return a.multiInstance
}

// Release returns the slot. Idempotent; safe from any goroutine. When
// the last outstanding slot is released, pending ShutDown callbacks fire
// on the releasing goroutine.
func (a *Admission) Release() {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}
	c := a.ctrl
	c.mu.Lock()
	if a.multiInstance {
		c.multi--
	} else {
		c.single--
	}
	var notify []func()
	if c.single == 0 && c.multi == 0 && len(c.onEmpty) > 0 {
		notify = c.onEmpty
		c.onEmpty = nil
	}
	c.mu.Unlock()
	trace.Point(c.tracer, trace.ScopeEntry, "admission.release", modeName(a.multiInstance))
	for _, fn := range notify {
		fn()
	}
}

func modeName(multiInstance bool) string {
	if multiInstance {
		return "multi"
	}
	return "single"
}
