// Package sched implements a cooperative, reentrant task scheduler with
// suspend/resume tickets. Tasks run to completion on whichever goroutine
// pumps RunUntilIdle; a task may instead suspend, obtaining a ticket
// that external waiters duplicate and resolve. The final resolution
// decides whether the task resumes or is abandoned, with resume sticky
// across resolutions.
package sched

import (
	"sync"

	"rendez/internal/trace"
)

// Task is one unit of cooperatively scheduled work. A task that returns
// without suspending is complete; a task that called Suspend on its
// context is parked until its ticket resolves, and runs again from the
// top when resumed.
type Task func(*Context)

// Config configures scheduler contract enforcement.
type Config struct {
	// Strict makes ticket misuse (resolving or duplicating a ticket
	// that was already fully resolved) panic instead of being ignored.
	Strict bool

	// Tracer observes task runs and ticket dispositions. A nil tracer
	// disables tracing.
	Tracer trace.Tracer
}

// Stats counts task dispositions since the scheduler was created.
type Stats struct {
	Completed uint64 // tasks that ran to completion
	Suspended uint64 // suspensions taken
	Resumed   uint64 // parked tasks re-enqueued by ticket resolution
	Abandoned uint64 // parked tasks discarded by ticket resolution
}

// Scheduler runs a FIFO queue of tasks. Schedule and ticket resolution
// are safe from any goroutine; RunUntilIdle may be re-entered from a
// running task on the same goroutine, but only one goroutine should pump
// tasks at a time.
type Scheduler struct {
	cfg Config

	mu         sync.Mutex
	nextTicket TicketID
	ready      []Task
	head       int
	parked     map[TicketID]*ticketState
	stats      Stats
}

// New constructs a scheduler with the provided configuration.
func New(cfg Config) *Scheduler {
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	return &Scheduler{
		cfg:        cfg,
		nextTicket: 1,
		parked:     make(map[TicketID]*ticketState),
	}
}

// Schedule appends a task to the run queue. Thread-safe, including from
// within a running task.
func (s *Scheduler) Schedule(task Task) {
	if s == nil || task == nil {
		return
	}
	s.mu.Lock()
	s.ready = append(s.ready, task)
	s.mu.Unlock()
}

// RunUntilIdle pops and runs tasks until the queue drains, including
// tasks scheduled during the run. A task that always reschedules itself
// makes this never return; that is a caller bug, not detected here.
func (s *Scheduler) RunUntilIdle() {
	if s == nil {
		return
	}
	for {
		s.mu.Lock()
		task, ok := s.popLocked()
		s.mu.Unlock()
		if !ok {
			return
		}
		span := trace.Begin(s.cfg.Tracer, trace.ScopeComponent, "sched.run", 0)
		ctx := &Context{s: s}
		task(ctx)
		if ctx.suspended {
			s.park(ctx.ticket.id, task)
			span.End("suspended")
		} else {
			s.mu.Lock()
			s.stats.Completed++
			s.mu.Unlock()
			span.End("completed")
		}
	}
}

// Idle reports whether there is nothing ready to run. Parked tasks do
// not count; a scheduler can be idle with suspensions outstanding.
func (s *Scheduler) Idle() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)-s.head == 0
}

// PendingTickets returns the number of unresolved suspensions.
func (s *Scheduler) PendingTickets() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// Stats returns a snapshot of task disposition counters.
func (s *Scheduler) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Context is handed to each task run. It is valid only for the duration
// of that run.
type Context struct {
	s         *Scheduler
	suspended bool
	ticket    Ticket
}

// Suspend parks the task once it returns from this run, and hands back
// the ticket governing its resumption. The ticket is live from this
// moment: it may be duplicated and resolved before the task returns,
// even from other goroutines. Repeated calls within one run return the
// same ticket.
func (c *Context) Suspend() Ticket {
	if c == nil || c.s == nil {
		return Ticket{}
	}
	if c.suspended {
		return c.ticket
	}
	c.suspended = true
	c.ticket = c.s.newTicket()
	trace.Point(c.s.cfg.Tracer, trace.ScopeEntry, "sched.suspend", ticketDetail(c.ticket.id))
	return c.ticket
}

// Scheduler returns the scheduler running this task.
func (c *Context) Scheduler() *Scheduler {
	if c == nil {
		return nil
	}
	return c.s
}

func (s *Scheduler) popLocked() (Task, bool) {
	if len(s.ready)-s.head == 0 {
		return nil, false
	}
	task := s.ready[s.head]
	s.ready[s.head] = nil
	s.head++
	if s.head >= len(s.ready) {
		s.ready = nil
		s.head = 0
	} else if s.head > 128 && s.head*2 >= len(s.ready) {
		remaining := append([]Task(nil), s.ready[s.head:]...)
		s.ready = remaining
		s.head = 0
	}
	return task, true
}
