package sched

import (
	"strconv"

	"rendez/internal/trace"
)

// TicketID is an opaque handle into the scheduler's suspension table.
type TicketID uint64

func ticketDetail(id TicketID) string {
	return "ticket " + strconv.FormatUint(uint64(id), 10)
}

// ticketState tracks one suspended (or suspending) task. refs counts
// outstanding ticket duplicates; resume is sticky-OR across resolutions.
// task stays nil until the owning run returns and parks, which is how a
// ticket fully resolved mid-run still disposes of the task correctly.
type ticketState struct {
	refs   int
	resume bool
	task   Task
}

// Ticket is one claim on a suspended task's resumption decision. Each
// claim must be resolved exactly once; Duplicate mints additional
// claims. The task resumes when the last claim resolves, if any claim
// requested resumption; otherwise it is abandoned.
type Ticket struct {
	s  *Scheduler
	id TicketID
}

// Valid reports whether the ticket refers to a live suspension claim.
func (t Ticket) Valid() bool {
	return t.s != nil && t.id != 0
}

// Duplicate mints an additional claim on the same suspension. The new
// claim must itself be resolved exactly once.
func (t Ticket) Duplicate() Ticket {
	if !t.Valid() {
		return t
	}
	s := t.s
	s.mu.Lock()
	st := s.parked[t.id]
	if st == nil || st.refs == 0 {
		s.mu.Unlock()
		if s.cfg.Strict {
			panic("sched: Duplicate on a resolved ticket")
		}
		return Ticket{}
	}
	st.refs++
	s.mu.Unlock()
	return t
}

// Resolve consumes one claim. resume requests that the task run again;
// the request is sticky, so the task resumes if any claim asked for it.
// The final Resolve either re-enqueues the task or discards it.
// Resolving more claims than exist is a contract violation: panic in
// strict mode, no-op otherwise.
func (t Ticket) Resolve(resume bool) {
	if !t.Valid() {
		return
	}
	s := t.s
	s.mu.Lock()
	st := s.parked[t.id]
	if st == nil || st.refs == 0 {
		s.mu.Unlock()
		if s.cfg.Strict {
			panic("sched: Resolve on a resolved ticket")
		}
		return
	}
	if resume {
		st.resume = true
	}
	st.refs--
	if st.refs == 0 && st.task != nil {
		s.finalizeLocked(t.id, st)
	}
	s.mu.Unlock()
}

// newTicket registers a fresh suspension claim with one reference.
func (s *Scheduler) newTicket() Ticket {
	s.mu.Lock()
	if s.nextTicket == 0 {
		s.nextTicket = 1
	}
	id := s.nextTicket
	s.nextTicket++
	if s.parked == nil {
		s.parked = make(map[TicketID]*ticketState)
	}
	s.parked[id] = &ticketState{refs: 1}
	s.stats.Suspended++
	s.mu.Unlock()
	return Ticket{s: s, id: id}
}

// park attaches the task body to its ticket once the suspending run has
// returned. If every claim already resolved mid-run, the disposition
// fires now.
func (s *Scheduler) park(id TicketID, task Task) {
	s.mu.Lock()
	st := s.parked[id]
	if st == nil {
		// Ticket table entries are only removed at finalize, which
		// requires the task to be attached first.
		s.mu.Unlock()
		return
	}
	st.task = task
	if st.refs == 0 {
		s.finalizeLocked(id, st)
	}
	s.mu.Unlock()
}

// finalizeLocked applies the final disposition. Caller holds s.mu.
func (s *Scheduler) finalizeLocked(id TicketID, st *ticketState) {
	delete(s.parked, id)
	if st.resume {
		s.ready = append(s.ready, st.task)
		s.stats.Resumed++
		trace.Point(s.cfg.Tracer, trace.ScopeEntry, "sched.resume", ticketDetail(id))
	} else {
		s.stats.Abandoned++
		trace.Point(s.cfg.Tracer, trace.ScopeEntry, "sched.abandon", ticketDetail(id))
	}
}
