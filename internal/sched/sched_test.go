package sched

import (
	"sync"
	"testing"

	"rendez/internal/trace"
)

func TestRunUntilIdleRunsFIFO(t *testing.T) {
	s := New(Config{})
	var order []int
	for i := range 5 {
		s.Schedule(func(*Context) { order = append(order, i) })
	}
	s.RunUntilIdle()

	if len(order) != 5 {
		t.Fatalf("want 5 runs, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
	if got := s.Stats().Completed; got != 5 {
		t.Fatalf("want 5 completed, got %d", got)
	}
}

func TestScheduleFromRunningTaskSamePass(t *testing.T) {
	s := New(Config{})
	var order []string
	s.Schedule(func(c *Context) {
		order = append(order, "outer")
		c.Scheduler().Schedule(func(*Context) { order = append(order, "inner") })
	})
	s.RunUntilIdle()

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("want [outer inner], got %v", order)
	}
}

func TestSuspendAndResume(t *testing.T) {
	s := New(Config{})
	runs := 0
	var ticket Ticket
	s.Schedule(func(c *Context) {
		runs++
		if runs == 1 {
			ticket = c.Suspend()
		}
	})
	s.RunUntilIdle()

	if runs != 1 {
		t.Fatalf("want 1 run before resolution, got %d", runs)
	}
	if !s.Idle() {
		t.Fatalf("scheduler must be idle while the task is parked")
	}
	if s.PendingTickets() != 1 {
		t.Fatalf("want 1 pending ticket, got %d", s.PendingTickets())
	}

	ticket.Resolve(true)
	s.RunUntilIdle()

	if runs != 2 {
		t.Fatalf("want the task to run again after resume, got %d runs", runs)
	}
	if s.PendingTickets() != 0 {
		t.Fatalf("ticket table must be empty after finalization")
	}
	stats := s.Stats()
	if stats.Resumed != 1 || stats.Suspended != 1 {
		t.Fatalf("want 1 suspended / 1 resumed, got %+v", stats)
	}
}

func TestAbandonWhenNoClaimRequestsResume(t *testing.T) {
	s := New(Config{})
	runs := 0
	var ticket Ticket
	s.Schedule(func(c *Context) {
		runs++
		ticket = c.Suspend()
	})
	s.RunUntilIdle()

	ticket.Resolve(false)
	s.RunUntilIdle()

	if runs != 1 {
		t.Fatalf("abandoned task must not run again, got %d runs", runs)
	}
	if got := s.Stats().Abandoned; got != 1 {
		t.Fatalf("want 1 abandoned, got %d", got)
	}
}

func TestStickyResumeAcrossDuplicates(t *testing.T) {
	s := New(Config{})
	runs := 0
	var ticket Ticket
	s.Schedule(func(c *Context) {
		runs++
		if runs == 1 {
			ticket = c.Suspend()
			ticket.Duplicate()
			ticket.Duplicate()
		}
	})
	s.RunUntilIdle()

	// Resume request in the middle; later "abandon" votes must not undo it.
	ticket.Resolve(false)
	ticket.Resolve(true)
	if runs != 1 {
		t.Fatalf("task resumed before the final claim resolved")
	}
	ticket.Resolve(false)
	s.RunUntilIdle()

	if runs != 2 {
		t.Fatalf("want resume after the last claim, got %d runs", runs)
	}
}

func TestSuspendIdempotentWithinRun(t *testing.T) {
	s := New(Config{})
	var first, second Ticket
	s.Schedule(func(c *Context) {
		first = c.Suspend()
		second = c.Suspend()
	})
	s.RunUntilIdle()

	if first != second {
		t.Fatalf("repeated Suspend in one run must return the same ticket")
	}
	if s.PendingTickets() != 1 {
		t.Fatalf("want a single suspension, got %d", s.PendingTickets())
	}
	first.Resolve(false)
}

func TestResolveBeforeParkCompletes(t *testing.T) {
	// The ticket is live from the moment Suspend returns; resolving every
	// claim while the task is still running must still dispose of it once
	// the run returns.
	s := New(Config{})
	runs := 0
	s.Schedule(func(c *Context) {
		runs++
		if runs > 1 {
			return
		}
		ticket := c.Suspend()
		ticket.Resolve(true)
	})
	s.RunUntilIdle()

	if runs != 2 {
		t.Fatalf("want the task re-enqueued and run, got %d runs", runs)
	}
	if s.PendingTickets() != 0 {
		t.Fatalf("ticket leaked after mid-run resolution")
	}
}

func TestResolveFromAnotherGoroutine(t *testing.T) {
	s := New(Config{})
	runs := 0
	var ticket Ticket
	s.Schedule(func(c *Context) {
		runs++
		if runs == 1 {
			ticket = c.Suspend()
		}
	})
	s.RunUntilIdle()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticket.Resolve(true)
	}()
	wg.Wait()
	s.RunUntilIdle()

	if runs != 2 {
		t.Fatalf("cross-goroutine resolution must resume the task, got %d runs", runs)
	}
}

func TestStrictDoubleResolvePanics(t *testing.T) {
	s := New(Config{Strict: true})
	var ticket Ticket
	s.Schedule(func(c *Context) { ticket = c.Suspend() })
	s.RunUntilIdle()

	ticket.Resolve(false)
	s.RunUntilIdle()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on resolving a resolved ticket in strict mode")
		}
	}()
	ticket.Resolve(true)
}

func TestLenientDoubleResolveIgnored(t *testing.T) {
	s := New(Config{})
	var ticket Ticket
	s.Schedule(func(c *Context) { ticket = c.Suspend() })
	s.RunUntilIdle()

	ticket.Resolve(false)
	ticket.Resolve(true)
	s.RunUntilIdle()

	if got := s.Stats().Abandoned; got != 1 {
		t.Fatalf("late resolve must not change the disposition, got %+v", s.Stats())
	}
}

func TestPromiseCompletesOnce(t *testing.T) {
	s := New(Config{})
	p := s.NewPromise()
	var got []any
	p.Then(func(v any) { got = append(got, v) })

	p.Complete("first")
	p.Complete("second")
	s.RunUntilIdle()

	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("want exactly [first], got %v", got)
	}
	if !p.Done() {
		t.Fatalf("promise must read as done after completion")
	}
}

func TestPromiseThenAfterCompletion(t *testing.T) {
	s := New(Config{})
	p := s.NewPromise()
	p.Complete(42)

	var got any
	p.Then(func(v any) { got = v })
	s.RunUntilIdle()

	if got != 42 {
		t.Fatalf("late observer should still fire with the value, got %v", got)
	}
}

func TestPromiseResolvesTicket(t *testing.T) {
	s := New(Config{})
	p := s.NewPromise()
	runs := 0
	s.Schedule(func(c *Context) {
		runs++
		if runs == 1 {
			p.ResolveOnComplete(c.Suspend())
		}
	})
	s.RunUntilIdle()

	if runs != 1 {
		t.Fatalf("task must be parked until the promise lands")
	}
	p.Complete(nil)
	s.RunUntilIdle()

	if runs != 2 {
		t.Fatalf("promise completion must resume the waiting task, got %d runs", runs)
	}
}

func TestTracerSeesRunsAndTicketDispositions(t *testing.T) {
	ring := trace.NewRingTracer(64, trace.LevelDebug)
	s := New(Config{Tracer: ring})

	var resumed, abandoned Ticket
	runs := 0
	s.Schedule(func(c *Context) {
		runs++
		if runs == 1 {
			resumed = c.Suspend()
		}
	})
	s.Schedule(func(c *Context) { abandoned = c.Suspend() })
	s.RunUntilIdle()
	resumed.Resolve(true)
	abandoned.Resolve(false)
	s.RunUntilIdle()

	names := map[string]int{}
	for _, ev := range ring.Snapshot() {
		names[ev.Name]++
	}
	// Three runs (two first legs plus the resume), begin and end each.
	if names["sched.run"] != 6 {
		t.Fatalf("want 6 sched.run events, got %d", names["sched.run"])
	}
	if names["sched.suspend"] != 2 {
		t.Fatalf("want 2 sched.suspend points, got %d", names["sched.suspend"])
	}
	if names["sched.resume"] != 1 || names["sched.abandon"] != 1 {
		t.Fatalf("want one resume and one abandon point, got %d and %d",
			names["sched.resume"], names["sched.abandon"])
	}
}

func TestCoreLevelTracerStaysQuiet(t *testing.T) {
	ring := trace.NewRingTracer(64, trace.LevelCore)
	s := New(Config{Tracer: ring})
	s.Schedule(func(c *Context) { c.Suspend().Resolve(false) })
	s.RunUntilIdle()

	if got := ring.Len(); got != 0 {
		t.Fatalf("component and entry events must not pass a core-level tracer, got %d", got)
	}
}
