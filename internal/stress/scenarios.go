package stress

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"rendez/internal/admission"
	"rendez/internal/cancellable"
	"rendez/internal/dispatch"
	"rendez/internal/sched"
	"rendez/internal/serialq"
	"rendez/internal/trace"
)

// runCancel races wrapped-callback invocation against cancellation.
// Exactly one of {callback, on-cancel} must win each op, and neither may
// fire twice.
func runCancel(ctx context.Context, sc ScenarioConfig, _ int64) Result {
	var violations atomic.Int64
	var g errgroup.Group
	g.SetLimit(sc.Workers)
	for range sc.Ops {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var runs, cancels atomic.Int32
			token := cancellable.New(func() { cancels.Add(1) })
			wrapped := token.Wrap(func() { runs.Add(1) })

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				wrapped()
				wrapped()
			}()
			go func() {
				defer wg.Done()
				token.Cancel()
				token.Cancel()
			}()
			wg.Wait()

			if runs.Load()+cancels.Load() != 1 {
				violations.Add(1)
			}
			if !token.Done() || !token.Cancelled() {
				violations.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return Result{Ops: sc.Ops, Violations: int(violations.Load()), Err: err}
}

// runAdmission hammers a controller with mixed-mode TryAdd from many
// goroutines and checks mutual exclusion at every continuation.
func runAdmission(ctx context.Context, sc ScenarioConfig, seed int64, tracer trace.Tracer) Result {
	serial := dispatch.NewSerial()
	q := serialq.NewTraced(serial, tracer)
	ctrl := admission.NewTracedController(q, tracer)

	var violations atomic.Int64
	var conts sync.WaitGroup

	var heldMu sync.Mutex
	var held []*admission.Admission

	perWorker := sc.Ops / sc.Workers
	var workers sync.WaitGroup
	for w := range sc.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			rng := rand.New(rand.NewSource(seed + int64(w))) //nolint:gosec // deterministic workload seed
			for i := range perWorker {
				if ctx.Err() != nil {
					return
				}
				multi := rng.Intn(4) != 0
				keep := i%3 == 0
				conts.Add(1)
				ctrl.TryAdd(multi, func(adm *admission.Admission) {
					defer conts.Done()
					single, multiCount := ctrl.Counts()
					if single > 0 && multiCount > 0 {
						violations.Add(1)
					}
					if single > 1 {
						violations.Add(1)
					}
					if adm == nil {
						return
					}
					if keep {
						heldMu.Lock()
						held = append(held, adm)
						heldMu.Unlock()
						return
					}
					adm.Release()
				})
			}
		}()
	}
	workers.Wait()
	conts.Wait()

	heldMu.Lock()
	for _, adm := range held {
		adm.Release()
	}
	held = nil
	heldMu.Unlock()

	drained := make(chan struct{})
	ctrl.ShutDown(func() { close(drained) })
	<-drained
	serial.Close()

	if single, multi := ctrl.Counts(); single != 0 || multi != 0 {
		violations.Add(1)
	}
	return Result{Ops: sc.Ops, Violations: int(violations.Load()), Err: ctx.Err()}
}

// runFIFO checks closure ordering with many producers, then checks that
// a stopped queue drops (and cleans up) what it never ran.
func runFIFO(ctx context.Context, sc ScenarioConfig, _ int64, tracer trace.Tracer) Result {
	serial := dispatch.NewSerial()
	q := serialq.NewTraced(serial, tracer)

	var violations atomic.Int64
	var enqMu sync.Mutex
	next := 0
	runNext := 0 // touched only on the dispatcher context

	perWorker := sc.Ops / sc.Workers
	var workers sync.WaitGroup
	for range sc.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for range perWorker {
				if ctx.Err() != nil {
					return
				}
				enqMu.Lock()
				seq := next
				next++
				q.Enqueue(func() {
					if seq != runNext {
						violations.Add(1)
					}
					runNext++
				})
				enqMu.Unlock()
			}
		}()
	}
	workers.Wait()

	flushed := make(chan struct{})
	q.Enqueue(func() { close(flushed) })
	<-flushed

	// Teardown half: a queue stopped mid-drain runs nothing further and
	// cleans up what it drops.
	q2 := serialq.NewTraced(serial, tracer)
	var ranAfterStop, cleanups atomic.Int32
	q2.Enqueue(func() { q2.StopAndClear() })
	q2.EnqueueWithCleanup(
		func() { ranAfterStop.Add(1) },
		func() { cleanups.Add(1) },
	)
	teardownDone := make(chan struct{})
	serial.PostTask(func() { close(teardownDone) })
	<-teardownDone
	serial.Close()

	if ranAfterStop.Load() != 0 || cleanups.Load() != 1 {
		violations.Add(1)
	}
	if !q2.Stopped() {
		violations.Add(1)
	}
	return Result{Ops: sc.Ops, Violations: int(violations.Load()), Err: ctx.Err()}
}

// runChurn suspends many tasks, duplicates their tickets across
// resolver goroutines, and verifies sticky-resume: a task resumes
// exactly once when any claim asked for it, and never when none did.
func runChurn(ctx context.Context, sc ScenarioConfig, seed int64, tracer trace.Tracer) Result {
	s := sched.New(sched.Config{Tracer: tracer})
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic workload seed

	type claim struct {
		ticket sched.Ticket
		resume bool
	}
	var claims []claim
	var expectedResume int64
	var resumedRuns atomic.Int64

	for range sc.Ops {
		dups := 1 + rng.Intn(3)
		flags := make([]bool, dups)
		anyResume := false
		for j := range flags {
			flags[j] = rng.Intn(10) != 0
			anyResume = anyResume || flags[j]
		}
		if anyResume {
			expectedResume++
		}
		first := true
		s.Schedule(func(c *sched.Context) {
			if !first {
				resumedRuns.Add(1)
				return
			}
			first = false
			t := c.Suspend()
			for j := range flags {
				if j > 0 {
					t.Duplicate()
				}
				claims = append(claims, claim{ticket: t, resume: flags[j]})
			}
		})
	}

	// First legs run here; every task parks and registers its claims.
	s.RunUntilIdle()

	var g errgroup.Group
	g.SetLimit(sc.Workers)
	resolversDone := make(chan struct{})
	go func() {
		for _, cl := range claims {
			g.Go(func() error {
				cl.ticket.Resolve(cl.resume)
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // resolvers cannot fail
		close(resolversDone)
	}()

	for {
		s.RunUntilIdle()
		select {
		case <-resolversDone:
		default:
			runtime.Gosched()
			continue
		}
		if s.Idle() {
			break
		}
	}
	s.RunUntilIdle()

	var violations int
	if resumedRuns.Load() != expectedResume {
		violations++
	}
	if s.PendingTickets() != 0 {
		violations++
	}
	stats := s.Stats()
	if stats.Abandoned != uint64(sc.Ops)-uint64(expectedResume) {
		violations++
	}

	// Release pipelines chain on promises pumped by the same scheduler.
	p := s.NewPromise()
	var thenRan bool
	p.Then(func(v any) { thenRan = v == "released" })
	p.Complete("released")
	p.Complete("ignored")
	s.RunUntilIdle()
	if !thenRan || !p.Done() {
		violations++
	}

	return Result{Ops: sc.Ops, Violations: violations, Err: ctx.Err()}
}
