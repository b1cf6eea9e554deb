package stress

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"rendez/internal/trace"
)

// Status describes where a scenario is in its lifecycle.
type Status uint8

const (
	StatusQueued Status = iota
	StatusWorking
	StatusDone
	StatusError
)

// Event reports a scenario status change to a progress sink.
type Event struct {
	Scenario string
	Status   Status
}

// Sink receives progress events. Publish must be safe from any
// goroutine.
type Sink interface {
	Publish(Event)
}

// ChannelSink forwards events to a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) Publish(ev Event) {
	if s.Ch != nil {
		s.Ch <- ev
	}
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Result summarizes one scenario run.
type Result struct {
	Scenario   string
	Ops        int
	Violations int
	Elapsed    time.Duration
	Err        error
}

// Run executes every scenario in the profile, at most profile.Jobs at a
// time, and returns per-scenario results in profile order. A scenario
// error does not stop the others; the first error is also returned.
func Run(ctx context.Context, profile *Profile, tracer trace.Tracer, sink Sink) ([]Result, error) {
	if profile == nil {
		profile = DefaultProfile()
	}
	if tracer == nil {
		tracer = trace.Nop
	}
	if sink == nil {
		sink = nopSink{}
	}

	for _, sc := range profile.Scenarios {
		sink.Publish(Event{Scenario: sc.Name, Status: StatusQueued})
	}

	results := make([]Result, len(profile.Scenarios))
	g := new(errgroup.Group)
	if profile.Jobs > 0 {
		g.SetLimit(profile.Jobs)
	}
	for i, sc := range profile.Scenarios {
		g.Go(func() error {
			sink.Publish(Event{Scenario: sc.Name, Status: StatusWorking})
			span := trace.Begin(tracer, trace.ScopeRuntime, "stress."+sc.Name, 0)
			res := runScenario(ctx, sc, profile.Seed+int64(i), tracer)
			span.WithExtra("ops", fmt.Sprint(res.Ops)).
				WithExtra("violations", fmt.Sprint(res.Violations)).
				End(statusDetail(res))
			results[i] = res
			if res.Err != nil {
				sink.Publish(Event{Scenario: sc.Name, Status: StatusError})
				return res.Err
			}
			sink.Publish(Event{Scenario: sc.Name, Status: StatusDone})
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func statusDetail(res Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	if res.Violations > 0 {
		return fmt.Sprintf("%d violations", res.Violations)
	}
	return "clean"
}

func runScenario(ctx context.Context, sc ScenarioConfig, seed int64, tracer trace.Tracer) Result {
	// Profiles built in code may leave limits unset; apply the same
	// defaults LoadProfile does so worker pools are never sized zero.
	if sc.Ops <= 0 {
		sc.Ops = defaultScenarioOps
	}
	if sc.Workers <= 0 {
		sc.Workers = defaultScenarioWorkers
	}
	start := time.Now()
	var res Result
	switch sc.Name {
	case "cancel":
		res = runCancel(ctx, sc, seed)
	case "admission":
		res = runAdmission(ctx, sc, seed, tracer)
	case "fifo":
		res = runFIFO(ctx, sc, seed, tracer)
	case "churn":
		res = runChurn(ctx, sc, seed, tracer)
	default:
		res = Result{Scenario: sc.Name, Err: fmt.Errorf("unknown scenario %q", sc.Name)}
	}
	res.Scenario = sc.Name
	res.Elapsed = time.Since(start)
	if res.Err == nil && res.Violations > 0 {
		res.Err = fmt.Errorf("scenario %q observed %d invariant violations", sc.Name, res.Violations)
	}
	return res
}
