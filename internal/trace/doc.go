// Package trace provides the tracing subsystem for the rendez runtime
// primitives.
//
// The trace package records scheduler runs, admission decisions, queue
// drains, and dispatcher activity to help diagnose stalls, leaked
// suspensions, and ordering bugs.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	rendez stress --trace=- --trace-level=core
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - NopTracer: Zero-overhead no-op tracer when disabled
//   - StreamTracer: Immediate write to output (file/stderr)
//   - RingTracer: Circular buffer for crash dumps
//   - MultiTracer: Combines multiple tracers
//
// # Levels
//
// Tracing verbosity is controlled by levels:
//
//   - LevelOff: No tracing
//   - LevelError: Only crash dumps
//   - LevelCore: Runtime and per-component boundaries
//   - LevelDetail: Per-component internals
//   - LevelDebug: Everything including per-entry events
//
// # Scopes
//
// Events are categorized by scope:
//
//   - ScopeRuntime: Top-level runs (a stress scenario, a drive loop)
//   - ScopeComponent: One primitive (scheduler, admission, queue)
//   - ScopeEntry: One task, ticket, closure, or admission slot
//
// # Context Propagation
//
// Tracers are propagated through drivers via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeComponent, "sched.run", parentID)
//	defer span.End("")
package trace
