// Package dispatch provides the execution contexts that the rendezvous
// primitives marshal work onto. A dispatcher owns exactly one logical
// execution context; closures posted to it run there in FIFO order per
// poster. Components take their dispatcher as an explicit constructor
// argument, never from ambient state.
package dispatch

import "time"

// Dispatcher posts closures onto one designated execution context.
type Dispatcher interface {
	// PostTask schedules fn to run on the dispatcher context.
	// Returns false if the dispatcher no longer accepts work.
	PostTask(fn func()) bool
}

// DelayedDispatcher extends Dispatcher with timer-driven posting.
type DelayedDispatcher interface {
	Dispatcher

	// PostDelayedTask schedules fn to run on the dispatcher context no
	// earlier than delay from now. Returns false if rejected.
	PostDelayedTask(fn func(), delay time.Duration) bool
}

// ContextChecker reports whether the calling goroutine is the
// dispatcher's designated execution context. Dispatchers that can
// identify their context implement it; callers that need affinity
// enforcement type-assert for it.
type ContextChecker interface {
	InContext() bool
}
