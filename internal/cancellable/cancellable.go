// Package cancellable provides shared completion tokens that pair an
// at-most-once completion callback with independent, idempotent
// cancellation. A token represents one outstanding asynchronous
// operation: the issuer keeps the token to cancel the operation, the
// operation keeps the wrapped callback to complete it, and whichever
// side runs first wins.
package cancellable

import "sync"

// Cancellable tracks completion and cancellation of one outstanding
// operation. The zero value is not usable; construct with New. The
// pointer is the shared handle: both the issuer and the wrapped callback
// hold it, and the callback closes over it for its entire run, so a
// racing Cancel can never observe a freed token.
type Cancellable struct {
	mu        sync.Mutex
	done      bool
	cancelled bool
	onCancel  func()
	onDone    func()
}

// New allocates a token in the not-done, not-cancelled state. onCancel
// fires at most once, from Cancel, and may be nil.
func New(onCancel func()) *Cancellable {
	return &Cancellable{onCancel: onCancel}
}

// Wrap returns fn guarded by the token. The first invocation of the
// returned closure marks the token done strictly before fn begins; any
// later invocation is a no-op. After fn returns, the on-done hook runs
// unless the token has been cancelled, including a Cancel issued from
// within fn itself.
func (c *Cancellable) Wrap(fn func()) func() {
	return func() {
		c.mu.Lock()
		if c.done {
			c.mu.Unlock()
			return
		}
		c.done = true
		c.mu.Unlock()

		if fn != nil {
			fn()
		}

		c.mu.Lock()
		onDone := c.onDone
		suppressed := c.cancelled
		c.mu.Unlock()
		if !suppressed && onDone != nil {
			onDone()
		}
	}
}

// Cancel marks the token cancelled. If the wrapped callback has not yet
// started, the on-cancel hook fires and the token becomes done, so the
// callback will never run. Idempotent; safe to call from within the
// wrapped callback, in which case the on-cancel hook is not invoked and
// the pending on-done hook is suppressed.
func (c *Cancellable) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	onCancel := c.onCancel
	c.mu.Unlock()
	if onCancel != nil {
		onCancel()
	}
}

// Done reports whether the operation completed or was cancelled.
func (c *Cancellable) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Cancelled reports whether Cancel has been called.
func (c *Cancellable) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// SetOnDone installs a hook that runs after a wrapped callback completes
// without cancellation. Must be set before the wrapped callback runs to
// be guaranteed effect.
func (c *Cancellable) SetOnDone(fn func()) {
	c.mu.Lock()
	c.onDone = fn
	c.mu.Unlock()
}

// Wrap1 is Wrap for callbacks that take one argument.
func Wrap1[T any](c *Cancellable, fn func(T)) func(T) {
	return func(v T) {
		c.mu.Lock()
		if c.done {
			c.mu.Unlock()
			return
		}
		c.done = true
		c.mu.Unlock()

		if fn != nil {
			fn(v)
		}

		c.mu.Lock()
		onDone := c.onDone
		suppressed := c.cancelled
		c.mu.Unlock()
		if !suppressed && onDone != nil {
			onDone()
		}
	}
}
