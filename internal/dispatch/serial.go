package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// Serial is a goroutine-backed dispatcher: one background goroutine runs
// posted closures in FIFO order. Posting is cheap under contention
// because the run loop swap-drains the pending slice in batches.
type Serial struct {
	mu      sync.Mutex
	pending []func()
	closing bool

	wake chan struct{}
	done chan struct{}
	gid  atomic.Uint64
}

// NewSerial starts the dispatcher goroutine and returns the dispatcher.
func NewSerial() *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// PostTask appends fn to the queue. Returns false once Close has begun.
func (s *Serial) PostTask(fn func()) bool {
	if s == nil || fn == nil {
		return false
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayedTask schedules fn after delay on the dispatcher goroutine.
// The task is silently dropped if the dispatcher closes before it fires.
func (s *Serial) PostDelayedTask(fn func(), delay time.Duration) bool {
	if s == nil || fn == nil {
		return false
	}
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return false
	}
	if delay <= 0 {
		return s.PostTask(fn)
	}
	time.AfterFunc(delay, func() {
		_ = s.PostTask(fn)
	})
	return true
}

// InContext reports whether the caller is the dispatcher goroutine.
func (s *Serial) InContext() bool {
	if s == nil {
		return false
	}
	return goroutineID() == s.gid.Load()
}

// Close stops accepting new tasks, runs everything already posted, and
// waits for the dispatcher goroutine to exit. Calling Close from a task
// running on the dispatcher marks it closing without waiting.
func (s *Serial) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.InContext() {
		return
	}
	<-s.done
}

func (s *Serial) run() {
	s.gid.Store(goroutineID())
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			if s.closing {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		for i, fn := range batch {
			fn()
			batch[i] = nil
		}
	}
}
