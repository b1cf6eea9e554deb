package dispatch

import (
	"math"
	"time"

	"fortio.org/safecast"
)

// Clock supplies time and blocking behavior for delayed tasks.
type Clock interface {
	NowMs() uint64
	SleepUntilMs(deadlineMs uint64)
}

// VirtualClock advances loop time without blocking.
type VirtualClock struct {
	loop *Loop
}

func (c *VirtualClock) NowMs() uint64 {
	if c == nil || c.loop == nil {
		return 0
	}
	return c.loop.NowMs()
}

func (c *VirtualClock) SleepUntilMs(deadlineMs uint64) {
	if c == nil || c.loop == nil {
		return
	}
	c.loop.mu.Lock()
	if c.loop.nowMs < deadlineMs {
		c.loop.nowMs = deadlineMs
	}
	c.loop.mu.Unlock()
}

// RealClock blocks the OS thread until the requested deadline.
// It relies on NowFunc for monotonic time.
type RealClock struct {
	NowFunc func() uint64
}

func (c *RealClock) NowMs() uint64 {
	if c == nil || c.NowFunc == nil {
		return 0
	}
	return c.NowFunc()
}

func (c *RealClock) SleepUntilMs(deadlineMs uint64) {
	if c == nil {
		return
	}
	now := c.NowMs()
	if deadlineMs <= now {
		return
	}
	delta := deadlineMs - now
	maxMs := uint64(math.MaxInt64 / int64(time.Millisecond))
	if delta > maxMs {
		delta = maxMs
	}
	delay, err := safecast.Conv[int64](delta)
	if err != nil {
		return
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

// durationToMs converts a non-negative duration to whole milliseconds,
// rounding sub-millisecond delays up so they never fire early.
func durationToMs(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	u, err := safecast.Conv[uint64](int64(ms))
	if err != nil {
		return 0
	}
	return u
}
