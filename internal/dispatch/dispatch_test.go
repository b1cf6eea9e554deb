package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestLoopRunsPostedTasksFIFO(t *testing.T) {
	l := NewLoop()
	var order []int
	for i := range 4 {
		l.PostTask(func() { order = append(order, i) })
	}
	l.RunUntilIdle()

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestLoopReentrantPost(t *testing.T) {
	l := NewLoop()
	var order []string
	l.PostTask(func() {
		order = append(order, "outer")
		l.PostTask(func() { order = append(order, "inner") })
	})
	l.RunUntilIdle()

	if len(order) != 2 || order[1] != "inner" {
		t.Fatalf("reentrant post must run in the same pump, got %v", order)
	}
}

func TestLoopDelayedTaskFiresAtDeadline(t *testing.T) {
	l := NewLoop()
	fired := false
	l.PostDelayedTask(func() { fired = true }, 10*time.Millisecond)

	l.RunUntilIdle()
	if fired {
		t.Fatalf("delayed task fired before its deadline")
	}

	l.AdvanceBy(9 * time.Millisecond)
	if fired {
		t.Fatalf("delayed task fired 1ms early")
	}

	l.AdvanceBy(1 * time.Millisecond)
	if !fired {
		t.Fatalf("delayed task did not fire at its deadline")
	}
}

func TestLoopTimersFireInDeadlineOrder(t *testing.T) {
	l := NewLoop()
	var order []string
	l.PostDelayedTask(func() { order = append(order, "late") }, 20*time.Millisecond)
	l.PostDelayedTask(func() { order = append(order, "early") }, 5*time.Millisecond)
	l.PostDelayedTask(func() { order = append(order, "mid") }, 10*time.Millisecond)

	l.AdvanceBy(30 * time.Millisecond)

	want := []string{"early", "mid", "late"}
	if len(order) != len(want) {
		t.Fatalf("want %d timers, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestLoopCancelTimer(t *testing.T) {
	l := NewLoop()
	fired := false
	id := l.ScheduleTimer(func() { fired = true }, 5*time.Millisecond)

	if !l.TimerActive(id) {
		t.Fatalf("freshly scheduled timer must be active")
	}
	l.CancelTimer(id)
	if l.TimerActive(id) {
		t.Fatalf("cancelled timer must not report active")
	}

	l.AdvanceBy(10 * time.Millisecond)
	if fired {
		t.Fatalf("cancelled timer fired")
	}
}

func TestLoopSubMillisecondDelayRoundsUp(t *testing.T) {
	l := NewLoop()
	fired := false
	l.PostDelayedTask(func() { fired = true }, 100*time.Microsecond)

	l.RunUntilIdle()
	if fired {
		t.Fatalf("sub-millisecond delay fired at time zero")
	}
	l.AdvanceBy(1 * time.Millisecond)
	if !fired {
		t.Fatalf("sub-millisecond delay must fire within 1ms")
	}
}

func TestLoopStopDiscardsWork(t *testing.T) {
	l := NewLoop()
	l.PostTask(func() { t.Fatal("ran after Stop") })
	l.PostDelayedTask(func() { t.Fatal("timer ran after Stop") }, time.Millisecond)
	l.Stop()

	if l.PostTask(func() {}) {
		t.Fatalf("PostTask must refuse after Stop")
	}
	l.AdvanceBy(10 * time.Millisecond)
	l.RunUntilIdle()
}

func TestLoopInContext(t *testing.T) {
	l := NewLoop()
	if !l.InContext() {
		t.Fatalf("creating goroutine must be in context")
	}
	result := make(chan bool, 1)
	go func() { result <- l.InContext() }()
	if <-result {
		t.Fatalf("other goroutines must not be in context")
	}
}

func TestSerialRunsTasksInOrder(t *testing.T) {
	s := NewSerial()
	defer s.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := range 100 {
		s.PostTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	s.PostTask(func() { close(done) })
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestSerialInContext(t *testing.T) {
	s := NewSerial()
	defer s.Close()

	result := make(chan bool, 1)
	s.PostTask(func() { result <- s.InContext() })
	if !<-result {
		t.Fatalf("tasks must observe InContext on the dispatcher goroutine")
	}
	if s.InContext() {
		t.Fatalf("test goroutine must not be in context")
	}
}

func TestSerialCloseDrainsPostedTasks(t *testing.T) {
	s := NewSerial()
	ran := 0
	var mu sync.Mutex
	for range 50 {
		s.PostTask(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if ran != 50 {
		t.Fatalf("Close must run already-posted tasks, ran %d of 50", ran)
	}
}

func TestSerialRefusesPostAfterClose(t *testing.T) {
	s := NewSerial()
	s.Close()
	if s.PostTask(func() {}) {
		t.Fatalf("PostTask must return false after Close")
	}
}

func TestSerialDelayedTask(t *testing.T) {
	s := NewSerial()
	defer s.Close()

	fired := make(chan struct{})
	if !s.PostDelayedTask(func() { close(fired) }, time.Millisecond) {
		t.Fatalf("PostDelayedTask refused on a live dispatcher")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("delayed task never fired")
	}
}

func TestDurationToMsRoundsUp(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want uint64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
	}
	for _, tc := range cases {
		if got := durationToMs(tc.in); got != tc.want {
			t.Fatalf("durationToMs(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
