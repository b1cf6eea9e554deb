package serialq

import (
	"sync"
	"testing"

	"rendez/internal/dispatch"
	"rendez/internal/trace"
)

// recordingDispatcher captures posted drains so tests can run them by
// hand and count how often the queue posted.
type recordingDispatcher struct {
	posts  []func()
	refuse bool
}

func (d *recordingDispatcher) PostTask(fn func()) bool {
	if d.refuse {
		return false
	}
	d.posts = append(d.posts, fn)
	return true
}

func (d *recordingDispatcher) runAll() {
	for len(d.posts) > 0 {
		fn := d.posts[0]
		d.posts = d.posts[1:]
		fn()
	}
}

func TestEnqueueRunsInOrder(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	var order []int
	for i := range 4 {
		q.Enqueue(func() { order = append(order, i) })
	}
	d.runAll()

	if len(order) != 4 {
		t.Fatalf("want 4 runs, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestSingleDrainPostForBurst(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	for range 10 {
		q.Enqueue(func() {})
	}
	if len(d.posts) != 1 {
		t.Fatalf("a burst of enqueues should post one drain, got %d", len(d.posts))
	}
	d.runAll()
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after the drain, got %d", q.Len())
	}
}

func TestMidDrainEnqueueRunsSamePass(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	var order []string
	q.Enqueue(func() {
		order = append(order, "first")
		q.Enqueue(func() { order = append(order, "nested") })
	})
	d.runAll()

	if len(d.posts) != 0 {
		t.Fatalf("mid-drain enqueue must not post a second drain")
	}
	if len(order) != 2 || order[1] != "nested" {
		t.Fatalf("nested closure must run in the same drain pass, got %v", order)
	}
}

func TestStopAndClearDropsPending(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	ran := 0
	cleaned := 0
	q.Enqueue(func() { q.StopAndClear() })
	q.EnqueueWithCleanup(func() { ran++ }, func() { cleaned++ })
	q.Enqueue(func() { ran++ })
	d.runAll()

	if ran != 0 {
		t.Fatalf("closures behind the stop must not run, got %d", ran)
	}
	if cleaned != 1 {
		t.Fatalf("dropped closure's cleanup must run exactly once, got %d", cleaned)
	}
	if !q.Stopped() {
		t.Fatalf("queue must report stopped")
	}
}

func TestEnqueueAfterStopDropsImmediately(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	q.Enqueue(func() { q.StopAndClear() })
	d.runAll()

	ran := 0
	cleaned := 0
	q.EnqueueWithCleanup(func() { ran++ }, func() { cleaned++ })

	if ran != 0 || cleaned != 1 {
		t.Fatalf("post-stop enqueue must drop with cleanup, ran=%d cleaned=%d", ran, cleaned)
	}
	if len(d.posts) != 0 {
		t.Fatalf("post-stop enqueue must not touch the dispatcher")
	}
}

func TestStopAndClearIdempotent(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	q.Enqueue(func() {
		q.StopAndClear()
		q.StopAndClear()
	})
	d.runAll()
	if !q.Stopped() {
		t.Fatalf("queue must stay stopped")
	}
}

func TestRefusedPostDiscardsWithCleanup(t *testing.T) {
	d := &recordingDispatcher{refuse: true}
	q := New(d)
	cleaned := 0
	q.EnqueueWithCleanup(func() { t.Fatal("ran on a dead dispatcher") }, func() { cleaned++ })

	if cleaned != 1 {
		t.Fatalf("refused post must trigger cleanup, got %d", cleaned)
	}
	if !q.Stopped() {
		t.Fatalf("queue bound to a dead dispatcher must stop")
	}
}

func TestNilRunStillCleansUp(t *testing.T) {
	d := &recordingDispatcher{}
	q := New(d)
	cleaned := 0
	q.EnqueueWithCleanup(nil, func() { cleaned++ })
	if cleaned != 1 {
		t.Fatalf("nil run must invoke its cleanup, got %d", cleaned)
	}
}

func TestNewPanicsOnNilDispatcher(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil dispatcher")
		}
	}()
	New(nil)
}

func TestCrossGoroutineFIFO(t *testing.T) {
	serial := dispatch.NewSerial()
	defer serial.Close()
	q := New(serial)

	const n = 500
	var mu sync.Mutex
	next := 0
	got := make([]int, 0, n)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range n / 4 {
				mu.Lock()
				seq := next
				next++
				q.Enqueue(func() {
					got = append(got, seq)
				})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	flushed := make(chan struct{})
	q.Enqueue(func() { close(flushed) })
	<-flushed

	if len(got) != n {
		t.Fatalf("want %d runs, got %d", n, len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d (FIFO violated)", i, v, i)
		}
	}
}

func TestStopOffContextPanics(t *testing.T) {
	serial := dispatch.NewSerial()
	defer serial.Close()
	q := New(serial)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for off-context StopAndClear")
		}
	}()
	q.StopAndClear()
}

func TestTracerSeesDrainPasses(t *testing.T) {
	ring := trace.NewRingTracer(16, trace.LevelDebug)
	d := &recordingDispatcher{}
	q := NewTraced(d, ring)
	q.Enqueue(func() {})
	q.Enqueue(func() {})
	d.runAll()

	events := ring.Snapshot()
	var end *trace.Event
	for i := range events {
		if events[i].Name == "serialq.drain" && events[i].Kind == trace.KindSpanEnd {
			end = &events[i]
		}
	}
	if end == nil {
		t.Fatalf("drain must emit a component span end")
	}
	if got := end.Extra["entries"]; got != "2" {
		t.Fatalf("want 2 drained entries recorded, got %q", got)
	}
}

func TestTracerSeesDroppedClosures(t *testing.T) {
	ring := trace.NewRingTracer(16, trace.LevelDebug)
	d := &recordingDispatcher{}
	q := NewTraced(d, ring)
	q.Enqueue(func() { q.StopAndClear() })
	q.Enqueue(func() {})
	q.Enqueue(func() {})
	d.runAll()
	q.Enqueue(func() {})

	drops := 0
	for _, ev := range ring.Snapshot() {
		if ev.Name == "serialq.drop" {
			drops++
		}
	}
	// One point for the two closures cleared by the stop, one for the
	// enqueue after it.
	if drops != 2 {
		t.Fatalf("want 2 drop points, got %d", drops)
	}
}
