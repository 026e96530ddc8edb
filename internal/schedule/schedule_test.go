package schedule

import (
	"errors"
	"sync"
	"testing"

	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/warning"
)

func acquireN(t *testing.T, p *Pool, names ...string) []Handle {
	t.Helper()
	hs := make([]Handle, len(names))
	for i, n := range names {
		h, err := p.Acquire(n)
		if err != nil {
			t.Fatalf("acquire %s: %v", n, err)
		}
		hs[i] = h
	}
	return hs
}

func recorder(log *[]string) func(arg any) {
	return func(arg any) { *log = append(*log, arg.(string)) }
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(2)
	acquireN(t, p, "a", "b")

	if _, err := p.Acquire("c"); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
	if p.InUse() != 2 || p.Cap() != 2 {
		t.Errorf("expected 2/2 in use, got %d/%d", p.InUse(), p.Cap())
	}
}

func TestPoolReleaseMakesHandleStale(t *testing.T) {
	p := NewPool(1)
	h := acquireN(t, p, "a")[0]
	if p.Name(h) != "a" {
		t.Errorf("expected name a, got %q", p.Name(h))
	}
	if err := p.Release(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Release(h); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle on double release, got %v", err)
	}

	h2 := acquireN(t, p, "b")[0]
	if h2 == h {
		t.Error("reacquired slot should carry a new generation")
	}
	q := NewQueue(p)
	if err := q.Insert(h, 10, Action{Fn: func(any) {}}); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle, got %v", err)
	}
	if (Handle{}).Valid() {
		t.Error("zero handle should be invalid")
	}
}

func TestQueueOrderAndTies(t *testing.T) {
	p := NewPool(5)
	hs := acquireN(t, p, "a", "b", "c", "d", "e")
	q := NewQueue(p)
	var got []string
	fn := recorder(&got)

	q.Insert(hs[0], 300, Action{Fn: fn, Arg: "a"})
	q.Insert(hs[1], 100, Action{Fn: fn, Arg: "b"})
	q.Insert(hs[2], 200, Action{Fn: fn, Arg: "c"})
	q.Insert(hs[3], 200, Action{Fn: fn, Arg: "d"})
	q.Insert(hs[4], 100, Action{Fn: fn, Arg: "e"})

	if q.Len() != 5 {
		t.Fatalf("expected 5 queued, got %d", q.Len())
	}
	if at, _ := q.Head(); at != 100 {
		t.Errorf("expected head at 100, got %d", at)
	}
	if e, _ := q.At(1); e.Name != "e" || e.AtUs != 100 {
		t.Errorf("expected e at 100 second, got %+v", e)
	}

	if n := q.ExecuteAll(250); n != 4 {
		t.Errorf("expected 4 executed, got %d", n)
	}
	want := []string{"b", "e", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 left, got %d", q.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	p := NewPool(3)
	hs := acquireN(t, p, "a", "b", "c")
	q := NewQueue(p)
	noop := Action{Fn: func(any) {}}
	for i, h := range hs {
		q.Insert(h, int64(100*(i+1)), noop)
	}

	if !q.Remove(hs[1]) {
		t.Error("expected removal of queued event")
	}
	if q.Remove(hs[1]) {
		t.Error("second removal should report false")
	}
	if !q.Remove(hs[0]) {
		t.Error("expected removal of head")
	}
	if e, _ := q.At(0); e.Name != "c" {
		t.Errorf("expected c to remain, got %+v", e)
	}
	q.Clear()
	if q.Len() != 0 || q.IsArmed(hs[2]) {
		t.Error("expected empty queue after Clear")
	}
}

func TestInsertArmedIsRejected(t *testing.T) {
	p := NewPool(1)
	h := acquireN(t, p, "a")[0]
	q := NewQueue(p)
	noop := Action{Fn: func(any) {}}

	if err := q.Insert(h, 10, noop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Insert(h, 20, noop); !errors.Is(err, ErrAlreadyArmed) {
		t.Errorf("expected ErrAlreadyArmed, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("expected a single entry, got %d", q.Len())
	}
	if err := q.Insert(h, 20, Action{}); !errors.Is(err, ErrNilAction) {
		t.Errorf("expected ErrNilAction, got %v", err)
	}
}

func TestCallbackCanRearmItself(t *testing.T) {
	p := NewPool(1)
	h := acquireN(t, p, "self")[0]
	q := NewQueue(p)
	runs := 0
	var a Action
	a = Action{Fn: func(any) {
		runs++
		if q.IsArmed(h) {
			t.Error("entry should be unlinked before its callback runs")
		}
		if err := q.Insert(h, 100, a); err != nil {
			t.Errorf("re-arm failed: %v", err)
		}
	}}
	q.Insert(h, 100, a)

	// re-armed at a due time, but only runs on the next pass
	if n := q.ExecuteAll(100); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}
	if n := q.ExecuteAll(100); n != 1 {
		t.Errorf("expected 1 run on the next pass, got %d", n)
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	p := NewPool(2)
	hs := acquireN(t, p, "bad", "good")
	q := NewQueue(p)
	ran := false
	q.Insert(hs[0], 10, Action{Name: "bad", Fn: func(any) { panic("boom") }})
	q.Insert(hs[1], 20, Action{Name: "good", Fn: func(any) { ran = true }})

	if n := q.ExecuteAll(100); n != 2 {
		t.Errorf("expected 2 executed, got %d", n)
	}
	if !ran {
		t.Error("callback after the panicking one should still run")
	}
	if q.CallbackFaults() != 1 {
		t.Errorf("expected 1 fault, got %d", q.CallbackFaults())
	}
	// the bad record is reusable
	if err := q.Insert(hs[0], 200, Action{Fn: func(any) {}}); err != nil {
		t.Errorf("expected re-arm to work, got %v", err)
	}
}

func newTestExecutor(t *testing.T, capacity int) (*Executor, *Pool, *hwtimer.Sim, *warning.Ring) {
	t.Helper()
	p := NewPool(capacity)
	sim := hwtimer.NewSim(1000)
	warn := warning.NewRing(warning.DefaultCapacity)
	return NewExecutor(p, sim, warn), p, sim, warn
}

func TestExecutorFiresOnTime(t *testing.T) {
	e, p, sim, _ := newTestExecutor(t, 3)
	hs := acquireN(t, p, "a", "b", "c")
	var firedAt []int64
	fire := Action{Fn: func(any) { firedAt = append(firedAt, sim.NowUs()) }}

	e.ScheduleByTimestamp(hs[0], 1500, fire)
	e.ScheduleForLater(hs[1], 200, fire)
	e.ScheduleByTimestamp(hs[2], 3000, fire)

	if at, _ := sim.Armed(); at != 1200 {
		t.Errorf("expected alarm at 1200, got %d", at)
	}

	sim.AdvanceTo(2000)
	if len(firedAt) != 2 || firedAt[0] != 1200 || firedAt[1] != 1500 {
		t.Errorf("expected fires at 1200 and 1500, got %v", firedAt)
	}
	if at, _ := sim.Armed(); at != 3000 {
		t.Errorf("expected alarm moved to 3000, got %d", at)
	}
	if lat := e.Latency(); lat.MaxUs != 0 || lat.Samples != 2 {
		t.Errorf("expected two on-time samples, got %+v", lat)
	}
}

func TestExecutorCancel(t *testing.T) {
	e, p, sim, _ := newTestExecutor(t, 1)
	h := acquireN(t, p, "a")[0]
	fired := false
	e.ScheduleForLater(h, 100, Action{Fn: func(any) { fired = true }})

	if !e.Cancel(h) {
		t.Error("expected cancel to remove the event")
	}
	if e.Cancel(h) {
		t.Error("second cancel should be a no-op")
	}
	sim.Advance(1000)
	if fired {
		t.Error("cancelled event fired")
	}
	if e.IsArmed(h) {
		t.Error("cancelled event still armed")
	}
}

func TestExecutorDoubleArmWarns(t *testing.T) {
	e, p, _, warn := newTestExecutor(t, 1)
	h := acquireN(t, p, "a")[0]
	noop := Action{Fn: func(any) {}}

	e.ScheduleForLater(h, 100, noop)
	err := e.ScheduleForLater(h, 200, noop)
	if !errors.Is(err, ErrAlreadyArmed) {
		t.Errorf("expected ErrAlreadyArmed, got %v", err)
	}
	if !warn.Contains(warning.SchedulingMisuse) {
		t.Error("expected SCHEDULING_MISUSE warning")
	}
	if e.MisuseCount() != 1 || e.Len() != 1 {
		t.Errorf("expected one misuse and one entry, got %d/%d", e.MisuseCount(), e.Len())
	}
}

func TestExecutorLateDispatchLatency(t *testing.T) {
	e, p, sim, _ := newTestExecutor(t, 1)
	h := acquireN(t, p, "a")[0]
	e.ScheduleByTimestamp(h, 500, Action{Fn: func(any) {}})

	// already in the past: fires on the next dispatch at the current time
	sim.Advance(0)
	lat := e.Latency()
	if lat.LastUs != 500 {
		t.Errorf("expected 500us late, got %+v", lat)
	}
}

func TestExecutorConcurrentCancel(t *testing.T) {
	e, p, sim, _ := newTestExecutor(t, 64)
	hs := make([]Handle, 64)
	for i := range hs {
		hs[i] = acquireN(t, p, "x")[0]
	}
	var mu sync.Mutex
	fired := 0
	a := Action{Fn: func(any) {
		mu.Lock()
		fired++
		mu.Unlock()
	}}
	for i, h := range hs {
		e.ScheduleByTimestamp(h, 2000+int64(i), a)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, h := range hs[32:] {
			e.Cancel(h)
		}
	}()
	sim.AdvanceTo(3000)
	wg.Wait()
	sim.AdvanceTo(4000)

	mu.Lock()
	defer mu.Unlock()
	if fired < 32 || fired > 64 {
		t.Errorf("expected between 32 and 64 fires, got %d", fired)
	}
	if e.Len() != 0 {
		t.Errorf("expected empty queue, got %d", e.Len())
	}
}
