package schedule

import (
	"errors"
	"sync"

	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/warning"
)

// Latency summarizes how late events fired relative to their target.
type Latency struct {
	LastUs  int64
	MaxUs   int64
	MeanUs  float64
	Samples int64
}

// Executor ties a Queue to a hardware timer: the timer alarm always points
// at the head of the queue. Scheduling and cancelling are safe from any
// goroutine; callbacks run outside the lock and may re-arm themselves.
type Executor struct {
	mu    sync.Mutex
	q     *Queue
	timer hwtimer.Timer
	warn  *warning.Ring

	alarmAt    int64
	alarmArmed bool

	lat      Latency
	latTotal int64
	misuse   int
}

// NewExecutor creates an executor over pool driven by timer. Misuse such as
// double arming is reported to warn when it is not nil.
func NewExecutor(pool *Pool, timer hwtimer.Timer, warn *warning.Ring) *Executor {
	e := &Executor{
		q:     NewQueue(pool),
		timer: timer,
		warn:  warn,
	}
	timer.OnAlarm(e.onAlarm)
	return e
}

// NowUs reads the timer clock.
func (e *Executor) NowUs() int64 {
	return e.timer.NowUs()
}

// ScheduleByTimestamp arms h to run a at atUs.
func (e *Executor) ScheduleByTimestamp(h Handle, atUs int64, a Action) error {
	e.mu.Lock()
	err := e.q.Insert(h, atUs, a)
	if err == nil {
		e.reprogramLocked()
	} else if errors.Is(err, ErrAlreadyArmed) {
		e.misuse++
	}
	e.mu.Unlock()

	if err != nil && errors.Is(err, ErrAlreadyArmed) && e.warn != nil {
		e.warn.Warn(warning.SchedulingMisuse, "%v", err)
	}
	return err
}

// ScheduleForLater arms h to run a delayUs from now.
func (e *Executor) ScheduleForLater(h Handle, delayUs int64, a Action) error {
	return e.ScheduleByTimestamp(h, e.timer.NowUs()+delayUs, a)
}

// Cancel disarms h. Cancelling an idle event is a no-op.
func (e *Executor) Cancel(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Remove(h)
}

// IsArmed reports whether h is queued.
func (e *Executor) IsArmed(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.IsArmed(h)
}

// ExecuteAll runs every event due at nowUs, then points the alarm at the
// next one. It returns the number of callbacks run.
func (e *Executor) ExecuteAll(nowUs int64) int {
	e.mu.Lock()
	start := e.q.seq
	e.mu.Unlock()

	n := 0
	for {
		e.mu.Lock()
		a, name, atUs, ok := e.q.popDue(nowUs, start)
		if ok {
			e.recordLatencyLocked(nowUs - atUs)
		}
		e.mu.Unlock()
		if !ok {
			break
		}
		if !run(a, name) {
			e.mu.Lock()
			e.q.faults++
			e.mu.Unlock()
		}
		n++
	}

	e.mu.Lock()
	e.alarmArmed = false
	e.reprogramLocked()
	e.mu.Unlock()
	return n
}

func (e *Executor) onAlarm(nowUs int64) {
	e.ExecuteAll(nowUs)
}

// reprogramLocked points the timer at the queue head if it moved.
func (e *Executor) reprogramLocked() {
	at, ok := e.q.Head()
	if !ok {
		return
	}
	if e.alarmArmed && e.alarmAt <= at {
		return
	}
	e.alarmAt = at
	e.alarmArmed = true
	e.timer.SetAlarm(at)
}

func (e *Executor) recordLatencyLocked(lateUs int64) {
	if lateUs < 0 {
		lateUs = 0
	}
	e.lat.LastUs = lateUs
	if lateUs > e.lat.MaxUs {
		e.lat.MaxUs = lateUs
	}
	e.lat.Samples++
	e.latTotal += lateUs
	e.lat.MeanUs = float64(e.latTotal) / float64(e.lat.Samples)
}

// Latency returns dispatch lateness statistics.
func (e *Executor) Latency() Latency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lat
}

// Len is the number of queued events.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Len()
}

// At returns the i-th queued event in firing order.
func (e *Executor) At(i int) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.At(i)
}

// Head returns the time of the earliest event.
func (e *Executor) Head() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Head()
}

// Clear disarms every queued event.
func (e *Executor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.q.Clear()
}

// CallbackFaults counts callbacks that panicked.
func (e *Executor) CallbackFaults() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.CallbackFaults()
}

// MisuseCount counts attempts to arm an already armed event.
func (e *Executor) MisuseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.misuse
}
