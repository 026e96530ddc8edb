//go:build linux

package hwtimer

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Real is an alarm on CLOCK_MONOTONIC, the clock gpiocdev stamps line
// events with.
type Real struct {
	mu      sync.Mutex
	t       *time.Timer
	fn      func(int64)
	stopped bool
}

// NewReal checks the monotonic clock and returns a timer.
func NewReal() (*Real, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return nil, fmt.Errorf("read monotonic clock: %w", err)
	}
	return &Real{}, nil
}

// NowUs returns CLOCK_MONOTONIC in microseconds.
func (r *Real) NowUs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano() / 1000
}

// SetAlarm arms the alarm.
func (r *Real) SetAlarm(atUs int64) {
	d := time.Duration(atUs-r.NowUs()) * time.Microsecond
	if d < 0 {
		d = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.t == nil {
		r.t = time.AfterFunc(d, r.fire)
		return
	}
	r.t.Reset(d)
}

// OnAlarm registers the alarm callback.
func (r *Real) OnAlarm(fn func(nowUs int64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn = fn
}

// Stop disarms the alarm. Later SetAlarm calls are ignored.
func (r *Real) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.t != nil {
		r.t.Stop()
	}
}

func (r *Real) fire() {
	r.mu.Lock()
	fn, stopped := r.fn, r.stopped
	r.mu.Unlock()
	if stopped || fn == nil {
		return
	}
	fn(r.NowUs())
}
