// Package hwtimer abstracts the single compare timer that wakes the event
// executor. Time is a monotonic microsecond count.
package hwtimer

// Timer is a one-shot alarm on a monotonic microsecond clock.
type Timer interface {
	// NowUs returns the current time.
	NowUs() int64

	// SetAlarm arms the alarm for atUs, replacing any pending alarm. A time
	// already in the past fires as soon as possible.
	SetAlarm(atUs int64)

	// OnAlarm registers the function called when the alarm fires.
	OnAlarm(fn func(nowUs int64))

	// Stop disarms the alarm and releases resources.
	Stop()
}
