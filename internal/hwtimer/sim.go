package hwtimer

import "sync"

// Sim is a virtual clock. Time only moves when Advance or AdvanceTo is
// called, and due alarms fire at exactly their target time.
type Sim struct {
	mu    sync.Mutex
	now   int64
	alarm int64
	armed bool
	fn    func(int64)
	fired int
}

// NewSim creates a virtual clock starting at startUs.
func NewSim(startUs int64) *Sim {
	return &Sim{now: startUs}
}

// NowUs returns the virtual time.
func (s *Sim) NowUs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetAlarm arms the alarm.
func (s *Sim) SetAlarm(atUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm = atUs
	s.armed = true
}

// OnAlarm registers the alarm callback.
func (s *Sim) OnAlarm(fn func(nowUs int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// Stop disarms the alarm.
func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
}

// Armed reports the pending alarm time, if any.
func (s *Sim) Armed() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm, s.armed
}

// Fired counts alarm callbacks.
func (s *Sim) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Advance moves the clock forward by d microseconds.
func (s *Sim) Advance(d int64) {
	s.AdvanceTo(s.NowUs() + d)
}

// AdvanceTo moves the clock to t, firing every alarm that comes due on the
// way. The callback runs without the clock's lock so it may re-arm.
func (s *Sim) AdvanceTo(t int64) {
	for {
		s.mu.Lock()
		if !s.armed || s.alarm > t || s.fn == nil {
			if t > s.now {
				s.now = t
			}
			s.mu.Unlock()
			return
		}
		if s.alarm > s.now {
			s.now = s.alarm
		}
		s.armed = false
		s.fired++
		fn, now := s.fn, s.now
		s.mu.Unlock()

		fn(now)
	}
}
