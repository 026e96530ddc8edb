// Package angle turns crank-angle requests into timestamps using the
// current engine speed, and keeps tooth-anchored requests until the
// matching tooth arrives.
package angle

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sweeney/engine-sync/internal/schedule"
	"github.com/sweeney/engine-sync/internal/waveform"
)

var (
	ErrNoRPM       = errors.New("engine speed unknown")
	ErrPendingFull = errors.New("pending angle list full")
)

// Source provides the engine position and speed.
type Source interface {
	IsSynchronized() bool
	RPM() float64
	OneDegreeUs() float64
	Waveform() *waveform.Waveform
}

// Scheduler converts angles to times on an executor.
type Scheduler struct {
	exec   *schedule.Executor
	source Source

	mu      sync.Mutex
	pending []pending
}

type pending struct {
	h      schedule.Handle
	action schedule.Action
	anchor int
	offset float64
	active bool
}

// DefaultPendingCapacity bounds the tooth-anchored request list.
const DefaultPendingCapacity = 32

// New creates a scheduler with room for pendingCap tooth-anchored requests.
func New(exec *schedule.Executor, source Source, pendingCap int) *Scheduler {
	if pendingCap <= 0 {
		pendingCap = DefaultPendingCapacity
	}
	return &Scheduler{
		exec:    exec,
		source:  source,
		pending: make([]pending, pendingCap),
	}
}

// ScheduleByAngle arms h to fire angleOffset crank degrees after the tooth
// seen at edgeUs. Offsets wrap modulo the engine cycle; an offset of zero
// fires on the next dispatch. It returns the target time.
func (s *Scheduler) ScheduleByAngle(h schedule.Handle, edgeUs int64, angleOffset float64, a schedule.Action) (int64, error) {
	if !s.source.IsSynchronized() || s.source.RPM() <= 0 {
		return 0, fmt.Errorf("schedule %s: %w", a.Name, ErrNoRPM)
	}
	oneDeg := s.source.OneDegreeUs()
	if oneDeg <= 0 {
		return 0, fmt.Errorf("schedule %s: %w", a.Name, ErrNoRPM)
	}
	offset := wrap(angleOffset, s.source.Waveform().CycleAngle())
	at := edgeUs + int64(math.Round(offset*oneDeg))
	if err := s.exec.ScheduleByTimestamp(h, at, a); err != nil {
		return 0, err
	}
	return at, nil
}

// ScheduleAtEngineAngle queues a request for engine cycle angle deg. It is
// converted to a time when the last tooth at or before deg arrives, so the
// freshest speed estimate is used. On a crank-mounted wheel the anchor is
// the tooth in the matching half of the cycle.
func (s *Scheduler) ScheduleAtEngineAngle(h schedule.Handle, deg float64, a schedule.Action) error {
	w := s.source.Waveform()
	deg = wrap(deg, w.CycleAngle())
	anchor := 0
	for i := 0; i < w.CycleSize(); i++ {
		if w.CycleAngleOf(i) > deg {
			break
		}
		anchor = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	free := -1
	for i := range s.pending {
		p := &s.pending[i]
		if p.active && p.h == h {
			return fmt.Errorf("pending %s: %w", a.Name, schedule.ErrAlreadyArmed)
		}
		if !p.active && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return fmt.Errorf("pending %s: %w", a.Name, ErrPendingFull)
	}
	s.pending[free] = pending{
		h:      h,
		action: a,
		anchor: anchor,
		offset: deg - w.CycleAngleOf(anchor),
		active: true,
	}
	return nil
}

// OnTooth converts pending requests anchored at cycleIndex. Requests that
// cannot be converted stay queued for the next cycle.
func (s *Scheduler) OnTooth(cycleIndex int, edgeUs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.pending {
		p := &s.pending[i]
		if !p.active || p.anchor != cycleIndex {
			continue
		}
		if _, err := s.ScheduleByAngle(p.h, edgeUs, p.offset, p.action); err != nil {
			continue
		}
		p.active = false
		n++
	}
	return n
}

// CancelPending drops a queued tooth-anchored request.
func (s *Scheduler) CancelPending(h schedule.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].active && s.pending[i].h == h {
			s.pending[i].active = false
			return true
		}
	}
	return false
}

// PendingLen is the number of queued tooth-anchored requests.
func (s *Scheduler) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.pending {
		if s.pending[i].active {
			n++
		}
	}
	return n
}

// ClearPending drops every tooth-anchored request, for reconfiguration.
func (s *Scheduler) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		s.pending[i].active = false
	}
}

func wrap(angle, cycle float64) float64 {
	a := math.Mod(angle, cycle)
	if a < 0 {
		a += cycle
	}
	return a
}
