// Package emulator stimulates the engine with edges generated from its own
// trigger waveform, as if a wheel were spinning at a set speed.
package emulator

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/schedule"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// Emulator walks the active waveform, one scheduled event per edge.
type Emulator struct {
	eng *engine.Engine
	h   schedule.Handle

	mu      sync.Mutex
	enabled bool
	rpm     float64
	wave    *waveform.Waveform
	index   int
	turnUs  int64
	nextUs  int64
	lastUs  int64
	lastDeg float64
	run     uint64
	version uint64

	edges atomic.Uint64
}

// New reserves the emulator's event slot on e.
func New(e *engine.Engine) (*Emulator, error) {
	h, err := e.AcquireEvent("emulator")
	if err != nil {
		return nil, fmt.Errorf("reserve emulator event: %w", err)
	}
	return &Emulator{eng: e, h: h}, nil
}

// SetRPM sets the emulated speed. Zero stops the wheel; a running emulator
// resumes when the speed is raised again.
func (m *Emulator) SetRPM(rpm float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rpm < 0 {
		rpm = 0
	}
	was := m.rpm
	m.rpm = rpm
	switch {
	case !m.enabled:
	case rpm == 0:
		m.eng.Executor().Cancel(m.h)
	case was <= 0:
		m.startLocked()
	default:
		// keep the wheel where it is and re-time the rest of the turn
		m.turnUs = m.lastUs - int64(math.Round(m.lastDeg*oneDegreeUs(rpm)))
		m.eng.Executor().Cancel(m.h)
		m.armLocked()
	}
}

// RPM returns the emulated speed.
func (m *Emulator) RPM() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpm
}

// Enable starts feeding edges from the beginning of the waveform.
func (m *Emulator) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.enabled = true
	log.Printf("emulator: enabled at %.0f rpm", m.rpm)
	if m.rpm > 0 {
		m.startLocked()
	}
}

// Disable stops feeding edges. A fire already in progress sees the flag
// and does not re-arm.
func (m *Emulator) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.enabled = false
	m.run++
	m.eng.Executor().Cancel(m.h)
	log.Printf("emulator: disabled after %d edges", m.edges.Load())
}

// Enabled reports whether edges are being fed.
func (m *Emulator) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Version counts waveform switches picked up at turn boundaries.
func (m *Emulator) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Edges counts edges fed to the engine.
func (m *Emulator) Edges() uint64 {
	return m.edges.Load()
}

func (m *Emulator) startLocked() {
	m.run++
	m.loadWaveformLocked()
	m.index = 0
	m.turnUs = m.eng.Executor().NowUs()
	m.lastUs = m.turnUs
	m.lastDeg = 0
	m.armLocked()
}

func (m *Emulator) loadWaveformLocked() {
	w := m.eng.Waveform()
	if m.wave != nil && w != m.wave {
		m.version++
		log.Printf("emulator: waveform %s", w.Name)
	}
	m.wave = w
}

// armLocked schedules the edge at m.index. Targets are measured from the
// start of the turn so rounding does not accumulate.
func (m *Emulator) armLocked() {
	m.nextUs = m.turnUs + int64(math.Round(m.wave.AngleOf(m.index)*oneDegreeUs(m.rpm)))
	a := schedule.Action{Name: "emulator", Fn: m.fire, Arg: m.run}
	if err := m.eng.Executor().ScheduleByTimestamp(m.h, m.nextUs, a); err != nil {
		log.Printf("emulator: schedule edge: %v", err)
	}
}

func (m *Emulator) fire(arg any) {
	m.mu.Lock()
	if !m.enabled || m.rpm <= 0 || arg.(uint64) != m.run {
		m.mu.Unlock()
		return
	}
	ev := m.wave.Events[m.index]
	ts := m.nextUs
	m.lastUs = ts
	m.lastDeg = ev.Angle
	m.index++
	if m.index >= m.wave.Size() {
		m.index = 0
		m.turnUs += int64(math.Round(m.wave.WheelAngle() * oneDegreeUs(m.rpm)))
		m.lastDeg -= m.wave.WheelAngle()
		m.loadWaveformLocked()
	}
	m.armLocked()
	m.mu.Unlock()

	m.edges.Add(1)
	m.eng.HandleShaftSignal(ev.Channel, ev.Edge, ts)
}

func oneDegreeUs(rpm float64) float64 {
	return 60e6 / (rpm * 360)
}
