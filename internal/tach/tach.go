// Package tach drives a tachometer output from the crank position. At a
// configured tooth it schedules one wheel turn worth of pulses by angle.
package tach

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/gpio"
	"github.com/sweeney/engine-sync/internal/schedule"
	"github.com/sweeney/engine-sync/internal/shaft"
)

// ErrBadConfig is returned for an unusable pulse configuration.
var ErrBadConfig = errors.New("invalid tach configuration")

// Config shapes the output pulses.
type Config struct {
	// TriggerIndex is the tooth that starts each turn's pulse train.
	TriggerIndex int
	// PulsesPerRev is the number of pulses per crank revolution.
	PulsesPerRev int
	// Duration is the high time: a fraction of the pulse period when
	// DurationAsDutyCycle is set, otherwise milliseconds.
	Duration            float64
	DurationAsDutyCycle bool
}

// Tach is the tachometer consumer.
type Tach struct {
	cfg Config
	eng *engine.Engine
	out gpio.Output

	rise []schedule.Handle
	fall []schedule.Handle

	pulses   atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

// New reserves event slots on e and registers a tooth listener. Slots are
// sized for the longest wheel turn so a later trigger change still fits.
func New(e *engine.Engine, out gpio.Output, cfg Config) (*Tach, error) {
	if cfg.PulsesPerRev <= 0 || cfg.Duration <= 0 || (cfg.DurationAsDutyCycle && cfg.Duration >= 1) {
		return nil, fmt.Errorf("tach %+v: %w", cfg, ErrBadConfig)
	}
	t := &Tach{cfg: cfg, eng: e, out: out}
	for i := 0; i < 2*cfg.PulsesPerRev; i++ {
		r, err := e.AcquireEvent(fmt.Sprintf("tach-rise-%d", i))
		if err != nil {
			return nil, fmt.Errorf("reserve tach events: %w", err)
		}
		f, err := e.AcquireEvent(fmt.Sprintf("tach-fall-%d", i))
		if err != nil {
			return nil, fmt.Errorf("reserve tach events: %w", err)
		}
		t.rise = append(t.rise, r)
		t.fall = append(t.fall, f)
	}
	e.Dispatch().AddToothListener("tach", t.OnTooth)
	e.OnReconfigure(t.stop)
	return t, nil
}

// stop drops the queued pulse train and leaves the output low.
func (t *Tach) stop() {
	for i := range t.rise {
		t.eng.Cancel(t.rise[i])
		t.eng.Cancel(t.fall[i])
	}
	if err := t.out.Set(false); err != nil {
		t.failures.Add(1)
	}
}

// OnTooth schedules the pulse train when the trigger tooth arrives.
func (t *Tach) OnTooth(ev shaft.ToothEvent) {
	if ev.Index != t.cfg.TriggerIndex {
		return
	}
	wheel := t.eng.Waveform().WheelAngle()
	n := int(math.Round(float64(t.cfg.PulsesPerRev) * wheel / 360))
	if n > len(t.rise) {
		n = len(t.rise)
	}
	spacing := wheel / float64(n)
	high := t.highDegrees(spacing)
	if high <= 0 || high >= spacing {
		t.skipped.Add(1)
		return
	}

	for i := 0; i < n; i++ {
		start := float64(i) * spacing
		t.eng.Cancel(t.rise[i])
		t.eng.Cancel(t.fall[i])
		if _, err := t.eng.ScheduleByAngle(t.rise[i], ev.TimeUs, start, schedule.Action{Name: "tach-rise", Fn: t.set, Arg: true}); err != nil {
			t.skipped.Add(1)
			return
		}
		if _, err := t.eng.ScheduleByAngle(t.fall[i], ev.TimeUs, start+high, schedule.Action{Name: "tach-fall", Fn: t.set, Arg: false}); err != nil {
			t.skipped.Add(1)
			return
		}
	}
}

func (t *Tach) highDegrees(spacing float64) float64 {
	if t.cfg.DurationAsDutyCycle {
		return spacing * t.cfg.Duration
	}
	oneDeg := t.eng.Decoder().OneDegreeUs()
	if oneDeg <= 0 {
		return 0
	}
	return t.cfg.Duration * 1000 / oneDeg
}

func (t *Tach) set(arg any) {
	high := arg.(bool)
	if high {
		t.pulses.Add(1)
	}
	if err := t.out.Set(high); err != nil {
		if t.failures.Add(1) == 1 {
			log.Printf("tach: set output: %v", err)
		}
	}
}

// Pulses counts rising edges driven.
func (t *Tach) Pulses() uint64 {
	return t.pulses.Load()
}

// Skipped counts trigger teeth where no pulses could be scheduled, usually
// because speed was not yet known.
func (t *Tach) Skipped() uint64 {
	return t.skipped.Load()
}

// OutputFailures counts failed output writes.
func (t *Tach) OutputFailures() uint64 {
	return t.failures.Load()
}
