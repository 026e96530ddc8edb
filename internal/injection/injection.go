// Package injection schedules injector open and close events from the
// crank position.
package injection

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

// ErrNoFuel is returned when the requested pulse has no duration.
var ErrNoFuel = errors.New("no injection requested")

// InjectorModel converts a fuel mass, expressed as the ideal open time,
// into the electrical pulse width.
type InjectorModel interface {
	InjectionDurationMs(fuelMs float64) float64
}

// LinearModel adds a fixed dead time to a scaled fuel time.
type LinearModel struct {
	DeadTimeMs float64
	FlowScale  float64
}

// InjectionDurationMs implements InjectorModel.
func (m LinearModel) InjectionDurationMs(fuelMs float64) float64 {
	if fuelMs <= 0 {
		return 0
	}
	scale := m.FlowScale
	if scale == 0 {
		scale = 1
	}
	return fuelMs*scale + m.DeadTimeMs
}

// Config places the injection event on the engine cycle.
type Config struct {
	Name        string
	// ToothIndex counts events across the engine cycle, so a crank wheel
	// injects once every second turn.
	ToothIndex  int
	AngleOffset float64
}

// Event is one injector channel.
type Event struct {
	cfg   Config
	eng   *engine.Engine
	out   gpio.Output
	model InjectorModel

	open  schedule.Handle
	close schedule.Handle

	fuelMs   atomic.Uint64
	injected atomic.Uint64
	failures atomic.Uint64
}

// New reserves the open and close events on e and listens for the
// configured tooth.
func New(e *engine.Engine, out gpio.Output, model InjectorModel, cfg Config) (*Event, error) {
	if cfg.Name == "" {
		cfg.Name = "injector"
	}
	ev := &Event{cfg: cfg, eng: e, out: out, model: model}
	var err error
	if ev.open, err = e.AcquireEvent(cfg.Name + "-open"); err != nil {
		return nil, fmt.Errorf("reserve %s: %w", cfg.Name, err)
	}
	if ev.close, err = e.AcquireEvent(cfg.Name + "-close"); err != nil {
		return nil, fmt.Errorf("reserve %s: %w", cfg.Name, err)
	}
	e.Dispatch().AddToothListener(cfg.Name, ev.OnTooth)
	e.OnReconfigure(ev.stop)
	return ev, nil
}

// stop drops any queued pulse and closes the injector.
func (ev *Event) stop() {
	ev.eng.Cancel(ev.open)
	ev.eng.Cancel(ev.close)
	if err := ev.out.Set(false); err != nil {
		ev.failures.Add(1)
	}
}

// SetFuel sets the fuel time used from the next cycle on.
func (ev *Event) SetFuel(ms float64) {
	ev.fuelMs.Store(math.Float64bits(ms))
}

// Fuel returns the current fuel time.
func (ev *Event) Fuel() float64 {
	return math.Float64frombits(ev.fuelMs.Load())
}

// OnTooth opens the injector AngleOffset degrees after the configured tooth.
func (ev *Event) OnTooth(t shaft.ToothEvent) {
	if t.CycleIndex != ev.cfg.ToothIndex {
		return
	}
	durUs, err := ev.durationUs()
	if err != nil {
		return
	}
	ev.disarm()
	at, err := ev.eng.ScheduleByAngle(ev.open, t.TimeUs, ev.cfg.AngleOffset, ev.action(true))
	if err != nil {
		return
	}
	if err := ev.eng.ScheduleByTimestamp(ev.close, at+durUs, ev.action(false)); err != nil {
		ev.eng.Cancel(ev.open)
		log.Printf("injection: %s: schedule close: %v", ev.cfg.Name, err)
	}
}

// InjectAt opens the injector at atUs and closes it after the modelled
// duration.
func (ev *Event) InjectAt(atUs int64) error {
	durUs, err := ev.durationUs()
	if err != nil {
		return fmt.Errorf("inject %s: %w", ev.cfg.Name, err)
	}
	ev.disarm()
	if err := ev.eng.ScheduleByTimestamp(ev.open, atUs, ev.action(true)); err != nil {
		return fmt.Errorf("schedule %s open: %w", ev.cfg.Name, err)
	}
	if err := ev.eng.ScheduleByTimestamp(ev.close, atUs+durUs, ev.action(false)); err != nil {
		ev.eng.Cancel(ev.open)
		return fmt.Errorf("schedule %s close: %w", ev.cfg.Name, err)
	}
	return nil
}

// disarm drops a pulse still queued from the previous cycle. A pulse whose
// open already fired keeps its close.
func (ev *Event) disarm() {
	if ev.eng.Cancel(ev.open) {
		ev.eng.Cancel(ev.close)
	}
}

func (ev *Event) durationUs() (int64, error) {
	ms := ev.model.InjectionDurationMs(ev.Fuel())
	if ms <= 0 {
		return 0, ErrNoFuel
	}
	return int64(math.Round(ms * 1000)), nil
}

func (ev *Event) action(open bool) schedule.Action {
	name := ev.cfg.Name + "-close"
	if open {
		name = ev.cfg.Name + "-open"
	}
	return schedule.Action{Name: name, Fn: ev.set, Arg: open}
}

func (ev *Event) set(arg any) {
	open := arg.(bool)
	if open {
		ev.injected.Add(1)
	}
	if err := ev.out.Set(open); err != nil {
		if ev.failures.Add(1) == 1 {
			log.Printf("injection: %s: set output: %v", ev.cfg.Name, err)
		}
	}
}

// Injections counts injector openings.
func (ev *Event) Injections() uint64 {
	return ev.injected.Load()
}

// OutputFailures counts failed output writes.
func (ev *Event) OutputFailures() uint64 {
	return ev.failures.Load()
}
