package injection

import (
	"errors"
	"math"
	"testing"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/gpio"
	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// fixedModel always reports the same pulse width.
type fixedModel struct {
	ms float64
}

func (m fixedModel) InjectionDurationMs(float64) float64 { return m.ms }

func threeOne(mode waveform.OperationMode) engine.TriggerConfig {
	return engine.TriggerConfig{Type: engine.TypeToothed, TotalTeeth: 3, SkippedTeeth: 1, Mode: mode}
}

func setupInjector(t *testing.T, model InjectorModel, cfg Config) (*Event, *engine.Engine, *hwtimer.Sim, *gpio.FakeOutput) {
	t.Helper()
	return setupInjectorOn(t, threeOne(waveform.FourStrokeCamSensor), model, cfg)
}

func setupInjectorOn(t *testing.T, tc engine.TriggerConfig, model InjectorModel, cfg Config) (*Event, *engine.Engine, *hwtimer.Sim, *gpio.FakeOutput) {
	t.Helper()
	ecfg := engine.DefaultConfig()
	ecfg.Trigger = tc
	sim := hwtimer.NewSim(1000)
	e, err := engine.New(ecfg, sim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := &gpio.FakeOutput{Clock: sim.NowUs}
	ev, err := New(e, out, model, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ev, e, sim, out
}

// fireThreeOne runs the 3/1 wheel at 400 rpm.
func fireThreeOne(e *engine.Engine, sim *hwtimer.Sim, cycles int) {
	step := func(edge waveform.Edge, ms int64) {
		sim.Advance(ms * 1000)
		e.HandleShaftSignal(waveform.Primary, edge, sim.NowUs())
	}
	for i := 0; i < cycles; i++ {
		step(waveform.Rise, 150)
		step(waveform.Fall, 50)
		step(waveform.Rise, 50)
		step(waveform.Fall, 50)
	}
}

func TestInjectAtOpensAndCloses(t *testing.T) {
	ev, _, sim, out := setupInjector(t, fixedModel{ms: 20}, Config{})

	if err := ev.InjectAt(sim.NowUs()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Advance(30000)

	want := []gpio.Transition{{High: true, AtUs: 1000}, {High: false, AtUs: 21000}}
	got := out.Transitions()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if ev.Injections() != 1 {
		t.Errorf("expected 1 injection, got %d", ev.Injections())
	}
}

func TestInjectAtReplacesQueuedPulse(t *testing.T) {
	ev, _, sim, out := setupInjector(t, fixedModel{ms: 5}, Config{})

	ev.InjectAt(10000)
	if err := ev.InjectAt(20000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.AdvanceTo(40000)

	got := out.Transitions()
	if len(got) != 2 || got[0].AtUs != 20000 || got[1].AtUs != 25000 {
		t.Errorf("expected one pulse at 20000-25000, got %+v", got)
	}
}

func TestNoFuel(t *testing.T) {
	ev, _, _, _ := setupInjector(t, LinearModel{DeadTimeMs: 1}, Config{})
	if err := ev.InjectAt(2000); !errors.Is(err, ErrNoFuel) {
		t.Errorf("expected ErrNoFuel, got %v", err)
	}
}

func TestOnToothOpensAtAngle(t *testing.T) {
	ev, e, sim, out := setupInjector(t, LinearModel{DeadTimeMs: 1}, Config{ToothIndex: 0, AngleOffset: 72})
	ev.SetFuel(4)

	fireThreeOne(e, sim, 3)

	// speed is first known at the third sync point, 751000; 72 degrees at
	// 400 rpm is 30ms and the pulse is 4ms of fuel plus 1ms dead time
	want := []gpio.Transition{{High: true, AtUs: 781000}, {High: false, AtUs: 786000}}
	got := out.Transitions()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestCrankWheelInjectsOncePerCycle(t *testing.T) {
	ev, e, sim, out := setupInjectorOn(t, threeOne(waveform.FourStrokeCrankSensor), LinearModel{DeadTimeMs: 1}, Config{AngleOffset: 72})
	ev.SetFuel(4)

	// ten crank turns, five engine cycles
	fireThreeOne(e, sim, 10)
	sim.Advance(300000)

	// sync comes at the gap of turn 2 and speed at turn 3, which is the
	// second half of the cycle; turns 4, 6, 8 and 10 start a cycle
	if ev.Injections() != 4 {
		t.Errorf("expected 4 injections over 10 turns, got %d", ev.Injections())
	}
	got := out.Transitions()
	if len(got) != 8 {
		t.Fatalf("expected 8 transitions, got %+v", got)
	}
	for i := 2; i < len(got); i += 2 {
		if d := got[i].AtUs - got[i-2].AtUs; d != 600000 {
			t.Errorf("expected openings 600ms apart, got %d", d)
		}
	}
}

func TestReconfigureClosesInjector(t *testing.T) {
	ev, e, sim, out := setupInjector(t, fixedModel{ms: 20}, Config{})

	if err := ev.InjectAt(11000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.AdvanceTo(20000)
	if err := e.ApplyTrigger(threeOne(waveform.FourStrokeCamSensor)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.AdvanceTo(40000)

	want := []gpio.Transition{{High: true, AtUs: 11000}, {High: false, AtUs: 20000}}
	got := out.Transitions()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestLinearModel(t *testing.T) {
	tests := []struct {
		name  string
		model LinearModel
		fuel  float64
		want  float64
	}{
		{"dead time added", LinearModel{DeadTimeMs: 0.8}, 3, 3.8},
		{"flow scaled", LinearModel{DeadTimeMs: 1, FlowScale: 1.5}, 2, 4},
		{"no fuel no pulse", LinearModel{DeadTimeMs: 1}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.model.InjectionDurationMs(tt.fuel); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %.3f, got %.3f", tt.want, got)
			}
		})
	}
}
