package tach

import (
	"errors"
	"testing"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/gpio"
	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// setupTach builds an 8/0 crank wheel engine with a tach on a fake pin.
func setupTach(t *testing.T, cfg Config) (*Tach, *engine.Engine, *hwtimer.Sim, *gpio.FakeOutput) {
	t.Helper()
	ecfg := engine.DefaultConfig()
	ecfg.Trigger = engine.TriggerConfig{Type: engine.TypeToothed, TotalTeeth: 8, Mode: waveform.FourStrokeCrankSensor}
	sim := hwtimer.NewSim(0)
	e, err := engine.New(ecfg, sim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := &gpio.FakeOutput{Clock: sim.NowUs}
	tc, err := New(e, out, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tc, e, sim, out
}

// spin feeds n edges 2.5ms apart: 1500 rpm on an 8 tooth wheel.
func spin(e *engine.Engine, sim *hwtimer.Sim, n int) {
	for i := 0; i < n; i++ {
		sim.Advance(2500)
		e.HandleShaftSignal(waveform.Primary, waveform.Edge(i%2), sim.NowUs())
	}
}

func expectPulses(t *testing.T, got []gpio.Transition, starts []int64, spacing, high int64, perTurn int) {
	t.Helper()
	var want []gpio.Transition
	for _, s := range starts {
		for i := 0; i < perTurn; i++ {
			at := s + int64(i)*spacing
			want = append(want, gpio.Transition{High: true, AtUs: at}, gpio.Transition{High: false, AtUs: at + high})
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDutyCyclePulses(t *testing.T) {
	tc, e, sim, out := setupTach(t, Config{PulsesPerRev: 5, Duration: 0.25, DurationAsDutyCycle: true})

	spin(e, sim, 48)
	sim.AdvanceTo(125000)

	// 72 degrees apart is 8ms at 1500 rpm, a quarter of that high
	expectPulses(t, out.Transitions(), []int64{42500, 82500}, 8000, 2000, 5)
	if tc.Pulses() != 10 {
		t.Errorf("expected 10 pulses, got %d", tc.Pulses())
	}
	// first sync point has no speed yet
	if tc.Skipped() != 1 {
		t.Errorf("expected 1 skipped turn, got %d", tc.Skipped())
	}
}

func TestFixedDurationPulses(t *testing.T) {
	_, e, sim, out := setupTach(t, Config{PulsesPerRev: 2, Duration: 3})

	spin(e, sim, 32)
	sim.AdvanceTo(85000)

	expectPulses(t, out.Transitions(), []int64{42500}, 20000, 3000, 2)
}

func TestTriggerIndex(t *testing.T) {
	_, e, sim, out := setupTach(t, Config{TriggerIndex: 4, PulsesPerRev: 1, Duration: 0.5, DurationAsDutyCycle: true})

	// speed is known from edge 16; index 4 follows 4 edges later
	spin(e, sim, 24)
	sim.AdvanceTo(80000)

	expectPulses(t, out.Transitions(), []int64{52500}, 40000, 20000, 1)
}

func TestOutputFailureCounted(t *testing.T) {
	tc, e, sim, out := setupTach(t, Config{PulsesPerRev: 1, Duration: 0.5, DurationAsDutyCycle: true})
	out.SetError = errors.New("line busy")

	spin(e, sim, 17)
	sim.AdvanceTo(80000)

	if tc.OutputFailures() != 2 {
		t.Errorf("expected 2 failures, got %d", tc.OutputFailures())
	}
}

func TestReconfigureStopsPulseTrain(t *testing.T) {
	_, e, sim, out := setupTach(t, Config{PulsesPerRev: 1, Duration: 0.5, DurationAsDutyCycle: true})

	// the pulse starting at 42500 would fall at 62500
	spin(e, sim, 17)
	sim.AdvanceTo(50000)
	if err := e.ApplyTrigger(engine.TriggerConfig{Type: engine.TypeToothed, TotalTeeth: 8, Mode: waveform.FourStrokeCrankSensor}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.AdvanceTo(80000)

	want := []gpio.Transition{{High: true, AtUs: 42500}, {High: false, AtUs: 50000}}
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

func TestBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no pulses", Config{Duration: 0.5, DurationAsDutyCycle: true}},
		{"no duration", Config{PulsesPerRev: 2}},
		{"full duty", Config{PulsesPerRev: 2, Duration: 1, DurationAsDutyCycle: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := engine.New(engine.DefaultConfig(), hwtimer.NewSim(0))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := New(e, gpio.Discard{}, tt.cfg); !errors.Is(err, ErrBadConfig) {
				t.Errorf("expected ErrBadConfig, got %v", err)
			}
		})
	}
}
