package emulator

import (
	"fmt"
	"math"
	"testing"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/waveform"
)

const start = 1000

// setupEmulator builds an engine on a virtual clock with an emulator attached.
func setupEmulator(t *testing.T, tc engine.TriggerConfig) (*Emulator, *engine.Engine, *hwtimer.Sim) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Trigger = tc
	sim := hwtimer.NewSim(start)
	e, err := engine.New(cfg, sim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, err := New(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m, e, sim
}

func turnUs(w *waveform.Waveform, rpm float64) int64 {
	return int64(math.Round(w.WheelAngle() * 60e6 / (rpm * 360)))
}

func TestCleanStreamsSyncWithinOneTurn(t *testing.T) {
	triggers := []engine.TriggerConfig{
		{Type: engine.TypeToothed, TotalTeeth: 60, SkippedTeeth: 2, Mode: waveform.FourStrokeCrankSensor},
		{Type: engine.TypeToothed, TotalTeeth: 60, SkippedTeeth: 2, Mode: waveform.FourStrokeCrankSensor, RisingOnly: true},
		{Type: engine.TypeToothed, TotalTeeth: 36, SkippedTeeth: 1, Mode: waveform.TwoStroke},
		{Type: engine.TypeToothed, TotalTeeth: 36, SkippedTeeth: 2, Mode: waveform.FourStrokeSymmetricalCrankSensor},
		{Type: engine.TypeToothed, TotalTeeth: 3, SkippedTeeth: 1, Mode: waveform.FourStrokeCamSensor},
		{Type: engine.TypeToothed, TotalTeeth: 8, Mode: waveform.FourStrokeCrankSensor},
		{Type: engine.TypeOneTooth, Mode: waveform.FourStrokeCamSensor},
		{Type: engine.TypeOnePlusOne, Mode: waveform.FourStrokeCamSensor},
	}
	speeds := []float64{250, 1500, 6800}

	for _, tc := range triggers {
		for _, rpm := range speeds {
			t.Run(fmt.Sprintf("%s at %.0f", tc, rpm), func(t *testing.T) {
				m, e, sim := setupEmulator(t, tc)
				m.SetRPM(rpm)
				m.Enable()

				turn := turnUs(e.Waveform(), rpm)
				sim.AdvanceTo(start + turn)
				if !e.IsSynchronized() {
					t.Fatalf("expected sync within one turn, %d edges fed", m.Edges())
				}

				sim.AdvanceTo(start + 4*turn)
				if !e.IsSynchronized() {
					t.Fatal("lost sync on a clean stream")
				}
				if got := e.RPM(); math.Abs(got-rpm)/rpm > 0.001 {
					t.Errorf("expected %.0f rpm, got %.3f", rpm, got)
				}
				if n := e.Warnings().Count(); n != 0 {
					t.Errorf("expected no warnings, got %v", e.Warnings().Codes())
				}
			})
		}
	}
}

func TestDisableStopsEdges(t *testing.T) {
	m, e, sim := setupEmulator(t, engine.TriggerConfig{Type: engine.TypeOneTooth, Mode: waveform.FourStrokeCamSensor})
	m.SetRPM(1200)
	m.Enable()
	sim.Advance(150000)

	m.Disable()
	fed := m.Edges()
	sim.Advance(500000)

	if m.Edges() != fed {
		t.Errorf("expected %d edges after disable, got %d", fed, m.Edges())
	}
	if e.Executor().Len() != 0 {
		t.Errorf("expected empty queue, got %d", e.Executor().Len())
	}
	if m.Enabled() {
		t.Error("expected disabled")
	}
}

func TestZeroRPMStops(t *testing.T) {
	m, _, sim := setupEmulator(t, engine.TriggerConfig{Type: engine.TypeOneTooth, Mode: waveform.FourStrokeCamSensor})
	m.SetRPM(1200)
	m.Enable()
	sim.Advance(150000)

	m.SetRPM(0)
	fed := m.Edges()
	sim.Advance(500000)
	if m.Edges() != fed {
		t.Errorf("expected no edges at zero rpm, got %d more", m.Edges()-fed)
	}

	m.SetRPM(1200)
	sim.Advance(150000)
	if m.Edges() == fed {
		t.Error("expected edges to resume")
	}
}

func TestSpeedChange(t *testing.T) {
	m, e, sim := setupEmulator(t, engine.TriggerConfig{Type: engine.TypeToothed, TotalTeeth: 36, SkippedTeeth: 1, Mode: waveform.FourStrokeCrankSensor})
	m.SetRPM(1000)
	m.Enable()
	sim.Advance(150000)

	// a speed step mid-turn is one cycle of acceleration, not noise
	m.SetRPM(2000)
	sim.Advance(200000)

	if !e.IsSynchronized() {
		t.Fatal("expected to stay synchronized")
	}
	if got := e.RPM(); math.Abs(got-2000) > 2 {
		t.Errorf("expected 2000 rpm, got %.3f", got)
	}
	if e.Warnings().Count() != 0 {
		t.Errorf("expected no warnings, got %v", e.Warnings().Codes())
	}
}

func TestWaveformSwitchAtTurnBoundary(t *testing.T) {
	m, e, sim := setupEmulator(t, engine.TriggerConfig{Type: engine.TypeOneTooth, Mode: waveform.FourStrokeCamSensor})
	m.SetRPM(1200)
	m.Enable()
	sim.Advance(150000)

	if err := e.ApplyTrigger(engine.TriggerConfig{Type: engine.TypeToothed, TotalTeeth: 3, SkippedTeeth: 1, Mode: waveform.FourStrokeCamSensor}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Advance(500000)

	if m.Version() != 1 {
		t.Errorf("expected version 1, got %d", m.Version())
	}
	if !e.IsSynchronized() {
		t.Error("expected sync on the new waveform")
	}
	if math.Abs(e.RPM()-1200) > 0.5 {
		t.Errorf("expected 1200 rpm, got %.3f", e.RPM())
	}
}
