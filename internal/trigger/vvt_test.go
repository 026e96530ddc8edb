package trigger

import (
	"math"
	"sort"
	"testing"

	"github.com/sweeney/engine-sync/internal/warning"
	"github.com/sweeney/engine-sync/internal/waveform"
)

type timedEdge struct {
	atMs float64
	cam  bool
}

// newCrankBench builds a crank-mounted single tooth decoder, rising edges
// only, with cam 0 of bank 0 configured.
func newCrankBench(t *testing.T, cfg VVTConfig) *bench {
	t.Helper()
	w := mustWave(t)(waveform.OneTooth(waveform.FourStrokeCrankSensor))
	w = mustWave(t)(w.RisingOnly())
	b := newBench(t, w)
	var cams [Banks][CamsPerBank]VVTConfig
	cams[0][0] = cfg
	b.vvt = NewVVTDecoder(b.dec, b.warn, cams)
	return b
}

// play fires a crank rise every 50ms from fromMs to untilMs, merged with
// cam rises at the given times.
func (b *bench) play(fromMs, untilMs float64, camMs ...float64) {
	var edges []timedEdge
	for at := fromMs; at <= untilMs; at += 50 {
		edges = append(edges, timedEdge{atMs: at})
	}
	for _, at := range camMs {
		edges = append(edges, timedEdge{atMs: at, cam: true})
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].atMs < edges[j].atMs })

	for _, e := range edges {
		ts := int64(e.atMs * 1000)
		if ts < b.now {
			b.t.Fatalf("edge at %.1fms is in the past", e.atMs)
		}
		b.now = ts
		if e.cam {
			b.vvt.Handle(0, 0, waveform.Rise, ts)
			continue
		}
		if r := b.dec.Handle(waveform.Primary, waveform.Rise, ts); r.SyncPoint {
			b.vvt.OnCrankSync(b.dec.TotalRevolutionCounter())
		}
	}
}

func TestVVTFirstHalf(t *testing.T) {
	tests := []struct {
		name   string
		offset float64
		want   float64
	}{
		{"no offset", 0, 72},
		{"positive offset", 100, -28},
		{"wraps past half cycle", -400, -248},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newCrankBench(t, VVTConfig{Mode: VVTFirstHalf, Edge: waveform.Rise, Offset: tt.offset})

			// 1200 rpm; cam 10ms (72 degrees) after every crank tooth
			var cam []float64
			for at := 10.0; at < 300; at += 50 {
				cam = append(cam, at)
			}
			b.play(0, 300, cam...)

			if !b.vvt.Synced(0, 0) {
				t.Fatal("expected cam sync")
			}
			if got := b.vvt.Position(0, 0); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("expected position %.1f, got %.4f", tt.want, got)
			}
			// cam edges only count in the first crank turn of the cycle,
			// and only once rpm is known
			if got := b.vvt.SyncCount(0, 0); got != 2 {
				t.Errorf("expected 2 cam syncs, got %d", got)
			}
		})
	}
}

func TestVVTGapRatioFixesPhase(t *testing.T) {
	b := newCrankBench(t, VVTConfig{Mode: VVTGapRatio, Edge: waveform.Rise, Threshold: 2})

	// two cam teeth 20ms apart once per 100ms cycle; the long gap ends
	// 10ms after the crank tooth of the second crank turn
	b.play(0, 150, 60, 80)
	if b.dec.TotalRevolutionCounter() != 3 {
		t.Fatalf("expected 3 revolutions before cam sync, got %d", b.dec.TotalRevolutionCounter())
	}

	b.play(200, 250, 160, 180)
	if !b.vvt.Synced(0, 0) {
		t.Fatal("expected cam sync")
	}
	if got := b.vvt.Position(0, 0); math.Abs(got-72) > 1e-6 {
		t.Errorf("expected position 72, got %.4f", got)
	}
	// 250ms is five turns after the first tooth, plus one for the phase fix
	if got := b.dec.TotalRevolutionCounter(); got != 6 {
		t.Errorf("expected 6 revolutions, got %d", got)
	}

	b.play(300, 350, 260, 280)
	if got := b.dec.TotalRevolutionCounter(); got != 8 {
		t.Errorf("expected no further phase shift, got %d revolutions", got)
	}
	if got := b.vvt.SyncCount(0, 0); got != 2 {
		t.Errorf("expected 2 cam syncs, got %d", got)
	}
}

func TestCamWatchdog(t *testing.T) {
	b := newCrankBench(t, VVTConfig{Mode: VVTFirstHalf, Edge: waveform.Rise})

	for i := 0; i < 150; i++ {
		b.rise(50)
	}

	if got := b.warn.Total(warning.CamCircuitRangePerformance); got != 1 {
		t.Errorf("expected one cam warning, got %d", got)
	}
	b.warn.Clear()
	if b.warn.Count() != 0 {
		t.Errorf("expected empty ring after clear, got %d", b.warn.Count())
	}
}

func TestInactiveCamIgnored(t *testing.T) {
	b := newCrankBench(t, VVTConfig{})
	b.play(0, 300, 10, 60, 110)

	if b.vvt.Synced(0, 0) {
		t.Error("inactive cam should never sync")
	}
	if b.vvt.Handle(3, 0, waveform.Rise, b.now) {
		t.Error("out of range bank should be ignored")
	}
	if b.warn.Count() != 0 {
		t.Errorf("expected no warnings, got %v", b.warn.Codes())
	}
}

func TestWrapHalf(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{359, 359},
		{360, -360},
		{-361, 359},
		{720, 0},
		{-28, -28},
	}
	for _, tt := range tests {
		if got := wrapHalf(tt.in, 720); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("wrapHalf(%.0f) = %.1f, want %.1f", tt.in, got, tt.want)
		}
	}
}
