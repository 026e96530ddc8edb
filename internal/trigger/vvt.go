package trigger

import (
	"math"
	"sync/atomic"

	"github.com/sweeney/engine-sync/internal/warning"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// Banks and CamsPerBank bound the VVT inputs.
const (
	Banks       = 2
	CamsPerBank = 2
)

// VVTMode selects how a cam edge is recognized as the cam sync point.
type VVTMode int

const (
	VVTInactive VVTMode = iota
	// VVTFirstHalf takes every cam edge of the configured direction that
	// lands in the first half of the engine cycle.
	VVTFirstHalf
	// VVTGapRatio takes the cam edge whose preceding gap is at least
	// Threshold times the gap before it.
	VVTGapRatio
)

func (m VVTMode) String() string {
	switch m {
	case VVTFirstHalf:
		return "first-half"
	case VVTGapRatio:
		return "gap-ratio"
	}
	return "inactive"
}

// DefaultCamTimeoutRevolutions is how long the cam may stay silent before a
// warning.
const DefaultCamTimeoutRevolutions = 100

// VVTConfig configures one cam input.
type VVTConfig struct {
	Mode      VVTMode
	Edge      waveform.Edge
	Offset    float64
	Threshold float64
	// TimeoutRevolutions is the number of crank revolutions without a cam
	// sync before CamCircuitRangePerformance is raised. Zero uses the default.
	TimeoutRevolutions int64
}

type camState struct {
	cfg        VVTConfig
	seen       bool
	lastEdgeUs int64
	lastGapUs  int64
	lastSync   int64 // revolution counter at last cam sync, -1 before the first check
	timedOut   bool

	synced   atomic.Bool
	position atomic.Uint64
	syncs    atomic.Uint32
}

// VVTDecoder compares cam edges with the crank position. It shares the
// decoder's single owner.
type VVTDecoder struct {
	dec  *Decoder
	warn *warning.Ring
	cams [Banks][CamsPerBank]camState
}

// NewVVTDecoder creates a comparator for every configured cam.
func NewVVTDecoder(dec *Decoder, warn *warning.Ring, cfg [Banks][CamsPerBank]VVTConfig) *VVTDecoder {
	v := &VVTDecoder{dec: dec, warn: warn}
	for b := range v.cams {
		for c := range v.cams[b] {
			st := &v.cams[b][c]
			st.cfg = cfg[b][c]
			if st.cfg.TimeoutRevolutions <= 0 {
				st.cfg.TimeoutRevolutions = DefaultCamTimeoutRevolutions
			}
		}
	}
	v.Reset()
	return v
}

// Reset forgets all cam timing and positions.
func (v *VVTDecoder) Reset() {
	for b := range v.cams {
		for c := range v.cams[b] {
			st := &v.cams[b][c]
			st.seen = false
			st.lastEdgeUs = 0
			st.lastGapUs = 0
			st.lastSync = -1
			st.timedOut = false
			st.synced.Store(false)
			st.position.Store(math.Float64bits(0))
		}
	}
}

// Handle processes one cam edge and reports whether it was a cam sync point.
func (v *VVTDecoder) Handle(bank, cam int, edge waveform.Edge, tsUs int64) bool {
	if bank < 0 || bank >= Banks || cam < 0 || cam >= CamsPerBank {
		return false
	}
	st := &v.cams[bank][cam]
	if st.cfg.Mode == VVTInactive || edge != st.cfg.Edge {
		return false
	}

	gap := int64(0)
	if st.seen {
		gap = tsUs - st.lastEdgeUs
	}
	prevGap := st.lastGapUs
	st.seen = true
	st.lastEdgeUs = tsUs
	st.lastGapUs = gap

	cycle := v.dec.CycleAngle()
	switch st.cfg.Mode {
	case VVTFirstHalf:
		angle, ok := v.dec.AngleAt(tsUs)
		if !ok || angle >= cycle/2 {
			return false
		}
		v.store(st, angle)
	case VVTGapRatio:
		if gap <= 0 || prevGap <= 0 || float64(gap)/float64(prevGap) < st.cfg.Threshold {
			return false
		}
		angle, ok := v.dec.AngleAt(tsUs)
		if !ok {
			return false
		}
		if v.dec.Waveform().Mode.CrankMounted() && angle >= cycle/2 {
			// the cam tooth marks the first crank turn of the cycle
			v.dec.ShiftPhase(360)
			angle = math.Mod(angle+360, cycle)
		}
		v.store(st, angle)
	}
	return true
}

func (v *VVTDecoder) store(st *camState, angle float64) {
	cycle := v.dec.CycleAngle()
	pos := wrapHalf(angle-st.cfg.Offset, cycle)
	st.position.Store(math.Float64bits(pos))
	st.synced.Store(true)
	st.syncs.Add(1)
	st.lastSync = v.dec.TotalRevolutionCounter()
	st.timedOut = false
}

// OnCrankSync runs the cam watchdog; call it on every crank sync point.
func (v *VVTDecoder) OnCrankSync(revolutions int64) {
	for b := range v.cams {
		for c := range v.cams[b] {
			st := &v.cams[b][c]
			if st.cfg.Mode == VVTInactive {
				continue
			}
			if st.lastSync < 0 {
				st.lastSync = revolutions
				continue
			}
			if !st.timedOut && revolutions-st.lastSync > st.cfg.TimeoutRevolutions {
				st.timedOut = true
				st.synced.Store(false)
				v.warn.Warn(warning.CamCircuitRangePerformance,
					"bank %d cam %d: no cam sync for %d revolutions", b, c, revolutions-st.lastSync)
			}
		}
	}
}

// Position returns the cam position in degrees relative to its offset.
func (v *VVTDecoder) Position(bank, cam int) float64 {
	if bank < 0 || bank >= Banks || cam < 0 || cam >= CamsPerBank {
		return 0
	}
	return math.Float64frombits(v.cams[bank][cam].position.Load())
}

// Synced reports whether the cam has a current position.
func (v *VVTDecoder) Synced(bank, cam int) bool {
	if bank < 0 || bank >= Banks || cam < 0 || cam >= CamsPerBank {
		return false
	}
	return v.cams[bank][cam].synced.Load()
}

// SyncCount returns how many cam sync points have been seen.
func (v *VVTDecoder) SyncCount(bank, cam int) uint32 {
	if bank < 0 || bank >= Banks || cam < 0 || cam >= CamsPerBank {
		return 0
	}
	return v.cams[bank][cam].syncs.Load()
}

// wrapHalf maps angle into [-cycle/2, cycle/2).
func wrapHalf(angle, cycle float64) float64 {
	a := math.Mod(angle+cycle/2, cycle)
	if a < 0 {
		a += cycle
	}
	return a - cycle/2
}
