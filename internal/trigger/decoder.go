// Package trigger decodes crank and cam edges against a wheel waveform:
// it finds the sync point, tracks the tooth index, and measures RPM.
//
// A Decoder has a single owner: Handle, Reset and SetWaveform must be called
// from one goroutine (the edge source). Everything else may be read from any
// goroutine; published values are kept in atomics.
package trigger

import (
	"math"
	"sync/atomic"

	"github.com/sweeney/engine-sync/internal/warning"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// NoisyRPM is reported after sync loss or an implausible revolution.
const NoisyRPM = -1.0

// Config holds decoder plausibility limits.
type Config struct {
	// MinEdgeIntervalUs is the shortest believable time between two edges
	// on one channel while synchronized.
	MinEdgeIntervalUs int64
	// MaxRPM is the fastest believable engine speed.
	MaxRPM float64
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MinEdgeIntervalUs: 20,
		MaxRPM:            30000,
	}
}

// Result describes what the decoder made of one edge.
type Result struct {
	Accepted     bool
	SyncPoint    bool
	Synchronized bool
	Index        int
	// CycleIndex counts events across the whole engine cycle. It equals
	// Index on a wheel that covers the cycle in one turn.
	CycleIndex   int
}

// Snapshot is a point-in-time copy of the decoder's published state.
type Snapshot struct {
	Synchronized bool
	RPM          float64
	InstantRPM   float64
	Index        int
	Revolutions  int64
	SyncLoss     uint32
	Noise        uint32
	LastToothUs  int64
}

// Decoder synchronizes to a waveform.
type Decoder struct {
	cfg  Config
	warn *warning.Ring
	wave atomic.Pointer[waveform.Waveform]

	// owner state
	lastEdge       [waveform.MaxChannels]int64
	seen           [waveform.MaxChannels]bool
	durations      []int64 // sync channel, newest first
	durCount       int
	haveRef        bool
	lastSyncUs     int64
	edgesSinceSync int
	noiseInCycle   int
	history        []int64
	histHead       int
	histCount      int

	// published state
	synced    atomic.Bool
	rpm       atomic.Uint64
	instant   atomic.Uint64
	index     atomic.Int32
	lastTooth atomic.Int64
	crankDeg  atomic.Int64
	syncLoss  atomic.Uint32
	noise     atomic.Uint32
}

// NewDecoder creates a decoder for w in the UNSYNCHRONIZED state.
func NewDecoder(w *waveform.Waveform, cfg Config, warn *warning.Ring) *Decoder {
	if warn == nil {
		warn = warning.NewRing(warning.DefaultCapacity)
	}
	d := &Decoder{cfg: cfg, warn: warn}
	d.SetWaveform(w)
	return d
}

// SetWaveform switches to a new waveform and resets.
func (d *Decoder) SetWaveform(w *waveform.Waveform) {
	d.wave.Store(w)
	d.Reset()
}

// Waveform returns the active waveform.
func (d *Decoder) Waveform() *waveform.Waveform {
	return d.wave.Load()
}

// Reset returns to UNSYNCHRONIZED and forgets all timing history. Loss and
// noise totals are kept.
func (d *Decoder) Reset() {
	w := d.wave.Load()
	d.lastEdge = [waveform.MaxChannels]int64{}
	d.seen = [waveform.MaxChannels]bool{}
	d.durations = make([]int64, len(w.SyncGaps))
	d.durCount = 0
	d.haveRef = false
	d.lastSyncUs = 0
	d.edgesSinceSync = 0
	d.noiseInCycle = 0
	d.history = make([]int64, w.EdgesPerCycle()+1)
	d.histHead = 0
	d.histCount = 0

	d.synced.Store(false)
	storeFloat(&d.rpm, 0)
	storeFloat(&d.instant, 0)
	d.index.Store(0)
	d.lastTooth.Store(0)
	d.crankDeg.Store(0)
}

// Handle processes one edge. Edges the waveform never uses are ignored.
func (d *Decoder) Handle(ch waveform.Channel, edge waveform.Edge, tsUs int64) Result {
	w := d.wave.Load()
	if !w.Has(ch, edge) {
		return d.result(w, Result{Synchronized: d.synced.Load(), Index: int(d.index.Load())})
	}

	delta := int64(-1)
	if d.seen[ch] {
		delta = tsUs - d.lastEdge[ch]
	}
	sync := w.SyncEvent()
	isSyncEdge := ch == sync.Channel && edge == sync.Edge

	if d.isSyncPoint(w, isSyncEdge, delta) {
		d.record(w, ch, tsUs, delta)
		d.onSyncPoint(w, tsUs)
		return d.result(w, Result{Accepted: true, SyncPoint: true, Synchronized: d.synced.Load(), Index: 0})
	}

	if d.synced.Load() && delta >= 0 && delta < d.cfg.MinEdgeIntervalUs {
		d.noise.Add(1)
		d.noiseInCycle++
		return d.result(w, Result{Synchronized: true, Index: int(d.index.Load())})
	}

	d.record(w, ch, tsUs, delta)
	d.edgesSinceSync++
	idx := d.edgesSinceSync - 1
	if !d.synced.Load() {
		return d.result(w, Result{Accepted: true, Index: idx})
	}
	if d.edgesSinceSync > 2*w.EdgesPerCycle() {
		d.warn.Warn(warning.SyncError, "%s: no sync point after %d edges", w.Name, d.edgesSinceSync)
		d.loseSync()
		return d.result(w, Result{Accepted: true, Index: idx})
	}
	d.index.Store(int32(idx))
	d.lastTooth.Store(tsUs)
	return d.result(w, Result{Accepted: true, Synchronized: true, Index: idx})
}

func (d *Decoder) result(w *waveform.Waveform, r Result) Result {
	r.CycleIndex = d.turn(w)*w.Size() + r.Index
	return r
}

// turn is which wheel turn of the engine cycle the decoder is in.
func (d *Decoder) turn(w *waveform.Waveform) int {
	cycle := int64(w.CycleAngle())
	phase := d.crankDeg.Load() % cycle
	if phase < 0 {
		phase += cycle
	}
	return int(float64(phase)/w.WheelAngle()) % w.TurnsPerCycle()
}

func (d *Decoder) isSyncPoint(w *waveform.Waveform, isSyncEdge bool, delta int64) bool {
	if !isSyncEdge {
		return false
	}
	switch w.SyncKind() {
	case waveform.SyncOnEdge:
		return true
	case waveform.SyncOnCount:
		return !d.haveRef || d.edgesSinceSync >= w.EdgesPerCycle()
	}

	if delta <= 0 || d.durCount < len(w.SyncGaps) {
		return false
	}
	cur := delta
	for i, g := range w.SyncGaps {
		prev := d.durations[i]
		if prev <= 0 || !g.Contains(float64(cur)/float64(prev)) {
			return false
		}
		cur = prev
	}
	return true
}

// record stores the timing of an accepted edge.
func (d *Decoder) record(w *waveform.Waveform, ch waveform.Channel, tsUs, delta int64) {
	d.lastEdge[ch] = tsUs
	d.seen[ch] = true

	if ch == w.SyncEvent().Channel && delta >= 0 && len(d.durations) > 0 {
		copy(d.durations[1:], d.durations[:len(d.durations)-1])
		d.durations[0] = delta
		if d.durCount < len(d.durations) {
			d.durCount++
		}
	}

	d.history[d.histHead] = tsUs
	d.histHead = (d.histHead + 1) % len(d.history)
	if d.histCount < len(d.history) {
		d.histCount++
	}
	if d.synced.Load() && d.histCount == len(d.history) {
		// the oldest entry is exactly one wheel turn back
		oldest := d.history[d.histHead]
		storeFloat(&d.instant, rpmFromPeriod(tsUs-oldest, w.WheelAngle()))
	}
}

func (d *Decoder) onSyncPoint(w *waveform.Waveform, tsUs int64) {
	count := d.edgesSinceSync
	want := w.EdgesPerCycle()
	first := !d.haveRef

	switch {
	case first:
		d.synced.Store(true)
	case d.synced.Load() && count != want:
		d.warn.Warn(warning.SyncCountMismatch, "%s: %d edges between sync points, want %d", w.Name, count, want)
		d.loseSync()
	case !d.synced.Load() && count == want:
		d.synced.Store(true)
	}

	if d.noiseInCycle > 0 {
		d.warn.Warn(warning.CrankCircuitMalfunction, "%s: %d implausible edges in one cycle", w.Name, d.noiseInCycle)
		d.noiseInCycle = 0
	}

	if !first {
		d.crankDeg.Add(int64(w.WheelAngle()))
		if d.synced.Load() {
			d.updateRPM(w, tsUs-d.lastSyncUs)
		}
	}

	d.haveRef = true
	d.lastSyncUs = tsUs
	d.edgesSinceSync = 1
	d.index.Store(0)
	d.lastTooth.Store(tsUs)
}

func (d *Decoder) updateRPM(w *waveform.Waveform, periodUs int64) {
	if periodUs <= 0 {
		d.warn.Warn(warning.CrankCircuitMalfunction, "%s: zero sync period", w.Name)
		storeFloat(&d.rpm, NoisyRPM)
		return
	}
	rpm := rpmFromPeriod(periodUs, w.WheelAngle())
	if rpm > d.cfg.MaxRPM {
		d.warn.Warn(warning.CrankCircuitMalfunction, "%s: unrealistic rpm %.0f", w.Name, rpm)
		storeFloat(&d.rpm, NoisyRPM)
		return
	}
	storeFloat(&d.rpm, rpm)
}

func (d *Decoder) loseSync() {
	d.synced.Store(false)
	d.syncLoss.Add(1)
	storeFloat(&d.rpm, NoisyRPM)
	storeFloat(&d.instant, 0)
	d.histCount = 0
}

func rpmFromPeriod(periodUs int64, wheelAngle float64) float64 {
	return 60e6 / float64(periodUs) * wheelAngle / 360
}

// IsSynchronized reports whether the tooth index is meaningful.
func (d *Decoder) IsSynchronized() bool {
	return d.synced.Load()
}

// CurrentIndex is the index of the last accepted edge within the waveform.
func (d *Decoder) CurrentIndex() int {
	return int(d.index.Load())
}

// CurrentCycleIndex is CurrentIndex counted across the engine cycle.
func (d *Decoder) CurrentCycleIndex() int {
	w := d.wave.Load()
	return d.turn(w)*w.Size() + d.CurrentIndex()
}

// RPM is the speed measured over the last full wheel turn. Zero means not
// yet measured or stopped; NoisyRPM means the last measurement is invalid.
func (d *Decoder) RPM() float64 {
	return loadFloat(&d.rpm)
}

// InstantRPM is the speed over the last EdgesPerCycle accepted edges.
func (d *Decoder) InstantRPM() float64 {
	return loadFloat(&d.instant)
}

// TotalRevolutionCounter counts crank revolutions since sync was first found.
func (d *Decoder) TotalRevolutionCounter() int64 {
	return d.crankDeg.Load() / 360
}

// SyncLossCount counts transitions out of SYNCHRONIZED.
func (d *Decoder) SyncLossCount() uint32 {
	return d.syncLoss.Load()
}

// NoiseCount counts edges dropped as implausibly fast.
func (d *Decoder) NoiseCount() uint32 {
	return d.noise.Load()
}

// LastToothTime is the timestamp of the last accepted edge while synchronized.
func (d *Decoder) LastToothTime() int64 {
	return d.lastTooth.Load()
}

// OneDegreeUs is the duration of one crank degree at the current RPM, or
// zero when RPM is unknown.
func (d *Decoder) OneDegreeUs() float64 {
	rpm := d.RPM()
	if rpm <= 0 {
		return 0
	}
	return 60e6 / (rpm * 360)
}

// CycleAngle is the engine cycle length of the active waveform.
func (d *Decoder) CycleAngle() float64 {
	return d.wave.Load().CycleAngle()
}

// AngleAt estimates the engine cycle angle at tsUs by extrapolating from
// the last accepted tooth.
func (d *Decoder) AngleAt(tsUs int64) (float64, bool) {
	if !d.synced.Load() {
		return 0, false
	}
	oneDeg := d.OneDegreeUs()
	if oneDeg <= 0 {
		return 0, false
	}
	w := d.wave.Load()
	cycle := w.CycleAngle()
	phase := float64(d.crankDeg.Load() % int64(cycle))
	a := phase + w.AngleOf(int(d.index.Load())) + float64(tsUs-d.lastTooth.Load())/oneDeg
	a = math.Mod(a, cycle)
	if a < 0 {
		a += cycle
	}
	return a, true
}

// ShiftPhase moves the engine phase by deg crank degrees. Used when the cam
// tells which half of the cycle a crank wheel is in.
func (d *Decoder) ShiftPhase(deg int64) {
	d.crankDeg.Add(deg)
}

// Snapshot returns the published state.
func (d *Decoder) Snapshot() Snapshot {
	return Snapshot{
		Synchronized: d.IsSynchronized(),
		RPM:          d.RPM(),
		InstantRPM:   d.InstantRPM(),
		Index:        d.CurrentIndex(),
		Revolutions:  d.TotalRevolutionCounter(),
		SyncLoss:     d.SyncLossCount(),
		Noise:        d.NoiseCount(),
		LastToothUs:  d.LastToothTime(),
	}
}

func storeFloat(a *atomic.Uint64, v float64) {
	a.Store(math.Float64bits(v))
}

func loadFloat(a *atomic.Uint64) float64 {
	return math.Float64frombits(a.Load())
}
