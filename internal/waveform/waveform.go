// Package waveform describes the shape of a trigger wheel: the ordered list
// of edges seen during one turn of the wheel, and the gap signature that
// marks the synchronization point.
//
// Angles are crank degrees measured from the sync point. A wheel mounted on
// the cam covers the whole 720 degree engine cycle in one turn; a crank wheel
// covers 360.
package waveform

import (
	"errors"
	"fmt"
	"math"
)

// Channel identifies a trigger input.
type Channel int

const (
	Primary Channel = iota
	Secondary
	Tertiary
)

// MaxChannels is the number of trigger inputs a waveform may use.
const MaxChannels = 3

func (c Channel) String() string {
	switch c {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	case Tertiary:
		return "tertiary"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Edge is the direction of a signal transition.
type Edge int

const (
	Rise Edge = iota
	Fall
)

func (e Edge) String() string {
	if e == Rise {
		return "RISE"
	}
	return "FALL"
}

// Invert returns the opposite edge direction.
func (e Edge) Invert() Edge {
	if e == Rise {
		return Fall
	}
	return Rise
}

// OperationMode says where the wheel is mounted and how many strokes the
// engine has.
type OperationMode int

const (
	FourStrokeCrankSensor OperationMode = iota
	FourStrokeCamSensor
	TwoStroke
	FourStrokeSymmetricalCrankSensor
)

func (m OperationMode) String() string {
	switch m {
	case FourStrokeCrankSensor:
		return "four-stroke-crank"
	case FourStrokeCamSensor:
		return "four-stroke-cam"
	case TwoStroke:
		return "two-stroke"
	case FourStrokeSymmetricalCrankSensor:
		return "four-stroke-symmetrical-crank"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a mode name as printed by String back to a mode.
func ParseMode(s string) (OperationMode, error) {
	for _, m := range []OperationMode{FourStrokeCrankSensor, FourStrokeCamSensor, TwoStroke, FourStrokeSymmetricalCrankSensor} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown operation mode %q", s)
}

// CycleAngle is the length of one engine cycle in crank degrees.
func (m OperationMode) CycleAngle() float64 {
	if m == TwoStroke {
		return 360
	}
	return 720
}

// WheelAngle is the number of crank degrees covered by one turn of the wheel.
func (m OperationMode) WheelAngle() float64 {
	switch m {
	case FourStrokeCamSensor:
		return 720
	case FourStrokeSymmetricalCrankSensor:
		return 180
	}
	return 360
}

// CrankMounted reports whether one wheel turn is shorter than the engine
// cycle, so the engine phase cannot be known from the wheel alone.
func (m OperationMode) CrankMounted() bool {
	return m.WheelAngle() < m.CycleAngle()
}

var (
	ErrEmpty           = errors.New("waveform has no events")
	ErrNotIncreasing   = errors.New("event angles not strictly increasing")
	ErrOutOfRange      = errors.New("event angle out of range")
	ErrBadChannel      = errors.New("event channel out of range")
	ErrNoSyncSignature = errors.New("no unique sync signature")
	ErrBadToothCount   = errors.New("invalid tooth count")
)

// Event is one expected edge of the wheel.
type Event struct {
	Channel Channel
	Edge    Edge
	Angle   float64
}

// GapRange is the accepted window for the ratio between the duration ending
// at an edge and the duration before it.
type GapRange struct {
	From float64
	To   float64
}

// Contains reports whether ratio falls inside the window.
func (g GapRange) Contains(ratio float64) bool {
	return ratio >= g.From && ratio <= g.To
}

// SyncKind says how the decoder recognizes the sync point.
type SyncKind int

const (
	// SyncOnGap: the sync edge repeats within a turn and is told apart by
	// the ratio of preceding durations.
	SyncOnGap SyncKind = iota
	// SyncOnEdge: the sync edge happens once per turn.
	SyncOnEdge
	// SyncOnCount: all teeth look alike; the turn is counted out from the
	// first edge seen.
	SyncOnCount
)

// Waveform is an immutable description of one wheel turn.
type Waveform struct {
	Name     string
	Mode     OperationMode
	Events   []Event
	SyncGaps []GapRange

	kind   SyncKind
	counts [MaxChannels][2]int
}

// Option tunes waveform construction.
type Option func(*options)

type options struct {
	gaps      []GapRange
	tolerance float64
	countSync bool
}

// WithSyncGaps overrides the computed gap signature.
func WithSyncGaps(gaps ...GapRange) Option {
	return func(o *options) { o.gaps = gaps }
}

// WithGapTolerance sets the relative width of computed gap windows.
func WithGapTolerance(tol float64) Option {
	return func(o *options) { o.tolerance = tol }
}

// WithCountSync allows a wheel with no unique signature; the decoder then
// counts edges from the first one it sees.
func WithCountSync() Option {
	return func(o *options) { o.countSync = true }
}

// DefaultGapTolerance is the relative half-width of computed gap windows.
const DefaultGapTolerance = 0.25

// New validates events and derives the sync signature.
func New(name string, mode OperationMode, events []Event, opts ...Option) (*Waveform, error) {
	o := options{tolerance: DefaultGapTolerance}
	for _, opt := range opts {
		opt(&o)
	}

	if len(events) == 0 {
		return nil, ErrEmpty
	}
	wheel := mode.WheelAngle()
	w := &Waveform{
		Name:   name,
		Mode:   mode,
		Events: append([]Event(nil), events...),
	}
	for i, ev := range w.Events {
		if ev.Channel < 0 || ev.Channel >= MaxChannels {
			return nil, fmt.Errorf("event %d: %w", i, ErrBadChannel)
		}
		if ev.Angle < 0 || ev.Angle >= wheel {
			return nil, fmt.Errorf("event %d at %.2f outside [0, %.0f): %w", i, ev.Angle, wheel, ErrOutOfRange)
		}
		if i == 0 && ev.Angle != 0 {
			return nil, fmt.Errorf("first event at %.2f, want 0: %w", ev.Angle, ErrOutOfRange)
		}
		if i > 0 && ev.Angle <= w.Events[i-1].Angle {
			return nil, fmt.Errorf("event %d at %.2f after %.2f: %w", i, ev.Angle, w.Events[i-1].Angle, ErrNotIncreasing)
		}
		w.counts[ev.Channel][ev.Edge]++
	}

	first := w.Events[0]
	switch {
	case len(o.gaps) > 0:
		w.kind = SyncOnGap
		w.SyncGaps = append([]GapRange(nil), o.gaps...)
	case w.counts[first.Channel][first.Edge] == 1:
		w.kind = SyncOnEdge
	default:
		gaps, err := computeGaps(w.Events, wheel, o.tolerance)
		if err == nil {
			w.kind = SyncOnGap
			w.SyncGaps = gaps
			break
		}
		if !o.countSync {
			return nil, fmt.Errorf("waveform %s: %w", name, err)
		}
		w.kind = SyncOnCount
	}
	return w, nil
}

// computeGaps looks for the shortest run of duration ratios, ending at the
// first event, that no other edge on the sync channel reproduces.
func computeGaps(events []Event, wheel, tol float64) ([]GapRange, error) {
	syncCh := events[0].Channel
	var angles []float64
	for _, ev := range events {
		if ev.Channel == syncCh {
			angles = append(angles, ev.Angle)
		}
	}
	n := len(angles)
	if n < 2 {
		return nil, ErrNoSyncSignature
	}

	// duration ending at sync-channel edge k
	dur := func(k int) float64 {
		k = ((k % n) + n) % n
		if k == 0 {
			return wheel - angles[n-1]
		}
		return angles[k] - angles[k-1]
	}
	ratio := func(k, depth int) float64 {
		return dur(k-depth) / dur(k-depth-1)
	}

	for depth := 1; depth < n; depth++ {
		gaps := make([]GapRange, depth)
		for i := range gaps {
			r := ratio(0, i)
			gaps[i] = GapRange{From: r * (1 - tol), To: r * (1 + tol)}
		}
		unique := true
		for k := 1; k < n && unique; k++ {
			match := true
			for i := range gaps {
				if !gaps[i].Contains(ratio(k, i)) {
					match = false
					break
				}
			}
			if match {
				unique = false
			}
		}
		if unique {
			return gaps, nil
		}
	}
	return nil, ErrNoSyncSignature
}

// Size is the number of events in one wheel turn.
func (w *Waveform) Size() int {
	return len(w.Events)
}

// EdgesPerCycle is the number of accepted edges expected between two sync
// points.
func (w *Waveform) EdgesPerCycle() int {
	return len(w.Events)
}

// CountOf returns how many times an edge appears per turn.
func (w *Waveform) CountOf(ch Channel, edge Edge) int {
	if ch < 0 || ch >= MaxChannels || edge < Rise || edge > Fall {
		return 0
	}
	return w.counts[ch][edge]
}

// Has reports whether the waveform uses this channel and direction at all.
func (w *Waveform) Has(ch Channel, edge Edge) bool {
	return w.CountOf(ch, edge) > 0
}

// NeedsGap reports whether sync requires a gap signature.
func (w *Waveform) NeedsGap() bool {
	return w.kind == SyncOnGap
}

// SyncKind returns how the sync point is recognized.
func (w *Waveform) SyncKind() SyncKind {
	return w.kind
}

// SyncEvent is the event at angle zero.
func (w *Waveform) SyncEvent() Event {
	return w.Events[0]
}

// AngleOf returns the wheel angle of event index, wrapping past the end.
func (w *Waveform) AngleOf(index int) float64 {
	n := len(w.Events)
	return w.Events[((index%n)+n)%n].Angle
}

// ToothAngle is the angle from event index to the next one.
func (w *Waveform) ToothAngle(index int) float64 {
	n := len(w.Events)
	i := ((index % n) + n) % n
	if i == n-1 {
		return w.WheelAngle() - w.Events[i].Angle
	}
	return w.Events[i+1].Angle - w.Events[i].Angle
}

// WheelAngle is the crank angle spanned by one wheel turn.
func (w *Waveform) WheelAngle() float64 {
	return w.Mode.WheelAngle()
}

// CycleAngle is the engine cycle length in crank degrees.
func (w *Waveform) CycleAngle() float64 {
	return w.Mode.CycleAngle()
}

// TurnsPerCycle is how many wheel turns make one engine cycle.
func (w *Waveform) TurnsPerCycle() int {
	return int(math.Round(w.CycleAngle() / w.WheelAngle()))
}

// CycleSize is the number of events in one engine cycle. A crank-mounted
// wheel repeats its events once per turn.
func (w *Waveform) CycleSize() int {
	return w.Size() * w.TurnsPerCycle()
}

// CycleAngleOf returns the engine cycle angle of a cycle-relative index.
func (w *Waveform) CycleAngleOf(cycleIndex int) float64 {
	n := w.CycleSize()
	i := ((cycleIndex % n) + n) % n
	return float64(i/w.Size())*w.WheelAngle() + w.Events[i%w.Size()].Angle
}

// RisingOnly derives a waveform keeping only rising edges.
func (w *Waveform) RisingOnly() (*Waveform, error) {
	var events []Event
	for _, ev := range w.Events {
		if ev.Edge == Rise {
			events = append(events, ev)
		}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("rising-only %s: %w", w.Name, ErrEmpty)
	}
	var opts []Option
	if w.kind == SyncOnCount {
		opts = append(opts, WithCountSync())
	}
	return New(w.Name+"/rise", w.Mode, events, opts...)
}
