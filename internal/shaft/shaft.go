// Package shaft routes raw crank and cam edges into the decoder and fans
// decoded teeth out to listeners.
//
// Listeners are registered at configuration time, before edges flow.
// HandleShaftSignal and HandleVvtCamSignal share the decoder's single
// owner.
package shaft

import (
	"log"
	"sync/atomic"

	"github.com/sweeney/engine-sync/internal/trigger"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// ToothEvent is delivered to listeners for each edge.
type ToothEvent struct {
	Channel      waveform.Channel
	Edge         waveform.Edge
	TimeUs       int64
	Index        int
	CycleIndex   int
	Accepted     bool
	SyncPoint    bool
	Synchronized bool
}

// Listener receives tooth events.
type Listener func(ev ToothEvent)

// Config holds input polarity.
type Config struct {
	InvertPrimary   bool
	InvertSecondary bool
	InvertCam       bool
}

type listener struct {
	name   string
	fn     Listener
	faults atomic.Uint32
}

// Dispatcher is the entry point for hardware and emulated edges.
type Dispatcher struct {
	dec *trigger.Decoder
	vvt *trigger.VVTDecoder
	cfg atomic.Pointer[Config]

	enabled atomic.Bool
	tooth   []*listener
	raw     []*listener

	edges    atomic.Uint64
	camEdges atomic.Uint64
}

// New creates an enabled dispatcher.
func New(dec *trigger.Decoder, vvt *trigger.VVTDecoder, cfg Config) *Dispatcher {
	d := &Dispatcher{dec: dec, vvt: vvt}
	d.cfg.Store(&cfg)
	d.enabled.Store(true)
	return d
}

// SetConfig replaces the polarity settings.
func (d *Dispatcher) SetConfig(cfg Config) {
	d.cfg.Store(&cfg)
}

// SetEnabled turns edge handling on or off. Edges arriving while disabled
// are dropped.
func (d *Dispatcher) SetEnabled(on bool) {
	d.enabled.Store(on)
}

// Enabled reports whether edges are being handled.
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// AddToothListener registers fn for accepted edges while synchronized.
func (d *Dispatcher) AddToothListener(name string, fn Listener) {
	d.tooth = append(d.tooth, &listener{name: name, fn: fn})
}

// AddRawListener registers fn for every edge on a crank channel, whatever
// the decoder made of it.
func (d *Dispatcher) AddRawListener(name string, fn Listener) {
	d.raw = append(d.raw, &listener{name: name, fn: fn})
}

// HandleShaftSignal processes one crank-side edge.
func (d *Dispatcher) HandleShaftSignal(ch waveform.Channel, edge waveform.Edge, tsUs int64) {
	if !d.enabled.Load() {
		return
	}
	cfg := d.cfg.Load()
	if (ch == waveform.Primary && cfg.InvertPrimary) || (ch == waveform.Secondary && cfg.InvertSecondary) {
		edge = edge.Invert()
	}
	d.edges.Add(1)

	res := d.dec.Handle(ch, edge, tsUs)
	ev := ToothEvent{
		Channel:      ch,
		Edge:         edge,
		TimeUs:       tsUs,
		Index:        res.Index,
		CycleIndex:   res.CycleIndex,
		Accepted:     res.Accepted,
		SyncPoint:    res.SyncPoint,
		Synchronized: res.Synchronized,
	}

	if res.SyncPoint && d.vvt != nil {
		d.vvt.OnCrankSync(d.dec.TotalRevolutionCounter())
	}
	for _, l := range d.raw {
		call(l, ev)
	}
	if res.Accepted && res.Synchronized {
		for _, l := range d.tooth {
			call(l, ev)
		}
	}
}

// HandleVvtCamSignal processes one cam edge. camIndex counts cams across
// banks: bank is camIndex/2.
func (d *Dispatcher) HandleVvtCamSignal(edge waveform.Edge, tsUs int64, camIndex int) {
	if !d.enabled.Load() || d.vvt == nil {
		return
	}
	if d.cfg.Load().InvertCam {
		edge = edge.Invert()
	}
	d.camEdges.Add(1)
	d.vvt.Handle(camIndex/trigger.CamsPerBank, camIndex%trigger.CamsPerBank, edge, tsUs)
}

func call(l *listener, ev ToothEvent) {
	defer func() {
		if r := recover(); r != nil {
			n := l.faults.Add(1)
			log.Printf("shaft: listener %s panicked (%d total): %v", l.name, n, r)
		}
	}()
	l.fn(ev)
}

// EdgeCount is the number of crank edges handled.
func (d *Dispatcher) EdgeCount() uint64 {
	return d.edges.Load()
}

// CamEdgeCount is the number of cam edges handled.
func (d *Dispatcher) CamEdgeCount() uint64 {
	return d.camEdges.Load()
}

// ListenerFaults returns the panic count per listener name.
func (d *Dispatcher) ListenerFaults() map[string]uint32 {
	out := make(map[string]uint32)
	for _, l := range append(append([]*listener(nil), d.raw...), d.tooth...) {
		out[l.name] += l.faults.Load()
	}
	return out
}
