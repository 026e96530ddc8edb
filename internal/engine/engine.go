// Package engine owns one engine's decoding and scheduling state. Nothing
// is global: every Engine is independent, so tests build as many as they
// like.
package engine

import (
	"fmt"
	"log"

	"github.com/sweeney/engine-sync/internal/angle"
	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/schedule"
	"github.com/sweeney/engine-sync/internal/shaft"
	"github.com/sweeney/engine-sync/internal/trigger"
	"github.com/sweeney/engine-sync/internal/warning"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// Engine is the context object tying the decoder to the scheduler.
type Engine struct {
	cfg Config

	warn     *warning.Ring
	timer    hwtimer.Timer
	pool     *schedule.Pool
	exec     *schedule.Executor
	decoder  *trigger.Decoder
	vvt      *trigger.VVTDecoder
	dispatch *shaft.Dispatcher
	angle    *angle.Scheduler

	resets []func()
}

// State is a point-in-time summary for readout.
type State struct {
	Trigger        string
	Decoder        trigger.Snapshot
	VVT            [trigger.Banks][trigger.CamsPerBank]float64
	VVTSynced      [trigger.Banks][trigger.CamsPerBank]bool
	Warnings       []warning.Code
	WarningSeq     uint64
	QueueLen       int
	Latency        schedule.Latency
	CallbackFaults int
	Edges          uint64
	CamEdges       uint64
}

// New builds an engine driven by timer.
func New(cfg Config, timer hwtimer.Timer) (*Engine, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	w, err := cfg.Trigger.Build()
	if err != nil {
		return nil, fmt.Errorf("build trigger %s: %w", cfg.Trigger, err)
	}

	e := &Engine{
		cfg:   cfg,
		warn:  warning.NewRing(cfg.WarningCapacity),
		timer: timer,
		pool:  schedule.NewPool(cfg.PoolSize),
	}
	e.exec = schedule.NewExecutor(e.pool, timer, e.warn)
	e.decoder = trigger.NewDecoder(w, cfg.Decoder, e.warn)
	e.vvt = trigger.NewVVTDecoder(e.decoder, e.warn, cfg.VVT)
	e.dispatch = shaft.New(e.decoder, e.vvt, cfg.Dispatch)
	e.angle = angle.New(e.exec, e.decoder, cfg.PendingSize)
	e.dispatch.AddToothListener("angle", func(ev shaft.ToothEvent) {
		e.angle.OnTooth(ev.CycleIndex, ev.TimeUs)
	})
	return e, nil
}

// ApplyTrigger rebuilds the waveform from tc. On failure the previous
// waveform stays armed and a configuration warning is raised.
func (e *Engine) ApplyTrigger(tc TriggerConfig) error {
	w, err := tc.Build()
	if err != nil {
		e.warn.Warn(warning.ConfigurationError, "trigger %s: %v", tc, err)
		return fmt.Errorf("apply trigger %s: %w", tc, err)
	}
	e.cfg.Trigger = tc
	e.Reconfigure(w)
	return nil
}

// Reconfigure switches to w and resets all sync state. Pending angle
// requests are dropped and every OnReconfigure hook runs before edges flow
// again. It must run on the edge source goroutine or while edges are
// stopped.
func (e *Engine) Reconfigure(w *waveform.Waveform) {
	was := e.dispatch.Enabled()
	e.dispatch.SetEnabled(false)
	e.decoder.SetWaveform(w)
	e.vvt.Reset()
	e.angle.ClearPending()
	for _, reset := range e.resets {
		reset()
	}
	e.dispatch.SetEnabled(was)
	log.Printf("engine: trigger %s (%s, %d edges per cycle)", w.Name, w.Mode, w.EdgesPerCycle())
}

// OnReconfigure registers fn to run on every trigger change. Consumers whose
// armed events were computed from the old wheel cancel them here and
// return their outputs to idle. Register at configuration time.
func (e *Engine) OnReconfigure(fn func()) {
	e.resets = append(e.resets, fn)
}

// SetDispatchConfig replaces input polarity settings.
func (e *Engine) SetDispatchConfig(cfg shaft.Config) {
	e.cfg.Dispatch = cfg
	e.dispatch.SetConfig(cfg)
}

// HandleShaftSignal feeds one crank-side edge.
func (e *Engine) HandleShaftSignal(ch waveform.Channel, edge waveform.Edge, tsUs int64) {
	e.dispatch.HandleShaftSignal(ch, edge, tsUs)
}

// HandleVvtCamSignal feeds one cam edge.
func (e *Engine) HandleVvtCamSignal(edge waveform.Edge, tsUs int64, camIndex int) {
	e.dispatch.HandleVvtCamSignal(edge, tsUs, camIndex)
}

// RPM returns the measured engine speed, 0 when stopped, or
// trigger.NoisyRPM while sync is lost.
func (e *Engine) RPM() float64 { return e.decoder.RPM() }

// IsSynchronized reports whether engine position is known.
func (e *Engine) IsSynchronized() bool { return e.decoder.IsSynchronized() }

// CurrentToothIndex returns the index of the last accepted edge.
func (e *Engine) CurrentToothIndex() int { return e.decoder.CurrentIndex() }

// VVTPosition returns the cam position for bank and cam.
func (e *Engine) VVTPosition(bank, cam int) float64 { return e.vvt.Position(bank, cam) }

// TotalRevolutionCounter counts crank revolutions since sync.
func (e *Engine) TotalRevolutionCounter() int64 { return e.decoder.TotalRevolutionCounter() }

// Warnings returns the recent-warnings ring.
func (e *Engine) Warnings() *warning.Ring { return e.warn }

// Waveform returns the active trigger waveform.
func (e *Engine) Waveform() *waveform.Waveform { return e.decoder.Waveform() }

// Decoder exposes the trigger decoder.
func (e *Engine) Decoder() *trigger.Decoder { return e.decoder }

// Dispatch exposes the shaft dispatcher for listener registration.
func (e *Engine) Dispatch() *shaft.Dispatcher { return e.dispatch }

// Executor exposes the event executor.
func (e *Engine) Executor() *schedule.Executor { return e.exec }

// Angle exposes the angle scheduler.
func (e *Engine) Angle() *angle.Scheduler { return e.angle }

// Timer returns the timer driving the executor.
func (e *Engine) Timer() hwtimer.Timer { return e.timer }

// AcquireEvent reserves an event record for the named consumer.
func (e *Engine) AcquireEvent(name string) (schedule.Handle, error) {
	return e.pool.Acquire(name)
}

// ScheduleByAngle arms h angleOffset degrees after the tooth at edgeUs.
func (e *Engine) ScheduleByAngle(h schedule.Handle, edgeUs int64, angleOffset float64, a schedule.Action) (int64, error) {
	return e.angle.ScheduleByAngle(h, edgeUs, angleOffset, a)
}

// ScheduleByTimestamp arms h at atUs.
func (e *Engine) ScheduleByTimestamp(h schedule.Handle, atUs int64, a schedule.Action) error {
	return e.exec.ScheduleByTimestamp(h, atUs, a)
}

// Cancel disarms h, including a pending tooth-anchored request.
func (e *Engine) Cancel(h schedule.Handle) bool {
	pending := e.angle.CancelPending(h)
	return e.exec.Cancel(h) || pending
}

// State collects the readout summary.
func (e *Engine) State() State {
	s := State{
		Trigger:        e.decoder.Waveform().Name,
		Decoder:        e.decoder.Snapshot(),
		Warnings:       e.warn.Codes(),
		WarningSeq:     e.warn.Seq(),
		QueueLen:       e.exec.Len(),
		Latency:        e.exec.Latency(),
		CallbackFaults: e.exec.CallbackFaults(),
		Edges:          e.dispatch.EdgeCount(),
		CamEdges:       e.dispatch.CamEdgeCount(),
	}
	for b := 0; b < trigger.Banks; b++ {
		for c := 0; c < trigger.CamsPerBank; c++ {
			s.VVT[b][c] = e.vvt.Position(b, c)
			s.VVTSynced[b][c] = e.vvt.Synced(b, c)
		}
	}
	return s
}
