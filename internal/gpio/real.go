//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/engine-sync/internal/waveform"
)

// EdgeWatcher watches crank and cam lines for edges. Both lines share one
// request so the kernel delivers their events in order on a single
// goroutine, which keeps the decoder single-owner.
type EdgeWatcher struct {
	lines *gpiocdev.Lines
	crank int
	cam   int
	h     Handler
}

// NewEdgeWatcher requests crank (and cam, when cam >= 0) on chip as inputs
// with both edges detected, forwarding events to h.
func NewEdgeWatcher(chip string, crank, cam int, h Handler) (*EdgeWatcher, error) {
	w := &EdgeWatcher{crank: crank, cam: cam, h: h}
	offsets := []int{crank}
	if cam >= 0 {
		offsets = append(offsets, cam)
	}

	lines, err := gpiocdev.RequestLines(chip, offsets,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(w.handle))
	if err != nil {
		return nil, fmt.Errorf("request trigger lines %v on %s: %w", offsets, chip, err)
	}
	w.lines = lines
	return w, nil
}

func (w *EdgeWatcher) handle(evt gpiocdev.LineEvent) {
	edge := waveform.Fall
	if evt.Type == gpiocdev.LineEventRisingEdge {
		edge = waveform.Rise
	}
	ts := evt.Timestamp.Microseconds()
	if evt.Offset == w.cam {
		w.h.HandleVvtCamSignal(edge, ts, 0)
		return
	}
	w.h.HandleShaftSignal(waveform.Primary, edge, ts)
}

// Close releases the lines. They are left as inputs with pull-down, matching
// Pi boot defaults.
func (w *EdgeWatcher) Close() error {
	if w.lines == nil {
		return nil
	}
	var errs []error
	if err := w.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure trigger lines: %w", err))
	}
	if err := w.lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close trigger lines: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// LineOutput drives a single output line.
type LineOutput struct {
	line *gpiocdev.Line
}

// NewLineOutput requests offset on chip as an output, initially low.
func NewLineOutput(chip string, offset int) (*LineOutput, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output line %d on %s: %w", offset, chip, err)
	}
	return &LineOutput{line: l}, nil
}

// Set drives the line.
func (o *LineOutput) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set line: %w", err)
	}
	return nil
}

// Close drives the line low and returns it to an input with pull-down.
func (o *LineOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive line low: %w", err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
