package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/engine-sync/internal/waveform"
)

// FakeSource is a test double that replays scripted edges.
type FakeSource struct {
	// Samples contains the scripted edges, each DelayUs after the previous.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool
}

// Sample is one scripted edge.
type Sample struct {
	Cam     bool
	Channel waveform.Channel
	Edge    waveform.Edge
	DelayUs int64
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples []Sample) *FakeSource {
	return &FakeSource{Samples: samples}
}

// Replay delivers the remaining samples to h starting at startUs and returns
// the timestamp of the last one.
func (f *FakeSource) Replay(h Handler, startUs int64) (int64, error) {
	if len(f.Samples) == 0 {
		return startUs, errors.New("no samples configured")
	}
	now := startUs
	for ; f.index < len(f.Samples); f.index++ {
		s := f.Samples[f.index]
		now += s.DelayUs
		if s.Cam {
			h.HandleVvtCamSignal(s.Edge, now, int(s.Channel))
			continue
		}
		h.HandleShaftSignal(s.Channel, s.Edge, now)
	}
	return now, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds to the beginning of samples.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Closed = false
}

// Transition is one recorded output change.
type Transition struct {
	High bool
	AtUs int64
}

// FakeOutput records Set calls.
type FakeOutput struct {
	// Clock stamps transitions when set.
	Clock func() int64
	// SetError, if set, will be returned by Set()
	SetError error

	mu          sync.Mutex
	transitions []Transition
	closed      bool
}

// Set records the requested level.
func (f *FakeOutput) Set(high bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	var at int64
	if f.Clock != nil {
		at = f.Clock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, Transition{High: high, AtUs: at})
	return nil
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Transitions returns a copy of the recorded changes.
func (f *FakeOutput) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transition(nil), f.transitions...)
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
