// Package gpio connects trigger inputs and driven outputs to the Linux GPIO
// character device. The real implementation stamps edges in the kernel; the
// fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/engine-sync/internal/waveform"

// Handler receives timestamped edges. Engine implements it.
type Handler interface {
	HandleShaftSignal(ch waveform.Channel, edge waveform.Edge, tsUs int64)
	HandleVvtCamSignal(edge waveform.Edge, tsUs int64, camIndex int)
}

// Watcher delivers edges to a Handler until closed.
type Watcher interface {
	Close() error
}

// Output drives one digital output such as a tach or injector pin.
type Output interface {
	Set(high bool) error
	Close() error
}

// Line definitions (BCM numbering)
const (
	LineCrank = 17
	LineCam   = 27
	LineTach  = 22
)

// Discard is an Output that does nothing.
type Discard struct{}

// Set does nothing.
func (Discard) Set(bool) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }
