// Package status provides a thread-safe status tracker for the engine-sync
// daemon. It is read by the HTTP handlers and system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/monitor"
	"github.com/sweeney/engine-sync/internal/warning"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Trigger     string
	// Source is "gpio" or "emulator".
	Source string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Engine        engine.State
	Sync          monitor.State
	Baselined     bool
	Counts        monitor.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int
	MQTTDropped   int
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the engine readout and the debounced monitor state.
// Called from runLoop on every tick.
func (t *Tracker) Update(st engine.State, sync monitor.State, baselined bool, counts monitor.EventCounts) {
	t.mu.Lock()
	t.snap.Engine = st
	t.snap.Sync = sync
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTBacklog records the publisher's offline queue depth and the
// number of messages lost to overflow.
func (t *Tracker) SetMQTTBacklog(buffered, dropped int) {
	t.mu.Lock()
	t.snap.MQTTBuffered = buffered
	t.snap.MQTTDropped = dropped
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Engine.Warnings = append([]warning.Code(nil), s.Engine.Warnings...)
	s.Now = time.Now()
	return s
}
