package monitor

import (
	"time"

	"github.com/sweeney/engine-sync/internal/warning"
)

// Detector debounces the sync flag and reports newly seen warnings.
type Detector struct {
	debounceDuration time.Duration
	sync             channelState
	seen             map[warning.Code]bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		seen:             make(map[warning.Code]bool),
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new sample and returns any events that should be emitted.
// Nothing is emitted until the sync flag has held steady for the debounce
// duration once; warnings present at that point are taken as already known.
func (d *Detector) Process(input Input) []Event {
	baselined := d.sync.Baselined
	transition := d.processSync(boolToState(input.Synced), input.Time)

	current := make(map[warning.Code]bool, len(input.Warnings))
	for _, c := range input.Warnings {
		current[c] = true
	}

	if !baselined {
		d.seen = current
		return nil
	}

	var events []Event
	if transition != nil {
		events = append(events, Event{
			Timestamp: input.Time,
			Type:      *transition,
			Sync:      d.sync.Stable,
			RPM:       input.RPM,
		})
	}
	// codes in ring order, so the oldest new warning is reported first
	for _, c := range input.Warnings {
		if d.seen[c] {
			continue
		}
		events = append(events, Event{
			Timestamp: input.Time,
			Type:      EventWarning,
			Sync:      d.sync.Stable,
			RPM:       input.RPM,
			Code:      c,
		})
	}
	d.seen = current

	for _, e := range events {
		switch e.Type {
		case EventSyncAcquired:
			d.eventCounts.SyncAcquired++
		case EventSyncLost:
			d.eventCounts.SyncLost++
		case EventWarning:
			d.eventCounts.Warnings++
		}
	}
	return events
}

// processSync handles debounce logic for the sync flag.
// Returns the event type if a transition occurred, nil otherwise.
func (d *Detector) processSync(newState State, now time.Time) *EventType {
	ch := &d.sync
	// First time seeing this channel
	if !ch.Baselined {
		if ch.Pending == "" || ch.Pending != newState {
			// Start observing, or restart on a change during baseline
			ch.Pending = newState
			ch.PendingSince = now
			return nil
		}
		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return nil
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return nil
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		return nil
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		event := EventSyncLost
		if newState == StateSynced {
			event = EventSyncAcquired
		}
		return &event
	}
	return nil
}

func boolToState(b bool) State {
	if b {
		return StateSynced
	}
	return StateUnsynced
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.sync.Baselined
}

// CurrentState returns the debounced sync state.
func (d *Detector) CurrentState() State {
	return d.sync.Stable
}

// Counts returns the events emitted since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.sync.Baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
