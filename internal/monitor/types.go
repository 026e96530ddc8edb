// Package monitor turns sampled engine state into debounced sync events for
// publishing. It has no I/O; time is always passed in.
package monitor

import (
	"time"

	"github.com/sweeney/engine-sync/internal/warning"
)

// State is the debounced sync state.
type State string

const (
	StateSynced   State = "SYNCED"
	StateUnsynced State = "UNSYNCED"
)

// EventType names a published event.
type EventType string

const (
	EventSyncAcquired EventType = "SYNC_ACQUIRED"
	EventSyncLost     EventType = "SYNC_LOST"
	EventWarning      EventType = "WARNING"
)

// Event is a state change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Sync      State
	RPM       float64
	// Code is set for EventWarning.
	Code warning.Code
}

// channelState tracks debounce state for the sync flag.
type channelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is one sample of engine state.
type Input struct {
	Synced   bool
	RPM      float64
	Warnings []warning.Code
	Time     time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	SyncAcquired int
	SyncLost     int
	Warnings     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
