// Package mqtt publishes sync diagnostics with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/engine-sync/internal/monitor"
)

// Topic is the MQTT topic for sync events.
const Topic = "engine/sync/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "engine/sync/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a sync event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event monitor.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active and how
// much is queued behind it.
type ConnectionStatus interface {
	IsConnected() bool
	// Backlog returns messages waiting for a connection and the total
	// dropped because the buffer was full.
	Backlog() (buffered, dropped int)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Sync SyncPayload `json:"sync"`
}

// SyncPayload contains the sync event details.
type SyncPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	State     string  `json:"state"`
	RPM       float64 `json:"rpm"`
	Code      string  `json:"code,omitempty"`
	OBD       string  `json:"obd,omitempty"`
}

// FormatPayload creates the JSON payload for a sync event.
func FormatPayload(event monitor.Event) ([]byte, error) {
	p := SyncPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		State:     string(event.Sync),
		RPM:       event.RPM,
	}
	if event.Type == monitor.EventWarning {
		p.Code = event.Code.String()
		p.OBD = event.Code.OBD()
	}
	return json.Marshal(Payload{Sync: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillEvent is the last-will message the broker publishes if the daemon
// drops off without a clean shutdown.
func WillEvent(now time.Time) SystemEvent {
	return SystemEvent{
		Timestamp: now,
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
		Retained:  true,
	}
}
