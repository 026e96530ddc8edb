package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/engine-sync/internal/trigger"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Sync          SyncJSON      `json:"sync"`
	VVT           []CamJSON     `json:"vvt,omitempty"`
	Warnings      []WarningJSON `json:"warnings"`
	Scheduler     SchedulerJSON `json:"scheduler"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Config        ConfigJSON    `json:"config"`
}

// SyncJSON reports decoder state.
type SyncJSON struct {
	State        string  `json:"state"`
	Synchronized bool    `json:"synchronized"`
	Trigger      string  `json:"trigger"`
	RPM          float64 `json:"rpm"`
	RPMState     string  `json:"rpm_state"`
	InstantRPM   float64 `json:"instant_rpm"`
	ToothIndex   int     `json:"tooth_index"`
	Revolutions  int64   `json:"revolutions"`
	SyncLosses   uint32  `json:"sync_losses"`
	NoiseEdges   uint32  `json:"noise_edges"`
	Edges        uint64  `json:"edges"`
	CamEdges     uint64  `json:"cam_edges"`
}

// CamJSON reports one synced cam.
type CamJSON struct {
	Bank     int     `json:"bank"`
	Cam      int     `json:"cam"`
	Position float64 `json:"position"`
}

// WarningJSON is one recent warning code.
type WarningJSON struct {
	Code string `json:"code"`
	OBD  string `json:"obd,omitempty"`
}

// SchedulerJSON reports execution queue health.
type SchedulerJSON struct {
	Queued         int     `json:"queued"`
	CallbackFaults int     `json:"callback_faults"`
	LastLateUs     int64   `json:"last_late_us"`
	MaxLateUs      int64   `json:"max_late_us"`
	MeanLateUs     float64 `json:"mean_late_us"`
	Fired          int64   `json:"fired"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
	Dropped   int    `json:"dropped"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SyncAcquired int `json:"sync_acquired"`
	SyncLost     int `json:"sync_lost"`
	Warnings     int `json:"warnings"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Trigger     string `json:"trigger"`
	Source      string `json:"source"`
}

// RPMState names the meaning of an rpm reading.
func RPMState(rpm float64) string {
	switch {
	case rpm == trigger.NoisyRPM:
		return "NOISY"
	case rpm <= 0:
		return "STOPPED"
	}
	return "RUNNING"
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Sync)
	if state == "" {
		state = "UNKNOWN"
	}
	st := snap.Engine
	d := st.Decoder

	inner := StatusInner{
		Sync: SyncJSON{
			State:        state,
			Synchronized: d.Synchronized,
			Trigger:      st.Trigger,
			RPM:          d.RPM,
			RPMState:     RPMState(d.RPM),
			InstantRPM:   d.InstantRPM,
			ToothIndex:   d.Index,
			Revolutions:  d.Revolutions,
			SyncLosses:   d.SyncLoss,
			NoiseEdges:   d.Noise,
			Edges:        st.Edges,
			CamEdges:     st.CamEdges,
		},
		Warnings: []WarningJSON{},
		Scheduler: SchedulerJSON{
			Queued:         st.QueueLen,
			CallbackFaults: st.CallbackFaults,
			LastLateUs:     st.Latency.LastUs,
			MaxLateUs:      st.Latency.MaxUs,
			MeanLateUs:     st.Latency.MeanUs,
			Fired:          st.Latency.Samples,
		},
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Buffered:  snap.MQTTBuffered,
			Dropped:   snap.MQTTDropped,
		},
		Counts: CountsJSON{
			SyncAcquired: snap.Counts.SyncAcquired,
			SyncLost:     snap.Counts.SyncLost,
			Warnings:     snap.Counts.Warnings,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Trigger:     snap.Config.Trigger,
			Source:      snap.Config.Source,
		},
	}
	for _, c := range st.Warnings {
		inner.Warnings = append(inner.Warnings, WarningJSON{Code: c.String(), OBD: c.OBD()})
	}
	for b := range st.VVTSynced {
		for c, ok := range st.VVTSynced[b] {
			if ok {
				inner.VVT = append(inner.VVT, CamJSON{Bank: b, Cam: c, Position: st.VVT[b][c]})
			}
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
