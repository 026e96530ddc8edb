package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/engine-sync/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"rpmState": status.RPMState,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Engine Sync</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.synced { color: green; font-weight: bold; }
.unsynced { color: red; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Engine Sync</h1>

<h2>Position</h2>
<table>
<tr><th>Sync</th><td id="sync-state" class="{{if eq (stateOrUnknown (printf "%s" .Sync)) "SYNCED"}}synced{{else if eq (stateOrUnknown (printf "%s" .Sync)) "UNSYNCED"}}unsynced{{else}}unknown{{end}}">{{stateOrUnknown (printf "%s" .Sync)}}</td></tr>
<tr><th>Trigger</th><td>{{.Engine.Trigger}}</td></tr>
<tr><th>RPM</th><td id="rpm">{{if eq (rpmState .Engine.Decoder.RPM) "RUNNING"}}{{printf "%.0f" .Engine.Decoder.RPM}}{{else}}{{rpmState .Engine.Decoder.RPM}}{{end}}</td></tr>
<tr><th>Instant RPM</th><td>{{printf "%.0f" .Engine.Decoder.InstantRPM}}</td></tr>
<tr><th>Tooth</th><td>{{.Engine.Decoder.Index}}</td></tr>
<tr><th>Revolutions</th><td>{{.Engine.Decoder.Revolutions}}</td></tr>
<tr><th>Sync losses</th><td>{{.Engine.Decoder.SyncLoss}}</td></tr>
<tr><th>Noise edges</th><td>{{.Engine.Decoder.Noise}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Cams</h2>
<table>
{{range $b, $bank := .Engine.VVTSynced}}{{range $c, $ok := $bank}}{{if $ok}}<tr><th>Bank {{$b}} cam {{$c}}</th><td>{{printf "%.1f" (index (index $.Engine.VVT $b) $c)}}&deg;</td></tr>{{end}}{{end}}{{end}}
</table>

<h2>Warnings</h2>
<table>
{{range .Engine.Warnings}}<tr><th>{{.}}</th><td>{{.OBD}}</td></tr>
{{else}}<tr><th>none</th><td></td></tr>{{end}}
</table>

<h2>Scheduler</h2>
<table>
<tr><th>Queued</th><td>{{.Engine.QueueLen}}</td></tr>
<tr><th>Late (last / max / mean)</th><td>{{.Engine.Latency.LastUs}}us / {{.Engine.Latency.MaxUs}}us / {{printf "%.1f" .Engine.Latency.MeanUs}}us</td></tr>
<tr><th>Callback faults</th><td>{{.Engine.CallbackFaults}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Offline queue</th><td>{{.MQTTBuffered}} buffered, {{.MQTTDropped}} dropped</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Sync acquired</th><td>{{.Counts.SyncAcquired}}</td></tr>
<tr><th>Sync lost</th><td>{{.Counts.SyncLost}}</td></tr>
<tr><th>Warnings</th><td>{{.Counts.Warnings}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
