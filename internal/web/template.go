package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
	"github.com/sweeney/door-opener/internal/status"
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
	"levelOrUnknown": func(l logic.Level) string {
		if l == "" {
			return "UNKNOWN"
		}
		return string(l)
	},
	"utc": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.HostName}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.actuating { color: green; font-weight: bold; }
.idle { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; font-size: 1.2em; padding: 0.4em 1.2em; }
</style>
</head>
<body>
<h1>{{.Config.HostName}}</h1>

<form method="post" action="/trigger"><button type="submit">Open</button></form>

<h2>Relay</h2>
<table>
<tr><th>State</th><td id="relay-state" class="{{if eq (printf "%s" .Relay.State) "ACTUATING"}}actuating{{else}}idle{{end}}">{{.Relay.State}}</td></tr>
<tr><th>Since</th><td>{{utc .Relay.Since}}</td></tr>
<tr><th>Pulses</th><td>{{.Relay.Pulses}}</td></tr>
{{if .Relay.LastID}}<tr><th>Last request</th><td>{{.Relay.LastID}} ({{.Relay.LastSource}})</td></tr>{{end}}
<tr><th>Pin</th><td>{{.Config.RelayPin}}</td></tr>
<tr><th>Default pulse</th><td>{{.Config.DefaultDurationMs}}ms</td></tr>
<tr><th>Max pulse</th><td>{{.Config.MaxDurationMs}}ms</td></tr>
</table>

<h2>Button</h2>
<table>
{{if .Button.Enabled}}<tr><th>Level</th><td class="{{if .Button.Baselined}}idle{{else}}unknown{{end}}">{{levelOrUnknown .Button.Level}}</td></tr>
<tr><th>Ready</th><td>{{if .Button.Baselined}}yes{{else}}no{{end}}</td></tr>
<tr><th>Presses</th><td>{{.Button.Counts.Pressed}}</td></tr>
<tr><th>Pin</th><td>{{.Config.ButtonPin}}</td></tr>{{else}}<tr><th>Button</th><td>disabled</td></tr>{{end}}
</table>

<h2>Requests</h2>
<table>
<tr><th>Source</th><td>admitted / busy / offline / invalid</td></tr>
{{range .Sources}}<tr><th>{{.Source}}</th><td>{{.Counts.Admitted}} / {{.Counts.Busy}} / {{.Counts.Offline}} / {{.Counts.Invalid}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Board</th><td>{{.Config.Board}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/state">state</a></p>
</body>
</html>
`

type sourceRow struct {
	Source logic.Source
	Counts logic.RequestCounts
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has an Uptime() method but the template needs a field, and
	// map iteration order is random, so sources are listed explicitly.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Sources []sourceRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	for _, src := range logic.Sources {
		data.Sources = append(data.Sources, sourceRow{Source: src, Counts: snap.Requests[src]})
	}
	indexTmpl.Execute(w, data)
}
