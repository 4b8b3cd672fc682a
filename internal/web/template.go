package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/cargo-climate/internal/status"
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
	"celsius": func(v float64) string {
		return fmt.Sprintf("%.1f°C", v)
	},
	"percent": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
	"rate": func(v float64) string {
		return fmt.Sprintf("%+.2f/min", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Cargo Climate</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.warn { color: orange; font-weight: bold; }
.alert { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Cargo Climate</h1>

<h2>Environment</h2>
<table>
{{if .HaveReading}}
<tr><th>Temperature</th><td>{{celsius .LastReading.Temperature}}</td></tr>
<tr><th>Humidity</th><td>{{percent .LastReading.Humidity}}</td></tr>
<tr><th>Source</th><td{{if eq (printf "%s" .LastReading.Validity) "SYNTHETIC"}} class="warn"{{end}}>{{.LastReading.Validity}}</td></tr>
{{else}}
<tr><th>Reading</th><td class="warn">none yet</td></tr>
{{end}}
{{if .Rate.Valid}}
<tr><th>Temp trend</th><td>{{rate .Rate.TempPerMin}} → {{celsius .Prediction.Temperature}}</td></tr>
<tr><th>Humidity trend</th><td>{{rate .Rate.HumidityPerMin}} → {{percent .Prediction.Humidity}}</td></tr>
{{end}}
</table>

<h2>Control</h2>
<table>
{{if .HaveDecision}}
<tr><th>Mode</th><td{{if eq (printf "%s" .LastDecision.Mode) "EMERGENCY"}} class="alert"{{end}}>{{.LastDecision.Mode}}</td></tr>
<tr><th>Reason</th><td>{{.LastDecision.Reason.Code}}</td></tr>
<tr><th>Detail</th><td>{{.LastDecision.Reason.Detail}}</td></tr>
{{end}}
{{if .Preset}}<tr><th>Preset</th><td>{{.Preset}}</td></tr>{{end}}
{{if .Override.Active}}<tr><th>Override</th><td class="warn">active since {{.Override.Since.UTC.Format "15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Actuators</h2>
<table>
{{range .Applied}}
<tr><th>{{.Name}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}{{if .Refusal}} <span class="warn">({{.Refusal}})</span>{{end}}</td></tr>
{{end}}
</table>

<h2>Safety</h2>
<table>
<tr><th>Sensor</th><td class="{{if .Safety.SensorValid}}on{{else}}alert{{end}}">{{if .Safety.SensorValid}}valid{{else}}INVALID{{end}}</td></tr>
<tr><th>Water level</th><td class="{{if .Safety.WaterLevelOK}}on{{else}}warn{{end}}">{{if .Safety.WaterLevelOK}}ok{{else}}LOW{{end}}</td></tr>
<tr><th>Emergency latch</th><td class="{{if .Safety.EmergencyLatched}}alert{{else}}off{{end}}">{{if .Safety.EmergencyLatched}}LATCHED{{else}}clear{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Cycles</th><td>{{.CycleCount}} ({{.ErrorCount}} errors)</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/api/status">JSON</a> · <a href="/metrics">metrics</a></p>
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
