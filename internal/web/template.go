package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/flight-computer/internal/mqtt"
	"github.com/sweeney/flight-computer/internal/status"
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
	"metres": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Flight Computer</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.bad { color: red; font-weight: bold; }
.firing { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Flight Computer{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Flight</h2>
<table>
<tr><th>Phase</th><td id="phase">{{.Flight.Phase}}</td></tr>
<tr><th>Altitude AGL</th><td>{{metres .Flight.AGL}} m</td></tr>
<tr><th>Vertical velocity</th><td>{{metres .Flight.VertVel}} m/s</td></tr>
<tr><th>Burnouts</th><td>{{.Flight.Burnouts}}</td></tr>
<tr><th>Mach lockout</th><td>{{if .Flight.MachLockout}}active{{else}}no{{end}}</td></tr>
<tr><th>Battery</th><td>{{printf "%.2f" .Flight.BatteryVolts}} V</td></tr>
<tr><th>Arm</th><td class="{{if .Flight.ArmError}}bad{{else}}ok{{end}}">{{if .Flight.ArmError}}{{.Flight.ArmError}}{{else}}ready{{end}}</td></tr>
<tr><th>Last event</th><td id="last-event">-</td></tr>
</table>

<h2>Pyro Channels</h2>
<table>
<tr><th>Channel</th><td>type / continuity / state</td></tr>
{{range .Channels}}<tr><th>{{.Index}}</th><td>{{.Config.Type}} / <span class="{{if .Continuity}}ok{{else}}bad{{end}}">{{if .Continuity}}OK{{else}}OPEN{{end}}</span> / <span{{if eq .State.String "firing"}} class="firing"{{end}}>{{.State}}</span>{{if .Triggered}} (fired){{end}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
{{range $kind, $n := .Counts}}<tr><th>{{$kind}}</th><td>{{$n}}</td></tr>
{{else}}<tr><th>none</th><td></td></tr>
{{end}}<tr><th>Bus drops</th><td>{{.BusDropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Session</th><td>{{.Session}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}{{if .Config.Sim}} (simulated){{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.EventsTopic}}";
  var dot = document.getElementById("live-dot");
  var lastEl = document.getElementById("last-event");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });
  client.on("reconnect", function() { setDot("pending", "reconnecting"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.flight) {
        var args = msg.flight.args ? " " + msg.flight.args.join(",") : "";
        lastEl.textContent = msg.flight.event + args + " @ " + msg.flight.timestamp;
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// The template needs Uptime as a field, not a method.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		EventsTopic string
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		EventsTopic: mqtt.EventsTopic(snap.Config.TopicPrefix),
	}
	indexTmpl.Execute(w, data)
}
