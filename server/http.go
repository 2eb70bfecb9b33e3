// server/http.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"runtime"
	"text/template"
	"time"

	"github.com/goforj/godump"
	"github.com/shirou/gopsutil/cpu"

	gomath "math"

	"github.com/skysim/tellotwin/sim"
)

const TwinHTTPServerPort = 6790

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	TwinStatus []twinStatus
}

///////////////////////////////////////////////////////////////////////////
// Status / statistics via HTTP...

// RegisterStatus wires the human-facing status page, the state dump, and
// the pprof handlers onto the mux.
func (tm *TwinManager) RegisterStatus(mux *http.ServeMux) {
	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		tm.statsHandler(w, r)
		tm.lg.Infof("%s: served stats request", r.URL.String())
	})
	mux.HandleFunc("/debug/sessions", tm.dumpHandler)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

type twinStatus struct {
	ID        string
	Age       time.Duration
	Flying    bool
	Battery   float64
	Height    float64
	NumStates int
}

func (ts twinStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", ts.ID),
		slog.Duration("age", ts.Age),
		slog.Bool("flying", ts.Flying),
		slog.Float64("battery", ts.Battery),
		slog.Float64("height", ts.Height),
		slog.Int("num_states", ts.NumStates))
}

func (tm *TwinManager) GetTwinStatus() []twinStatus {
	var status []twinStatus
	for _, s := range tm.allSessions() {
		snap := s.bridge.Snapshot()
		status = append(status, twinStatus{
			ID:        s.id,
			Age:       time.Since(s.created).Round(time.Second),
			Flying:    snap.IsFlying,
			Battery:   snap.Battery,
			Height:    snap.Height,
			NumStates: len(s.analyzer.StateHistory()),
		})
	}
	return status
}

var statsTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html>
<head>
<title>tellotwin</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Twin Status</h1>
<table>
  <tr>
  <th>Session</th>
  <th>Age</th>
  <th>Flying</th>
  <th>Battery</th>
  <th>Height</th>
  <th>States</th>

{{range .TwinStatus}}
  </tr>
  <td><tt>{{.ID}}</tt></td>
  <td>{{.Age}}</td>
  <td>{{.Flying}}</td>
  <td>{{printf "%.1f%%" .Battery}}</td>
  <td>{{printf "%.2fm" .Height}}</td>
  <td>{{.NumStates}}</td>
</tr>
{{end}}
</table>

</body>
</html>
`))

func (tm *TwinManager) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage, _ := cpu.Percent(time.Second, false)
	var cpuUsage int
	if len(usage) > 0 {
		cpuUsage = int(gomath.Round(usage[0]))
	}

	stats := serverStats{
		Uptime:           time.Since(tm.startTime).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		CPUUsage:         cpuUsage,

		TwinStatus: tm.GetTwinStatus(),
	}

	statsTemplate.Execute(w, stats)
}

// dumpHandler spews full session state, for debugging.
func (tm *TwinManager) dumpHandler(w http.ResponseWriter, r *http.Request) {
	for _, s := range tm.allSessions() {
		godump.Fdump(w, struct {
			ID       string
			Created  time.Time
			Snapshot sim.Snapshot
			History  []sim.HistoryEntry
		}{
			ID:       s.id,
			Created:  s.created,
			Snapshot: s.bridge.Snapshot(),
			History:  s.bridge.History(),
		})
	}
}
