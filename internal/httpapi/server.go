// Package httpapi serves metrics, health and an index page.
package httpapi

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/coordinator"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/sensor"
)

// StateSource provides the latest coordinator state
type StateSource interface {
	State() coordinator.State
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>SolaX Cloud Exporter</title></head>
<body>
<h1>SolaX Cloud Exporter</h1>
<p>Inverter {{.SerialNumber}}, last successful refresh: {{if .HasData}}{{.FetchedAt}}{{else}}never{{end}}</p>
<table>
<tr><th>Sensor</th><th>Value</th><th>Unit</th></tr>
{{range .Rows}}<tr><td>{{.Name}}</td><td>{{.Value}}</td><td>{{.Unit}}</td></tr>
{{end}}</table>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>
`))

type indexRow struct {
	Name  string
	Value string
	Unit  string
}

// NewMux registers /metrics, /healthz and / on a new ServeMux
func NewMux(gatherer prometheus.Gatherer, source StateSource, entities []sensor.Entity, serialNumber string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		state := source.State()
		body := map[string]any{
			"status":     "ok",
			"refresh_ok": state.OK,
			"successes":  state.Successes,
			"failures":   state.Failures,
		}
		status := http.StatusOK
		if !state.HasData() {
			status = http.StatusServiceUnavailable
			body["status"] = "no data"
		} else {
			body["fetched_at"] = state.FetchedAt.UTC().Format(time.RFC3339)
		}
		if state.Err != nil {
			body["error"] = state.Err.Error()
		}
		writeJSON(w, status, body)
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		state := source.State()
		rows := make([]indexRow, 0, len(entities))
		for _, e := range entities {
			rows = append(rows, indexRow{
				Name:  e.Descriptor.Name,
				Value: formatValue(e.Value(state.Snapshot)),
				Unit:  e.Descriptor.Unit,
			})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexTemplate.Execute(w, map[string]any{
			"SerialNumber": serialNumber,
			"HasData":      state.HasData(),
			"FetchedAt":    state.FetchedAt.UTC().Format(time.RFC3339),
			"Rows":         rows,
		})
	})

	return mux
}

// NewServer wraps mux in an http.Server listening on addr
func NewServer(addr string, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "unknown"
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
