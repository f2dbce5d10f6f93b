// Package exporter exposes the coordinator snapshot as Prometheus metrics.
package exporter

import (
	"strings"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/coordinator"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/sensor"
)

const namespace = "solaxcloud"

// StateSource provides the latest coordinator state
type StateSource interface {
	State() coordinator.State
}

type entityMetric struct {
	entity    sensor.Entity
	desc      *prometheus.Desc
	valueType prometheus.ValueType
}

// Collector implements prometheus.Collector for SolaX Cloud entities. It
// reads the last-known-good snapshot and never calls the cloud itself.
type Collector struct {
	source  StateSource
	metrics []entityMetric

	// Health metrics
	refreshSuccess *prometheus.Desc
	lastSuccess    *prometheus.Desc
	refreshes      *prometheus.Desc
	failures       *prometheus.Desc
	info           *prometheus.Desc
}

// NewCollector creates a collector for entities of the inverter identified
// by serialNumber
func NewCollector(source StateSource, entities []sensor.Entity, serialNumber string) *Collector {
	constLabels := prometheus.Labels{"sn": serialNumber}

	c := &Collector{
		source: source,
		refreshSuccess: prometheus.NewDesc(
			namespace+"_refresh_success",
			"Whether the last refresh of the SolaX Cloud API was successful",
			nil,
			constLabels,
		),
		lastSuccess: prometheus.NewDesc(
			namespace+"_last_success_timestamp_seconds",
			"Unix time of the last successful refresh",
			nil,
			constLabels,
		),
		refreshes: prometheus.NewDesc(
			namespace+"_refreshes_total",
			"Total number of refresh attempts",
			nil,
			constLabels,
		),
		failures: prometheus.NewDesc(
			namespace+"_refresh_failures_total",
			"Total number of failed refresh attempts",
			nil,
			constLabels,
		),
		info: prometheus.NewDesc(
			namespace+"_info",
			"SolaX inverter information",
			[]string{"inverter_sn"},
			constLabels,
		),
	}

	for _, e := range entities {
		d := e.Descriptor
		valueType := prometheus.GaugeValue
		if d.StateClass == sensor.StateClassTotalIncreasing {
			valueType = prometheus.CounterValue
		}
		c.metrics = append(c.metrics, entityMetric{
			entity:    e,
			desc:      prometheus.NewDesc(MetricName(d), help(d), nil, constLabels),
			valueType: valueType,
		})
	}

	return c
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.refreshSuccess
	ch <- c.lastSuccess
	ch <- c.refreshes
	ch <- c.failures
	ch <- c.info
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	state := c.source.State()

	success := 0.0
	if state.OK {
		success = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.refreshSuccess, prometheus.GaugeValue, success)
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(state.Successes+state.Failures))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(state.Failures))

	if !state.HasData() {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(state.FetchedAt.Unix()))

	inverterSN, _ := state.Snapshot.Get("inverterSN")
	if inverterSN == nil {
		inverterSN, _ = state.Snapshot.Get("inverterSn")
	}
	if s, ok := inverterSN.(string); ok {
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, s)
	}

	for _, m := range c.metrics {
		v, ok := sensor.Numeric(m.entity.Value(state.Snapshot))
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, v)
	}
}

// MetricName returns the Prometheus name of a descriptor
func MetricName(d sensor.Descriptor) string {
	name := namespace + "_" + snakeCase(d.Key)
	if d.DeviceClass == "timestamp" {
		name += "_timestamp_seconds"
	}
	return name
}

func help(d sensor.Descriptor) string {
	if d.Unit == "" {
		return d.Name
	}
	return d.Name + " in " + d.Unit
}

// snakeCase turns SolaX camelCase keys like uploadTime into upload_time
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
