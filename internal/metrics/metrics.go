// Package metrics exposes receiver and command channel health as Prometheus
// metrics on a private registry.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/smartsdr"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	commandLatency prometheus.Histogram
	tunedFrequency prometheus.Gauge
	panBandwidth   prometheus.Gauge
	sessionUp      prometheus.Gauge
}

// New registers the collectors. stats is read on every scrape; it may be
// nil until a receiver exists.
func New(stats func() receiver.Stats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daxiq_commands_total",
			Help: "Radio commands by outcome",
		}, []string{"outcome"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daxiq_command_latency_seconds",
			Help:    "Time from command send to response",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		tunedFrequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daxiq_tuned_frequency_hz",
			Help: "Frequency the stream is currently centred on",
		}),
		panBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daxiq_pan_bandwidth_hz",
			Help: "Bandwidth of the selected panadapter",
		}),
		sessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daxiq_session_up",
			Help: "1 while a DAXIQ stream is established",
		}),
	}

	m.registry.MustRegister(
		m.commands,
		m.commandLatency,
		m.tunedFrequency,
		m.panBandwidth,
		m.sessionUp,
		newStatsCollector(stats),
	)
	return m
}

// ObserveCommand counts one completed command.
func (m *Metrics) ObserveCommand(rec smartsdr.CommandRecord) {
	m.commands.WithLabelValues(strings.ToLower(smartsdr.Outcome(rec.Err))).Inc()
	m.commandLatency.Observe(rec.Latency.Seconds())
}

// SetTuning records the current frequency and bandwidth. Zero values are
// written as is.
func (m *Metrics) SetTuning(frequencyHz, bandwidthHz float64) {
	m.tunedFrequency.Set(frequencyHz)
	m.panBandwidth.Set(bandwidthHz)
}

// SetSessionUp flags whether the stream is running.
func (m *Metrics) SetSessionUp(up bool) {
	if up {
		m.sessionUp.Set(1)
	} else {
		m.sessionUp.Set(0)
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statsCollector turns receiver snapshots into counters at scrape time so
// the receive loop stays the only writer of its counters.
type statsCollector struct {
	stats func() receiver.Stats

	accepted  *prometheus.Desc
	dropped   *prometheus.Desc
	missed    *prometheus.Desc
	malformed *prometheus.Desc
	filtered  *prometheus.Desc
	queued    *prometheus.Desc
}

func newStatsCollector(stats func() receiver.Stats) *statsCollector {
	return &statsCollector{
		stats:     stats,
		accepted:  prometheus.NewDesc("daxiq_packets_accepted_total", "Packets decoded for the stream", nil, nil),
		dropped:   prometheus.NewDesc("daxiq_packets_dropped_total", "Packets dropped on a full queue", nil, nil),
		missed:    prometheus.NewDesc("daxiq_packets_missed_total", "Packets inferred lost from sequence gaps", nil, nil),
		malformed: prometheus.NewDesc("daxiq_packets_malformed_total", "Datagrams that failed to decode", nil, nil),
		filtered:  prometheus.NewDesc("daxiq_packets_filtered_total", "Packets for other streams", nil, nil),
		queued:    prometheus.NewDesc("daxiq_queue_depth", "Packets waiting for the consumer", nil, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.dropped
	ch <- c.missed
	ch <- c.malformed
	ch <- c.filtered
	ch <- c.queued
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	var s receiver.Stats
	if c.stats != nil {
		s = c.stats()
	}
	ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.CounterValue, float64(s.Accepted))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.missed, prometheus.CounterValue, float64(s.Missed))
	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(s.Malformed))
	ch <- prometheus.MustNewConstMetric(c.filtered, prometheus.CounterValue, float64(s.Filtered))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
}
