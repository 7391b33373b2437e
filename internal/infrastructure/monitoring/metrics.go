package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
//
// All recording methods are nil-safe so callers can run without a
// collector installed.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsOpen    prometheus.Gauge
	SessionCommands *prometheus.CounterVec
	SessionsSaved   prometheus.Counter
	SessionsLoaded  prometheus.Counter

	// Transport metrics
	ConnectAttempts *prometheus.CounterVec
	Reconnects      prometheus.Counter

	// Event bridge metrics
	BridgeConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector registered on the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_sessions_open",
				Help: "Number of open console sessions",
			},
		),
		SessionCommands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_session_commands_total",
				Help: "Total commands submitted per outcome",
			},
			[]string{"status"},
		),
		SessionsSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "console_snapshots_saved_total",
				Help: "Total number of layout snapshots written",
			},
		),
		SessionsLoaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "console_sessions_restored_total",
				Help: "Total number of sessions restored at boot",
			},
		),

		ConnectAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_transport_connects_total",
				Help: "Total transport connect attempts per outcome",
			},
			[]string{"status"},
		),
		Reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "console_transport_reconnects_total",
				Help: "Total automatic reconnects after server close",
			},
		),

		BridgeConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_bridge_connections",
				Help: "Number of attached event bridge clients",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsOpen updates the open session gauge.
func (m *Metrics) SetSessionsOpen(count int) {
	if m == nil {
		return
	}
	m.SessionsOpen.Set(float64(count))
}

// RecordCommand records a command submission outcome.
func (m *Metrics) RecordCommand(status string) {
	if m == nil {
		return
	}
	m.SessionCommands.WithLabelValues(status).Inc()
}

// IncSnapshotsSaved records a snapshot write.
func (m *Metrics) IncSnapshotsSaved() {
	if m == nil {
		return
	}
	m.SessionsSaved.Inc()
}

// AddSessionsRestored records sessions restored at boot.
func (m *Metrics) AddSessionsRestored(count int) {
	if m == nil {
		return
	}
	m.SessionsLoaded.Add(float64(count))
}

// RecordConnect records a transport connect outcome.
func (m *Metrics) RecordConnect(status string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(status).Inc()
}

// IncReconnects records an automatic reconnect.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// IncBridgeConnections increments the bridge client gauge.
func (m *Metrics) IncBridgeConnections() {
	if m == nil {
		return
	}
	m.BridgeConnections.Inc()
}

// DecBridgeConnections decrements the bridge client gauge.
func (m *Metrics) DecBridgeConnections() {
	if m == nil {
		return
	}
	m.BridgeConnections.Dec()
}
