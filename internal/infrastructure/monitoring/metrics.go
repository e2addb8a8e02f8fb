package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Shell session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SessionForks   prometheus.Counter

	// Command execution metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	CommandTimeouts prometheus.Counter

	// Environment tracking metrics
	EnvResyncs       prometheus.Counter
	EnvVarsPredicted prometheus.Counter

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector and registers its collectors
// with the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentshell_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_sessions_active",
				Help: "Number of live shell sessions",
			},
		),
		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_sessions_total",
				Help: "Total number of shell sessions created",
			},
		),
		SessionForks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_session_forks_total",
				Help: "Total number of session forks",
			},
		),

		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_commands_total",
				Help: "Total number of commands executed",
			},
			[]string{"mode", "status"},
		),
		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentshell_command_duration_seconds",
				Help:    "Command execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		CommandTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_command_timeouts_total",
				Help: "Total number of commands abandoned on timeout",
			},
		),

		EnvResyncs: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_env_resyncs_total",
				Help: "Total number of authoritative environment resyncs",
			},
		),
		EnvVarsPredicted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentshell_env_vars_predicted_total",
				Help: "Variables captured by the export predictor",
			},
		),

		ServiceCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_service_calls_total",
				Help: "Total number of service tool calls",
			},
			[]string{"service", "tool", "status"},
		),
		ServiceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentshell_service_duration_seconds",
				Help:    "Service tool call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "tool"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentshell_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentshell_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records one command execution.
func (m *Metrics) RecordCommand(mode, status string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(mode, status).Inc()
	m.CommandDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordServiceCall records a service tool call.
func (m *Metrics) RecordServiceCall(service, tool, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, tool, status).Inc()
	m.ServiceDuration.WithLabelValues(service, tool).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}
