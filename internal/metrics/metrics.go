package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for pushline
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec

	// Relay metrics
	RelayConnectionsActive prometheus.Gauge
	RelayConnectionsTotal  prometheus.Counter
	RelayPublishTotal      prometheus.Counter
	RelayDeliveriesTotal   *prometheus.CounterVec
	RelayInvalidFrames     prometheus.Counter
	RelayPublishDuration   prometheus.Histogram

	// Supervisor metrics
	SupervisorConnectAttempts *prometheus.CounterVec
	SupervisorState           prometheus.Gauge
	SupervisorMessagesTotal   *prometheus.CounterVec

	// Notification metrics
	NotificationRendersTotal *prometheus.CounterVec
	NotificationBadge        prometheus.Gauge
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushline_http_requests_total",
			Help: "Total number of HTTP requests served by the relay",
		},
		[]string{"method", "path", "status"},
	)

	// Relay metrics
	m.RelayConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushline_relay_connections_active",
			Help: "Number of clients currently in the broadcast set",
		},
	)

	m.RelayConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushline_relay_connections_total",
			Help: "Total number of client connections accepted",
		},
	)

	m.RelayPublishTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushline_relay_publish_total",
			Help: "Total number of messages published to the hub",
		},
	)

	m.RelayDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushline_relay_deliveries_total",
			Help: "Per-client delivery outcomes of published messages",
		},
		[]string{"outcome"},
	)

	m.RelayInvalidFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushline_relay_invalid_frames_total",
			Help: "Total number of frames the hub could not handle",
		},
	)

	m.RelayPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushline_relay_publish_duration_seconds",
			Help:    "Time spent fanning a message out to the broadcast set",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // from 10us to ~160ms
		},
	)

	// Supervisor metrics
	m.SupervisorConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushline_supervisor_connect_attempts_total",
			Help: "Connection start attempts made by the supervisor",
		},
		[]string{"result"},
	)

	m.SupervisorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushline_supervisor_state",
			Help: "Supervisor connection state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	m.SupervisorMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushline_supervisor_messages_total",
			Help: "Messages received by the supervisor by dispatch outcome",
		},
		[]string{"outcome"},
	)

	// Notification metrics
	m.NotificationRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushline_notification_renders_total",
			Help: "Notification render calls by kind and result",
		},
		[]string{"kind", "result"},
	)

	m.NotificationBadge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushline_notification_badge",
			Help: "Current notification badge number",
		},
	)

	return m
}
