package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestGetMetrics(t *testing.T) {
	// Get metrics instance
	metrics := GetMetrics()

	// Verify it's not nil
	assert.NotNil(t, metrics, "Metrics should not be nil")

	// Call again to test singleton behavior
	metrics2 := GetMetrics()

	// Verify both instances are the same
	assert.Same(t, metrics, metrics2, "GetMetrics should return the same instance")
}

func TestAllMetricsInitialized(t *testing.T) {
	m := GetMetrics()

	assert.NotNil(t, m.HTTPRequestsTotal, "HTTPRequestsTotal should be initialized")

	// Relay metrics should be initialized
	assert.NotNil(t, m.RelayConnectionsActive, "RelayConnectionsActive should be initialized")
	assert.NotNil(t, m.RelayConnectionsTotal, "RelayConnectionsTotal should be initialized")
	assert.NotNil(t, m.RelayPublishTotal, "RelayPublishTotal should be initialized")
	assert.NotNil(t, m.RelayDeliveriesTotal, "RelayDeliveriesTotal should be initialized")
	assert.NotNil(t, m.RelayInvalidFrames, "RelayInvalidFrames should be initialized")
	assert.NotNil(t, m.RelayPublishDuration, "RelayPublishDuration should be initialized")

	// Supervisor metrics should be initialized
	assert.NotNil(t, m.SupervisorConnectAttempts, "SupervisorConnectAttempts should be initialized")
	assert.NotNil(t, m.SupervisorState, "SupervisorState should be initialized")
	assert.NotNil(t, m.SupervisorMessagesTotal, "SupervisorMessagesTotal should be initialized")

	// Notification metrics should be initialized
	assert.NotNil(t, m.NotificationRendersTotal, "NotificationRendersTotal should be initialized")
	assert.NotNil(t, m.NotificationBadge, "NotificationBadge should be initialized")
}

func TestMetricsRegistered(t *testing.T) {
	GetMetrics().RelayPublishTotal.Add(0)

	families, err := prometheus.DefaultGatherer.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	assert.True(t, names["pushline_relay_publish_total"], "relay publish counter should be registered")
	assert.True(t, names["pushline_supervisor_state"], "supervisor state gauge should be registered")
}
