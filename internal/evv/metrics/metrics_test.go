package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncClockEvent("clock_in", true)
		m.IncGeofenceOutcome("WITHIN_BASE_RADIUS")
		m.IncComplianceLevel("COMPLIANT")
		m.ObserveCapture("clock_in", time.Millisecond)
		m.ObserveLookup("visit", time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.IncClockEvent("clock_in", true)
	m.IncClockEvent("clock_in", false)
	m.IncClockEvent("clock_in", false)
	m.IncComplianceLevel("WARNING")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClockEvents.WithLabelValues("clock_in", "passed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClockEvents.WithLabelValues("clock_in", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComplianceLevels.WithLabelValues("WARNING")))
}
