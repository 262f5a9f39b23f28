package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for EVV capture and compliance. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Clock events by event (clock_in, clock_out, override) and verification outcome
	ClockEvents *prometheus.CounterVec

	// Geofence tiers reached by clock events
	GeofenceOutcomes *prometheus.CounterVec

	// Aggregate compliance levels from evaluations
	ComplianceLevels *prometheus.CounterVec

	// End-to-end capture latency including collaborator lookups
	CaptureLatency *prometheus.HistogramVec

	// Collaborator lookup latency by port
	LookupLatency *prometheus.HistogramVec

	// Device sync resolutions by record type and strategy
	SyncResolutions *prometheus.CounterVec

	// Device sync records that exhausted their retries
	SyncFailures prometheus.Counter
}

// New registers the metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClockEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_clock_events_total",
			Help: "Clock events by event type and verification outcome",
		}, []string{"event", "verification"}),

		GeofenceOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_geofence_outcomes_total",
			Help: "Geofence validations by validation type",
		}, []string{"validation_type"}),

		ComplianceLevels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_compliance_levels_total",
			Help: "Compliance evaluations by resulting level",
		}, []string{"level"}),

		CaptureLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evv_capture_duration_seconds",
			Help:    "Duration of clock-in and clock-out handling",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"event"}),

		LookupLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evv_collaborator_lookup_duration_seconds",
			Help:    "Duration of collaborator lookups by port",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"port"}), // port: "visit", "client", "caregiver", "authorization"

		SyncResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_sync_resolutions_total",
			Help: "Device sync resolutions by record type and strategy",
		}, []string{"record_type", "strategy"}),

		SyncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "evv_sync_failures_total",
			Help: "Device sync records that failed after retries",
		}),
	}
}

func (m *Metrics) IncClockEvent(event string, passed bool) {
	if m != nil {
		outcome := "failed"
		if passed {
			outcome = "passed"
		}
		m.ClockEvents.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) IncGeofenceOutcome(validationType string) {
	if m != nil {
		m.GeofenceOutcomes.WithLabelValues(validationType).Inc()
	}
}

func (m *Metrics) IncComplianceLevel(level string) {
	if m != nil {
		m.ComplianceLevels.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) ObserveCapture(event string, d time.Duration) {
	if m != nil {
		m.CaptureLatency.WithLabelValues(event).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveLookup(port string, d time.Duration) {
	if m != nil {
		m.LookupLatency.WithLabelValues(port).Observe(d.Seconds())
	}
}

func (m *Metrics) IncSyncResolution(recordType, strategy string) {
	if m != nil {
		m.SyncResolutions.WithLabelValues(recordType, strategy).Inc()
	}
}

func (m *Metrics) IncSyncFailure() {
	if m != nil {
		m.SyncFailures.Inc()
	}
}
