// Package observability holds the Prometheus metrics exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pinreminder"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// save flow and the geofence pipeline.
type Metrics struct {
	// Save flow.
	FlowOutcomes *prometheus.CounterVec // labels: state={done,error}
	FlowDuration prometheus.Histogram

	// Geofence pipeline.
	LocationFixes    *prometheus.CounterVec // labels: source={initial,poll,websocket}, available={true,false}
	TransitionEvents *prometheus.CounterVec // labels: outcome={matched,unmatched,error,ignored,load_failed}
	Notifications    *prometheus.CounterVec // labels: sink, outcome={success,error}
	GeofenceRegions  prometheus.Gauge

	// Auth.
	SignedIn prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FlowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_flow_outcomes_total",
			Help:      "Completed save flows by final state.",
		}, []string{"state"}),
		FlowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_flow_duration_seconds",
			Help:      "Time from save request to final state.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LocationFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_fixes_total",
			Help:      "Location fixes fed to the geofence monitor.",
		}, []string{"source", "available"}),
		TransitionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_events_total",
			Help:      "Geofence transition events handled, by outcome.",
		}, []string{"outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Reminder notifications sent, by sink and outcome.",
		}, []string{"sink", "outcome"}),
		GeofenceRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geofence_regions",
			Help:      "Number of registered geofence regions.",
		}),
		SignedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_signed_in",
			Help:      "1 while the Home Assistant token is accepted, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FlowOutcomes,
		m.FlowDuration,
		m.LocationFixes,
		m.TransitionEvents,
		m.Notifications,
		m.GeofenceRegions,
		m.SignedIn,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	m := newMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	return m, reg
}
