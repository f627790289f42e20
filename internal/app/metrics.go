package app

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for webhook processing.
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on the provided registerer and panics on
// registration conflicts, mirroring promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echonow",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echonow",
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent reconciling a billing webhook event.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	reg.MustRegister(events, duration)

	return &Metrics{events: events, duration: duration}
}

// ObserveEvent records one handled event.
func (m *Metrics) ObserveEvent(eventType string, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType, string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}
