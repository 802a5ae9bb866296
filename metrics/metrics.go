// Package metrics exposes Prometheus instrumentation for the
// extraction service: request outcomes, guard violations by reason,
// and processing durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/softonit/textract/ingest"
)

// Metrics holds the service's Prometheus collectors. One instance is
// created at startup and shared by all requests.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	guardViolations *prometheus.CounterVec
	unitsProduced   prometheus.Counter
	bytesExpanded   prometheus.Counter
	duration        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textract",
			Name:      "requests_total",
			Help:      "Extraction requests by source kind and outcome.",
		}, []string{"source", "outcome"}),
		guardViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textract",
			Name:      "guard_violations_total",
			Help:      "Aborted requests by guard reason.",
		}, []string{"reason"}),
		unitsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textract",
			Name:      "content_units_total",
			Help:      "Content units produced across all requests.",
		}),
		bytesExpanded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textract",
			Name:      "bytes_expanded_total",
			Help:      "Decompressed bytes produced across all requests.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "textract",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration by source kind.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"source"}),
	}

	reg.MustRegister(m.requestsTotal, m.guardViolations, m.unitsProduced, m.bytesExpanded, m.duration)
	return m
}

// ObserveRequest records one finished request. err may be nil.
func (m *Metrics) ObserveRequest(source string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.guardViolations.WithLabelValues(string(ingest.ReasonOf(err))).Inc()
	}
	m.requestsTotal.WithLabelValues(source, outcome).Inc()
	m.duration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// ObserveUnits records the expansion output of one successful request.
func (m *Metrics) ObserveUnits(count int, bytesExpanded int64) {
	m.unitsProduced.Add(float64(count))
	m.bytesExpanded.Add(float64(bytesExpanded))
}
