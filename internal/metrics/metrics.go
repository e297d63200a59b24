// package metrics holds the prometheus collectors exported by the image server.
//
// All methods are safe on a nil *Metrics so callers can leave metrics disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sobelx"

// Metrics groups the server collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	sessions  *prometheus.CounterVec
	active    prometheus.Gauge
	bytes     *prometheus.CounterVec
	transform prometheus.Histogram
}

// New creates the collectors and registers them, with the Go runtime collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions finished, by the last state reached.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently being served.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_bytes_total",
			Help:      "Image payload bytes, by direction.",
		}, []string{"direction"}),
		transform: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_seconds",
			Help:      "Time spent decoding, filtering and encoding one image.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.sessions, m.active, m.bytes, m.transform,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionStarted marks one more active session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// SessionFinished records the final state of a session and releases its active slot.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

// ObserveTransform records payload sizes and pipeline latency for one image.
func (m *Metrics) ObserveTransform(in, out int, d time.Duration) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("in").Add(float64(in))
	m.bytes.WithLabelValues("out").Add(float64(out))
	m.transform.Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
