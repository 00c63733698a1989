// Package metrics records reconciliation telemetry as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResolveRecorder = (*Recorder)(nil)

// Recorder implements driven.ResolveRecorder on its own registry, so tests
// and multiple instances in one process never collide on registration.
//
// Metrics:
//   - contactlink_resolve_total{outcome} - successful resolutions by outcome
//   - contactlink_resolve_failures_total{reason} - failed resolutions by reason
//   - contactlink_resolve_retries_total - conflict retries
//   - contactlink_resolve_duration_seconds{outcome} - resolution latency
type Recorder struct {
	registry *prometheus.Registry

	resolved *prometheus.CounterVec
	failures *prometheus.CounterVec
	retries  prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with a fresh registry that also carries the
// Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		resolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactlink_resolve_total",
				Help: "Total number of observations resolved, by outcome",
			},
			[]string{"outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactlink_resolve_failures_total",
				Help: "Total number of failed resolutions, by reason",
			},
			[]string{"reason"},
		),
		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactlink_resolve_retries_total",
				Help: "Total number of resolutions retried after a conflict",
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contactlink_resolve_duration_seconds",
				Help:    "Duration of successful resolutions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"outcome"},
		),
	}
}

func (r *Recorder) ObserveResolve(outcome model.ResolveOutcome, elapsed time.Duration) {
	r.resolved.WithLabelValues(string(outcome)).Inc()
	r.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveFailure(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

func (r *Recorder) ObserveRetry() {
	r.retries.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
