// Package telemetry provides observability primitives for the Warden gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	ActiveStreams     prometheus.Gauge
	StreamEvents      prometheus.Counter
	Terminations      *prometheus.CounterVec
	GuardRejects      *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamErrors    *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	AuditQueueLength  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_streams",
			Help:      "Number of SSE streams currently open.",
		}),

		StreamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "stream_events_total",
			Help:      "Total SSE events delivered to clients.",
		}),

		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "terminations_total",
			Help:      "Total coordinated termination episodes by reason.",
		}, []string{"reason"}),

		GuardRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "guard_rejects_total",
			Help:      "Total writes rejected by the response-lifecycle guard.",
		}, []string{"kind"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "status"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		AuditQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "audit_queue_length",
			Help:      "Current number of queued stream audit records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ActiveStreams,
		m.StreamEvents,
		m.Terminations,
		m.GuardRejects,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.AuditQueueLength,
	)

	return m
}

// GuardObserver adapts Metrics to the respond.Observer contract.
type GuardObserver struct {
	m *Metrics
}

// NewGuardObserver returns an observer feeding guard events into m.
func NewGuardObserver(m *Metrics) *GuardObserver {
	return &GuardObserver{m: m}
}

// GuardReject counts a rejected write by kind.
func (o *GuardObserver) GuardReject(kind string) {
	o.m.GuardRejects.WithLabelValues(kind).Inc()
}

// Termination counts a termination episode by reason.
func (o *GuardObserver) Termination(reason string) {
	o.m.Terminations.WithLabelValues(reason).Inc()
}
