// Package metrics exposes Prometheus instruments of the sync server.
//
// Every Metrics value owns its registry so tests and multiple servers in one
// process never collide on registration. All methods accept a nil receiver.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finkeeper"

type Metrics struct {
	registry *prometheus.Registry

	syncRequests *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	pushed       *prometheus.CounterVec
	pulled       prometheus.Counter
	conflicts    *prometheus.CounterVec
	inFlight     prometheus.Gauge
	httpLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "Sync requests by transport and outcome.",
		}, []string{"transport", "outcome"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
		pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushed_records_total",
			Help:      "Pushed records by kind and merge result.",
		}, []string{"kind", "result"}),
		pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulled_records_total",
			Help:      "Records returned to clients.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Pushes rejected because the server copy was newer.",
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_in_flight",
			Help:      "Pushes currently being merged.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncRequests, m.syncDuration, m.pushed, m.pulled, m.conflicts, m.inFlight, m.httpLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveSync(transport, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRequests.WithLabelValues(transport, outcome).Inc()
	m.syncDuration.WithLabelValues(transport).Observe(d.Seconds())
}

func (m *Metrics) AddPushed(kind, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.pushed.WithLabelValues(kind, result).Add(float64(n))
}

func (m *Metrics) AddPulled(n int) {
	if m == nil {
		return
	}
	m.pulled.Add(float64(n))
}

func (m *Metrics) AddConflict(kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
