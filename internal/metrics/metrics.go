// Package metrics exposes Prometheus collectors for the loader and web server.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns every collector the service registers. Both binaries share the
// type; the loader only touches the row/batch collectors and the web server
// only the HTTP ones.
type Metrics struct {
	registry *prometheus.Registry

	rowsAccepted prometheus.Counter
	rowsRejected prometheus.Counter
	batchesTotal prometheus.Counter

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New registers all collectors against a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		rowsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyc311_loader_rows_accepted_total",
			Help: "Rows cleaned and written to storage.",
		}),
		rowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyc311_loader_rows_rejected_total",
			Help: "Rows skipped for a missing or unparseable unique key.",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyc311_loader_batches_total",
			Help: "Upsert batches committed.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyc311_http_requests_total",
			Help: "HTTP requests partitioned by method and status code.",
		}, []string{"method", "code"}),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nyc311_http_request_duration_seconds",
			Help:    "HTTP request latency partitioned by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		m.rowsAccepted,
		m.rowsRejected,
		m.batchesTotal,
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler returns an http.Handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRows adds to the accepted/rejected row counters.
func (m *Metrics) ObserveRows(accepted, rejected int) {
	if accepted > 0 {
		m.rowsAccepted.Add(float64(accepted))
	}
	if rejected > 0 {
		m.rowsRejected.Add(float64(rejected))
	}
}

// ObserveBatch increments the committed batch counter.
func (m *Metrics) ObserveBatch() {
	m.batchesTotal.Inc()
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
