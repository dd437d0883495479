// Package metrics exposes ingestion and query counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes recorded on kensaku_queries_total.
const (
	OutcomeAnswered  = "answered"
	OutcomeNoResults = "no_results"
	OutcomeError     = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	documentsIngested prometheus.Counter
	chunksEmbedded    prometheus.Counter
	queries           *prometheus.CounterVec
	queryDuration     prometheus.Histogram
}

// New creates the collectors and registers them, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kensaku_documents_ingested_total",
			Help: "Documents stored and embedded.",
		}),
		chunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kensaku_chunks_embedded_total",
			Help: "Chunks embedded and added to the vector index.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kensaku_queries_total",
			Help: "Answered queries by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kensaku_query_duration_seconds",
			Help:    "End-to-end query latency including generation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	m.registry.MustRegister(
		m.documentsIngested,
		m.chunksEmbedded,
		m.queries,
		m.queryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// DocumentIngested counts one ingested document with the given number of chunks.
func (m *Metrics) DocumentIngested(chunks int) {
	if m == nil {
		return
	}
	m.documentsIngested.Inc()
	m.chunksEmbedded.Add(float64(chunks))
}

// QueryObserved records the outcome and latency of one query.
func (m *Metrics) QueryObserved(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
