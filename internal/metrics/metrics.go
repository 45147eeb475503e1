// Package metrics holds the Prometheus collectors for the API and the
// curation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recompute kinds.
const (
	KindPreview = "preview"
	KindSettle  = "settle"
	KindRebuild = "rebuild"
)

// Collector owns a private registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Recomputes        *prometheus.CounterVec
	RecomputeDuration *prometheus.HistogramVec
	Diagnostics       *prometheus.CounterVec
	Edges             prometheus.Gauge
	OpenBoards        prometheus.Gauge
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curation_recomputes_total",
			Help:      "Proximity and sequence recomputes by kind",
		}, []string{"kind"}),
		RecomputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "curation_recompute_duration_seconds",
			Help:      "Recompute duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"kind"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curation_diagnostics_total",
			Help:      "Degraded inputs seen while recomputing, by code",
		}, []string{"code"}),
		Edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curation_last_edge_count",
			Help:      "Permanent edges produced by the last settle",
		}),
		OpenBoards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curation_open_boards",
			Help:      "Boards with a live editor",
		}),
	}
	c.registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.Recomputes, c.RecomputeDuration, c.Diagnostics, c.Edges, c.OpenBoards,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRecompute records one recompute of kind that started at start.
// A nil collector is a no-op.
func (c *Collector) ObserveRecompute(kind string, start time.Time) {
	if c == nil {
		return
	}
	c.Recomputes.WithLabelValues(kind).Inc()
	c.RecomputeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ObserveDiagnostic counts a diagnostic code. A nil collector is a no-op.
func (c *Collector) ObserveDiagnostic(code string) {
	if c == nil {
		return
	}
	c.Diagnostics.WithLabelValues(code).Inc()
}

// SetEdges records the size of the last permanent edge set.
func (c *Collector) SetEdges(n int) {
	if c == nil {
		return
	}
	c.Edges.Set(float64(n))
}

// SetOpenBoards records the number of live editors.
func (c *Collector) SetOpenBoards(n int) {
	if c == nil {
		return
	}
	c.OpenBoards.Set(float64(n))
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
