// Package metrics exposes Prometheus instruments for the store, the sync
// engine and the HTTP adapter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/stockline/internal/cascade"
	"github.com/roach88/stockline/internal/syncer"
)

const namespace = "stockline"

// Metrics owns a private registry so that several instances can coexist in
// one process.
type Metrics struct {
	registry *prometheus.Registry

	ruleFirings   *prometheus.CounterVec
	syncCycles    *prometheus.CounterVec
	rowsPulled    *prometheus.CounterVec
	rowsPushed    *prometheus.CounterVec
	rowsRejected  *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

var (
	_ cascade.Observer = (*Metrics)(nil)
	_ syncer.Recorder  = (*Metrics)(nil)
)

// New creates and registers every instrument. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ruleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_firings_total",
			Help:      "Cascade rule applications",
		}, []string{"rule", "table"}),
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Completed table sync cycles",
		}, []string{"table", "result"}),
		rowsPulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_pulled_total",
			Help:      "Rows downloaded from the remote",
		}, []string{"table"}),
		rowsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_pushed_total",
			Help:      "Rows uploaded to the remote",
		}, []string{"table"}),
		rowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_rejected_total",
			Help:      "Pulled rows the local store refused",
		}, []string{"table"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of table sync cycles",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync per table",
		}, []string{"table"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "path", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		m.ruleFirings,
		m.syncCycles,
		m.rowsPulled,
		m.rowsPushed,
		m.rowsRejected,
		m.syncDuration,
		m.lastSuccess,
		m.httpRequests,
		m.httpDurations,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RuleFired counts a cascade rule application.
func (m *Metrics) RuleFired(rule, table string) {
	m.ruleFirings.WithLabelValues(rule, table).Inc()
}

// SyncCompleted records one table sync cycle.
func (m *Metrics) SyncCompleted(res syncer.Result) {
	result := "success"
	if !res.Success {
		result = "failure"
	}
	m.syncCycles.WithLabelValues(res.Table, result).Inc()
	m.rowsPulled.WithLabelValues(res.Table).Add(float64(res.Downloaded))
	m.rowsPushed.WithLabelValues(res.Table).Add(float64(res.Uploaded))
	m.rowsRejected.WithLabelValues(res.Table).Add(float64(res.Rejected))
	m.syncDuration.WithLabelValues(res.Table).Observe(res.Duration.Seconds())
	if res.Success {
		m.lastSuccess.WithLabelValues(res.Table).SetToCurrentTime()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and durations by route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method
			path := c.Path()
			m.httpRequests.WithLabelValues(method, path, status).Inc()
			m.httpDurations.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
