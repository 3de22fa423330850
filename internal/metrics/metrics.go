// Package metrics exposes POS counters in Prometheus format. Every method
// is safe on a nil *Metrics so services can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	salesCreated *prometheus.CounterVec
	salesClosed  prometheus.Counter
	linesAdded   prometheus.Counter
	closings     *prometheus.CounterVec
	purgedSales  prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a private registry so tests can create as many instances as
// they like without duplicate registration panics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		salesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_sales_created_total",
			Help: "Sales created, by kind (immediate or open).",
		}, []string{"kind"}),
		salesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sales_closed_total",
			Help: "Open tabs closed.",
		}),
		linesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sale_lines_added_total",
			Help: "Sale lines written, including replacements.",
		}),
		closings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_cash_closings_total",
			Help: "Cash closings persisted, by type.",
		}, []string{"type"}),
		purgedSales: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_cash_closing_purged_sales_total",
			Help: "Sales deleted by Z closings.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.salesCreated, m.salesClosed, m.linesAdded,
		m.closings, m.purgedSales, m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SaleCreated(kind string) {
	if m != nil {
		m.salesCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SaleClosed() {
	if m != nil {
		m.salesClosed.Inc()
	}
}

func (m *Metrics) LinesAdded(n int) {
	if m != nil && n > 0 {
		m.linesAdded.Add(float64(n))
	}
}

func (m *Metrics) ClosingCreated(closingType string, purged int64) {
	if m == nil {
		return
	}
	m.closings.WithLabelValues(closingType).Inc()
	if purged > 0 {
		m.purgedSales.Add(float64(purged))
	}
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
