package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics records request counts and latency per route pattern.
type HTTPMetrics struct {
	gatherer        prometheus.Gatherer
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

func NewHTTPMetrics(reg *prometheus.Registry) *HTTPMetrics {
	h := &HTTPMetrics{
		gatherer: reg,
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		errorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total number of HTTP responses with status >= 500",
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(
		h.requestDuration,
		h.requestTotal,
		h.errorTotal,
	)

	return h
}

func (h *HTTPMetrics) Observe(method, route string, status int, seconds float64) {
	if h == nil {
		return
	}
	code := strconv.Itoa(status)
	h.requestTotal.WithLabelValues(method, route, code).Inc()
	h.requestDuration.WithLabelValues(method, route).Observe(seconds)
	if status >= http.StatusInternalServerError {
		h.errorTotal.WithLabelValues(method, route, code).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (h *HTTPMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}
