package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds the agent's Prometheus collectors. Each instance owns its
// registry so several agents can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
	workflowRows prometheus.Histogram
	workflowErrs *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"method", "route"}),
		grpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "grpc_requests_total",
			Help:      "gRPC calls served, by method and status code.",
		}, []string{"method", "code"}),
		grpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "grpc_request_duration_seconds",
			Help:      "Time spent serving gRPC calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"method"}),
		workflowRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "workflow_result_rows",
			Help:      "Rows returned per executed workflow.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		workflowErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vizflow",
			Subsystem: "agent",
			Name:      "workflow_errors_total",
			Help:      "Workflows that failed, by wire error code.",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.grpcRequests, m.grpcDuration,
		m.workflowRows, m.workflowErrs,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWorkflow records one finished workflow. code is empty on success.
func (m *Metrics) ObserveWorkflow(rows int, code string) {
	if m == nil {
		return
	}
	if code != "" {
		m.workflowErrs.WithLabelValues(code).Inc()
		return
	}
	m.workflowRows.Observe(float64(rows))
}

// HTTP instruments a chi router. Routes are labelled by pattern, not raw
// path, to keep cardinality bounded.
func (m *Metrics) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor instruments gRPC unary calls.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.grpcRequests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		m.grpcDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
