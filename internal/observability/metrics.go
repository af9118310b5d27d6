// Package observability provides Prometheus metrics for upstream calls and tool invocations.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec

	// Tool metrics
	ToolCalls   *prometheus.CounterVec
	ToolLatency *prometheus.HistogramVec
}

// NewMetrics registers every metric on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mercata_upstream_requests_total",
			Help: "Upstream HTTP requests by client, method and status",
		}, []string{"client", "method", "status"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mercata_upstream_request_duration_seconds",
			Help:    "Upstream HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"client"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mercata_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mercata_tool_call_duration_seconds",
			Help:    "Tool invocation latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),
	}
	reg.MustRegister(m.UpstreamRequests, m.UpstreamLatency, m.ToolCalls, m.ToolLatency)
	return m
}

// ObserveRequest implements httpx.Observer.
func (m *Metrics) ObserveRequest(client, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(client, method, httpx.StatusLabel(status)).Inc()
	m.UpstreamLatency.WithLabelValues(client).Observe(elapsed.Seconds())
}

// ObserveTool records one tool invocation. Outcome is "ok", "empty" or "error".
func (m *Metrics) ObserveTool(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
