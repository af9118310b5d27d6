package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestAndTool(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("query", http.MethodGet, 200, 10*time.Millisecond)
	m.ObserveRequest("query", http.MethodGet, 0, 10*time.Millisecond)
	m.ObserveTool("get-alerts", "ok", time.Millisecond)

	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("query", "GET", "200")); got != 1 {
		t.Fatalf("expected one 200 request, got %v", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("query", "GET", "network_error")); got != 1 {
		t.Fatalf("expected one network error, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("get-alerts", "ok")); got != 1 {
		t.Fatalf("expected one tool call, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveTool("get-forecast", "error", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `mercata_tool_calls_total{outcome="error",tool="get-forecast"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("query", "GET", 200, time.Millisecond)
	m.ObserveTool("x", "ok", time.Millisecond)
}
