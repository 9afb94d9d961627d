package telemetry_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/sourcebridge/internal/telemetry"
)

func TestMetricsCountOutcomesAndHooks(t *testing.T) {
	m := telemetry.NewMetrics()
	m.ObserveOutcome("course", "found", 20*time.Millisecond)
	m.ObserveOutcome("course", "found", 10*time.Millisecond)
	m.ObserveOutcome("course", "not_found", time.Millisecond)
	m.TokenRefreshHook("restapi")()
	m.WorkflowStartHook()("already_running")

	expected := `
# HELP sourcebridge_dispatch_outcomes_total Processed records by entity and outcome.
# TYPE sourcebridge_dispatch_outcomes_total counter
sourcebridge_dispatch_outcomes_total{entity="course",outcome="found"} 2
sourcebridge_dispatch_outcomes_total{entity="course",outcome="not_found"} 1
# HELP sourcebridge_token_refreshes_total Authentication token fetches by source.
# TYPE sourcebridge_token_refreshes_total counter
sourcebridge_token_refreshes_total{source="restapi"} 1
# HELP sourcebridge_workflow_starts_total Workflow start attempts by outcome.
# TYPE sourcebridge_workflow_starts_total counter
sourcebridge_workflow_starts_total{outcome="already_running"} 1
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"sourcebridge_dispatch_outcomes_total", "sourcebridge_token_refreshes_total", "sourcebridge_workflow_starts_total")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ready := true
	srv := httptest.NewServer(telemetry.NewHandler(telemetry.NewMetrics(), map[string]telemetry.Check{
		"consumer": func() bool { return ready },
		"producer": func() bool { return true },
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ready = false
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), `"consumer":"unavailable"`) {
		t.Fatalf("expected 503 naming the consumer, got %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected runtime metrics in exposition")
	}
}
