package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/workflow"
)

type fakeEngine struct {
	mu      sync.Mutex
	started map[string]json.RawMessage
	auth    []string
	fail    int
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	t.Helper()
	f := &fakeEngine{started: make(map[string]json.RawMessage)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/executions" {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if f.fail != 0 {
			w.WriteHeader(f.fail)
			_, _ = w.Write([]byte(`{"code":"Throttled","message":"slow down"}`))
			return
		}
		var req struct {
			Name     string          `json:"name"`
			Workflow string          `json:"workflow"`
			Input    json.RawMessage `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := f.started[req.Name]; ok {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"ExecutionAlreadyExists","message":"execution exists"}`))
			return
		}
		f.started[req.Name] = req.Input
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"executionId":"arn:` + req.Workflow + `:` + req.Name + `"}`))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestStartTwiceIsIdempotent(t *testing.T) {
	fake, srv := newFakeEngine(t)
	var outcomes []string
	starter, err := workflow.NewHTTPStarter(workflow.Config{Endpoint: srv.URL, APIToken: "tok"}, zerolog.Nop(),
		workflow.WithHTTPClient(srv.Client()),
		workflow.WithStartHook(func(o string) { outcomes = append(outcomes, o) }))
	if err != nil {
		t.Fatalf("starter: %v", err)
	}

	exec := workflow.Execution{Name: "exec-1", Workflow: "sync-prod", Input: json.RawMessage(`{"detail":{"a":1}}`)}
	first, err := starter.Start(context.Background(), exec)
	if err != nil || first.AlreadyRunning || first.ExecutionID != "arn:sync-prod:exec-1" {
		t.Fatalf("unexpected first start %+v %v", first, err)
	}
	second, err := starter.Start(context.Background(), exec)
	if err != nil || !second.AlreadyRunning || second.ExecutionID != "exec-1" {
		t.Fatalf("expected already running, got %+v %v", second, err)
	}

	if string(fake.started["exec-1"]) != `{"detail":{"a":1}}` {
		t.Fatalf("unexpected input %s", fake.started["exec-1"])
	}
	if fake.auth[0] != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", fake.auth[0])
	}
	if len(outcomes) != 2 || outcomes[0] != workflow.OutcomeStarted || outcomes[1] != workflow.OutcomeAlreadyRunning {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestStartFailuresAreRetryable(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusTooManyRequests, http.StatusInternalServerError} {
		fake, srv := newFakeEngine(t)
		fake.fail = status
		starter, _ := workflow.NewHTTPStarter(workflow.Config{Endpoint: srv.URL}, zerolog.Nop(), workflow.WithHTTPClient(srv.Client()))

		_, err := starter.Start(context.Background(), workflow.Execution{Name: "e", Workflow: "w"})
		if !errors.Is(err, common.ErrSourceUnavailable) {
			t.Fatalf("status %d: expected SourceUnavailable, got %v", status, err)
		}
		if !common.AsError(err).Retryable() {
			t.Fatalf("status %d: expected retryable error", status)
		}
	}
}

func TestMalformedConflictBodyIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"ExecutionAlreadyExists"`))
	}))
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	starter, _ := workflow.NewHTTPStarter(workflow.Config{Endpoint: srv.URL}, zerolog.New(&logs).Level(zerolog.DebugLevel),
		workflow.WithHTTPClient(srv.Client()))

	_, err := starter.Start(context.Background(), workflow.Execution{Name: "e", Workflow: "w"})
	if !errors.Is(err, common.ErrSourceUnavailable) {
		t.Fatalf("expected SourceUnavailable for an undecodable conflict, got %v", err)
	}
	if !strings.Contains(logs.String(), "not a start response") {
		t.Fatalf("expected the decode failure to be logged, got %s", logs.String())
	}
}

func TestStartTransportFailure(t *testing.T) {
	_, srv := newFakeEngine(t)
	starter, _ := workflow.NewHTTPStarter(workflow.Config{Endpoint: srv.URL}, zerolog.Nop(), workflow.WithHTTPClient(srv.Client()))
	srv.Close()

	_, err := starter.Start(context.Background(), workflow.Execution{Name: "e", Workflow: "w"})
	if !errors.Is(err, common.ErrSourceUnavailable) {
		t.Fatalf("expected SourceUnavailable, got %v", err)
	}
}

func TestNewHTTPStarterRequiresEndpoint(t *testing.T) {
	if _, err := workflow.NewHTTPStarter(workflow.Config{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestNameTemplate(t *testing.T) {
	def, err := workflow.ParseNameTemplate("")
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if got := def.Resolve("sync", "prod"); got != "sync-prod" {
		t.Fatalf("expected sync-prod, got %s", got)
	}

	custom, err := workflow.ParseNameTemplate("sm:{stackId}:{prefix}-fanout")
	if err != nil {
		t.Fatalf("custom template: %v", err)
	}
	if got := custom.Resolve("sync", "prod"); got != "sm:prod:sync-fanout" {
		t.Fatalf("unexpected name %s", got)
	}

	for _, bad := range []string{"{region}-{stackId}", "{prefix", "prefix}"} {
		if _, err := workflow.ParseNameTemplate(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
