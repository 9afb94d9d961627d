package proxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/proxy"
	"github.com/example/sourcebridge/internal/worker"
	"github.com/example/sourcebridge/internal/workflow"
)

type starterStub struct {
	mu      sync.Mutex
	seen    map[string]bool
	execs   []workflow.Execution
	failErr error
}

func (s *starterStub) Start(_ context.Context, exec workflow.Execution) (workflow.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return workflow.StartResult{}, s.failErr
	}
	s.execs = append(s.execs, exec)
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[exec.Name] {
		return workflow.StartResult{ExecutionID: exec.Name, AlreadyRunning: true}, nil
	}
	s.seen[exec.Name] = true
	return workflow.StartResult{ExecutionID: "exec/" + exec.Name}, nil
}

const batch = `{"Records":[{"body":"{\"id\":\"run-7\",\"stackId\":\"prod\",\"prefix\":\"sync\",\"dto\":{\"courseId\":\"c1\"}}"}]}`

func TestProcessStartsExecutionOnce(t *testing.T) {
	stub := &starterStub{}
	p, err := proxy.New(stub, zerolog.Nop())
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}

	res, err := p.Process(context.Background(), []byte(batch))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != models.OutcomeStarted || res.Key != "run-7" || res.Shape != "queue_batch" {
		t.Fatalf("unexpected result %+v", res)
	}
	exec := stub.execs[0]
	if exec.Name != "run-7" || exec.Workflow != "sync-prod" || string(exec.Input) != `{"detail":{"courseId":"c1"}}` {
		t.Fatalf("unexpected execution %+v", exec)
	}

	again, err := p.Process(context.Background(), []byte(batch))
	if err != nil || again.Outcome != models.OutcomeAlreadyRunning {
		t.Fatalf("expected duplicate delivery to succeed as already running, got %+v %v", again, err)
	}
}

func TestProcessUsesNameTemplate(t *testing.T) {
	stub := &starterStub{}
	tmpl, err := workflow.ParseNameTemplate("{stackId}.{prefix}")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	p, _ := proxy.New(stub, zerolog.Nop(), proxy.WithNameTemplate(tmpl))

	res, err := p.Process(context.Background(), []byte(`{"id":"r1","stackId":"dev","prefix":"ingest","dto":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.execs[0].Workflow != "dev.ingest" || string(stub.execs[0].Input) != `{"detail":null}` {
		t.Fatalf("unexpected execution %+v", stub.execs[0])
	}
	var data map[string]string
	_ = json.Unmarshal(res.Data, &data)
	if data["workflow"] != "dev.ingest" || data["executionId"] != "exec/r1" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestProcessRejectsIncompleteMessage(t *testing.T) {
	p, _ := proxy.New(&starterStub{}, zerolog.Nop())
	for _, payload := range []string{
		`{"id":"r1","prefix":"sync"}`,
		`{"id":"has space","stackId":"prod","prefix":"sync"}`,
		`{"id":"r1","stackId":"prod","prefix":"sync","extra":true}`,
	} {
		if _, err := p.Process(context.Background(), []byte(payload)); !errors.Is(err, common.ErrRequestInvalid) {
			t.Fatalf("%s: expected RequestInvalid, got %v", payload, err)
		}
	}
}

func TestProcessPropagatesRetryableStartFailure(t *testing.T) {
	stub := &starterStub{failErr: common.SourceUnavailable(workflow.SourceName, errors.New("connection reset"))}
	p, _ := proxy.New(stub, zerolog.Nop())

	_, err := p.Process(context.Background(), []byte(batch))
	if !errors.Is(err, common.ErrSourceUnavailable) {
		t.Fatalf("expected SourceUnavailable, got %v", err)
	}
}

func TestProcessNullMessage(t *testing.T) {
	null := []byte(`{"detail":{"responsePayload":null}}`)
	p, _ := proxy.New(&starterStub{}, zerolog.Nop())
	if res, err := p.Process(context.Background(), null); err != nil || res.Outcome != models.OutcomeNoOp {
		t.Fatalf("expected noop, got %+v %v", res, err)
	}
	strict, _ := proxy.New(&starterStub{}, zerolog.Nop(), proxy.WithNullPolicy(worker.NullAsViolation))
	if _, err := strict.Process(context.Background(), null); !errors.Is(err, common.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}
