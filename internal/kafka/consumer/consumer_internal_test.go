package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type sessionStub struct {
	sarama.ConsumerGroupSession

	mu      sync.Mutex
	marked  []int64
	resets  []int64
	commits int
}

func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *sessionStub) ResetOffset(_ string, _ int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, offset)
}

func (s *sessionStub) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func newRecord(s *sessionStub, gen *generation, offset int64) *Record {
	return &Record{
		Topic:     "requests",
		Partition: 0,
		Offset:    offset,
		session:   s,
		message:   &sarama.ConsumerMessage{Topic: "requests", Offset: offset},
		gen:       gen,
	}
}

func TestRedeliverRewindsAndStopsLaterCommits(t *testing.T) {
	c := &Consumer{logger: zerolog.Nop(), commitOnAck: true}
	stub := &sessionStub{}
	cancelled := false
	gen := &generation{cancel: func() { cancelled = true }, resetTo: map[topicPartition]int64{}}
	ctx := context.Background()

	if err := c.Commit(ctx, newRecord(stub, gen, 4)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	failed := newRecord(stub, gen, 5)
	if err := c.Redeliver(ctx, failed); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if err := c.Commit(ctx, newRecord(stub, gen, 6)); err != nil {
		t.Fatalf("commit after redeliver: %v", err)
	}
	if err := c.Redeliver(ctx, newRecord(stub, gen, 7)); err != nil {
		t.Fatalf("later redeliver: %v", err)
	}

	if !cancelled {
		t.Fatalf("expected the session to be restarted")
	}
	if len(stub.marked) != 1 || stub.marked[0] != 4 {
		t.Fatalf("expected only offset 4 to be marked, got %v", stub.marked)
	}
	if len(stub.resets) != 1 || stub.resets[0] != 5 {
		t.Fatalf("expected a single rewind to offset 5, got %v", stub.resets)
	}
}

func TestSettledRecordIgnoresSecondAcknowledgement(t *testing.T) {
	c := &Consumer{logger: zerolog.Nop()}
	stub := &sessionStub{}
	gen := &generation{cancel: func() {}, resetTo: map[topicPartition]int64{}}
	rec := newRecord(stub, gen, 9)

	if err := c.Commit(context.Background(), rec); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.Redeliver(context.Background(), rec); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if len(stub.resets) != 0 || gen.isStale() {
		t.Fatalf("a committed record must not be rewound")
	}
	if stub.commits != 0 {
		t.Fatalf("auto-commit mode must not flush on commit, got %d", stub.commits)
	}
}

func TestCommitRequiresSessionData(t *testing.T) {
	c := &Consumer{logger: zerolog.Nop()}
	if err := c.Commit(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	if err := c.Redeliver(context.Background(), &Record{}); err == nil {
		t.Fatalf("expected error for record without session")
	}
}
