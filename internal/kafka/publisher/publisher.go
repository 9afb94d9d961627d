// Package publisher encodes result events and DLQ records as JSON and writes
// them to their Kafka topics, keyed like the request they answer.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sourcebridge/internal/kafka/producer"
	"github.com/example/sourcebridge/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// Sender is the producer behaviour the publishers need.
type Sender interface {
	Send(msg producer.Message) (producer.Delivery, error)
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

type topicWriter struct {
	producer Sender
	topic    string
	kind     string
	logger   zerolog.Logger
}

func newTopicWriter(prod Sender, topic, kind string, logger zerolog.Logger) topicWriter {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return topicWriter{
		producer: prod,
		topic:    topic,
		kind:     kind,
		logger:   logger.With().Str("component", "publisher").Str("topic", topic).Logger(),
	}
}

func (w topicWriter) write(key []byte, value any, headers map[string][]byte) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal %s: %w", w.kind, err)
	}
	headers["content-type"] = []byte("application/json")

	d, err := w.producer.Send(producer.Message{
		Topic:   w.topic,
		Key:     append([]byte(nil), key...),
		Headers: headers,
		Value:   payload,
	})
	if err != nil {
		return fmt.Errorf("kafka publisher: publish %s: %w", w.kind, err)
	}
	w.logger.Debug().
		Str("kind", w.kind).
		Int("bytes", len(payload)).
		Int32("partition", d.Partition).
		Int64("offset", d.Offset).
		Msg("kafka publisher: published")
	return nil
}

// ResultPublisher emits result events to a Kafka topic using the shared producer.
type ResultPublisher struct {
	w topicWriter
}

// NewResultPublisher constructs a ResultPublisher instance.
func NewResultPublisher(prod Sender, topic string, logger zerolog.Logger) *ResultPublisher {
	if prod == nil {
		return nil
	}
	return &ResultPublisher{w: newTopicWriter(prod, topic, "result event", logger)}
}

// PublishResult writes the supplied result event to Kafka synchronously.
func (p *ResultPublisher) PublishResult(_ context.Context, key []byte, event models.ResultEvent) error {
	if p == nil || p.w.producer == nil {
		return errProducerNotInitialised
	}
	return p.w.write(key, event, map[string][]byte{
		"entity":  []byte(event.Entity),
		"outcome": []byte(event.Outcome),
	})
}

// DLQPublisher writes DLQ records to the configured Kafka topic.
type DLQPublisher struct {
	w topicWriter
}

// NewDLQPublisher constructs a DLQPublisher instance.
func NewDLQPublisher(prod Sender, topic string, logger zerolog.Logger) *DLQPublisher {
	if prod == nil {
		return nil
	}
	return &DLQPublisher{w: newTopicWriter(prod, topic, "dlq record", logger)}
}

// PublishDLQ writes the supplied DLQ record to Kafka synchronously.
func (p *DLQPublisher) PublishDLQ(_ context.Context, key []byte, record models.DLQRecord) error {
	if p == nil || p.w.producer == nil {
		return errProducerNotInitialised
	}
	return p.w.write(key, record, map[string][]byte{
		"entity":       []byte(record.Entity),
		"failure-type": []byte(record.FailureType),
	})
}
