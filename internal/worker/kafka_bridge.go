package worker

import (
	"context"

	"github.com/example/sourcebridge/internal/kafka/consumer"
)

// NewRecordFromConsumer constructs a worker record from the supplied Kafka
// consumer record and binds the acknowledgement callbacks. commit is invoked
// once the outcome is final; redeliver when the record must be consumed again.
func NewRecordFromConsumer(rec *consumer.Record, commit, redeliver func(context.Context) error) *Record {
	if rec == nil {
		return nil
	}

	wr := &Record{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       cloneBytes(rec.Key),
		Value:     cloneBytes(rec.Value),
		Timestamp: rec.Timestamp,
		Headers:   cloneHeaders(rec.Headers),
	}
	wr.Bind(commit, redeliver)

	return wr
}
