package worker

import (
	"context"

	"github.com/example/sourcebridge/internal/kafka/consumer"
)

// Acknowledger is the part of the Kafka consumer the engine needs to settle a
// record.
type Acknowledger interface {
	Commit(ctx context.Context, record *consumer.Record) error
	Redeliver(ctx context.Context, record *consumer.Record) error
}

// KafkaHandler returns a consumer.Handler that transforms Kafka consumer
// records into worker records and delegates processing to the supplied engine.
func KafkaHandler(engine *Engine, ack Acknowledger) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}

		var commitFn, redeliverFn func(context.Context) error
		if ack != nil {
			commitFn = func(c context.Context) error { return ack.Commit(c, rec) }
			redeliverFn = func(c context.Context) error { return ack.Redeliver(c, rec) }
		}

		engine.HandleRecord(ctx, NewRecordFromConsumer(rec, commitFn, redeliverFn))
		return nil
	}
}
