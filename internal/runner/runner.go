// Package runner wires a worker.Processor to Kafka: it consumes one request
// topic, publishes results and DLQ records, and serves metrics and health
// until shutdown or a fatal processing error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sourcebridge/internal/config"
	"github.com/example/sourcebridge/internal/kafka/consumer"
	"github.com/example/sourcebridge/internal/kafka/producer"
	kafkapublisher "github.com/example/sourcebridge/internal/kafka/publisher"
	"github.com/example/sourcebridge/internal/telemetry"
	"github.com/example/sourcebridge/internal/worker"
)

const drainTimeout = 30 * time.Second

// ErrFatal wraps the error that stopped the worker.
var ErrFatal = errors.New("runner: fatal processing error")

// Job describes one consumer process.
type Job struct {
	Entity    string
	Topic     string
	Processor worker.Processor
	Metrics   *telemetry.Metrics
}

// Run blocks until ctx is cancelled, the consumer fails, or the engine reports
// a fatal error. In-flight records are drained before returning.
func Run(ctx context.Context, cfg *config.Config, job Job, log zerolog.Logger) error {
	if cfg == nil {
		return errors.New("runner: config is required")
	}
	if job.Processor == nil {
		return errors.New("runner: processor dependency is required")
	}
	if reflect.ValueOf(log).IsZero() {
		log = zerolog.Nop()
	}
	metrics := job.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka").Logger(),
		producer.WithClientID("sourcebridge-"+job.Entity))
	if err != nil {
		return fmt.Errorf("runner: create kafka producer: %w", err)
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
		log.With().Str("component", "consumer").Logger(), cfg.Worker.CommitOnSuccessOnly,
		consumer.WithClientID("sourcebridge-"+job.Entity+"-consumer"))
	if err != nil {
		return fmt.Errorf("runner: create kafka consumer: %w", err)
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	results := kafkapublisher.NewResultPublisher(prod, cfg.Kafka.ResultTopic, log)
	dlq := kafkapublisher.NewDLQPublisher(prod, cfg.Kafka.DLQTopic, log)

	fatalCh := make(chan error, 1)
	engine, err := worker.NewEngine(worker.Config{
		Entity:            job.Entity,
		MsgMaxBytes:       cfg.Worker.MsgMaxBytes,
		WorkerConcurrency: cfg.Worker.Concurrency,
	}, worker.Dependencies{
		Processor:       job.Processor,
		ResultPublisher: results,
		DLQPublisher:    dlq,
		Observer:        metrics,
		Fatal: func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
		Logger: log,
		Now:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("runner: create worker engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		handler := telemetry.NewHandler(metrics, map[string]telemetry.Check{
			"consumer": cons.IsReady,
			"producer": prod.IsReady,
		})
		if err := telemetry.Serve(runCtx, cfg.App.Port, handler, log); err != nil {
			log.Error().Err(err).Msg("telemetry server stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(runCtx, []string{job.Topic}, worker.KafkaHandler(engine, cons)); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().
		Str("entity", job.Entity).
		Str("request_topic", job.Topic).
		Str("result_topic", cfg.Kafka.ResultTopic).
		Msg("worker started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("runner: consumer terminated: %w", err)
		}
	case err := <-fatalCh:
		runErr = fmt.Errorf("%w: %w", ErrFatal, err)
	}
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := engine.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight records did not finish before shutdown")
	}
	return runErr
}
