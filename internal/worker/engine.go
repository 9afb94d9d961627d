package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/models"
)

// Config contains the runtime settings of one engine.
type Config struct {
	Entity            string
	MsgMaxBytes       int
	WorkerConcurrency int
}

// Record represents a Kafka message delivered to the worker. It keeps the
// engine decoupled from the concrete consumer implementation.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit    func(context.Context) error
	redeliver func(context.Context) error
}

// Clone returns a deep copy of the record so it can be safely shared with
// asynchronous goroutines without risking data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	if len(r.Headers) > 0 {
		clone.Headers = cloneHeaders(r.Headers)
	}

	return &clone
}

// Bind attaches the acknowledgement callbacks of the source the record came
// from. Either may be nil.
func (r *Record) Bind(commit, redeliver func(context.Context) error) {
	r.commit = commit
	r.redeliver = redeliver
}

// ResultPublisher publishes one result event per processed record.
type ResultPublisher interface {
	PublishResult(ctx context.Context, key []byte, event models.ResultEvent) error
}

// DLQPublisher writes records that can never succeed to the DLQ topic.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, key []byte, record models.DLQRecord) error
}

// Observer records processing outcomes, e.g. as metrics.
type Observer interface {
	ObserveOutcome(entity, outcome string, elapsed time.Duration)
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Processor       Processor
	ResultPublisher ResultPublisher
	DLQPublisher    DLQPublisher
	Observer        Observer
	// Fatal receives configuration errors and invariant violations. The
	// process is expected to stop.
	Fatal  func(error)
	Logger zerolog.Logger
	Now    func() time.Time
}

// Engine drives records through a Processor and applies the acknowledgement
// policy of each outcome. It never retries; retryable failures are handed back
// to the platform for redelivery.
type Engine struct {
	cfg       Config
	processor Processor
	results   ResultPublisher
	dlq       DLQPublisher
	observer  Observer
	fatal     func(error)
	logger    zerolog.Logger

	semaphore *semaphore.Weighted

	now func() time.Time
}

// NewEngine constructs a worker engine using the supplied configuration and
// collaborators.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.Entity == "" {
		return nil, errors.New("worker: entity must be provided")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Processor == nil {
		return nil, errors.New("worker: processor dependency is required")
	}
	if deps.ResultPublisher == nil {
		return nil, errors.New("worker: result publisher dependency is required")
	}
	if deps.DLQPublisher == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "worker_engine").Str("entity", cfg.Entity).Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	fatal := deps.Fatal
	if fatal == nil {
		fatal = func(err error) {
			logger.Error().Err(err).Msg("worker: fatal error without fatal handler")
		}
	}

	return &Engine{
		cfg:       cfg,
		processor: deps.Processor,
		results:   deps.ResultPublisher,
		dlq:       deps.DLQPublisher,
		observer:  deps.Observer,
		fatal:     fatal,
		logger:    logger,
		semaphore: semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:       nowFunc,
	}, nil
}

// HandleRecord performs the size guard and schedules processing. It returns
// once the record has been handed to a worker goroutine.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		e.logger.Warn().
			Str("topic", record.Topic).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: record discarded because it exceeds configured size limit")
		ce := common.RequestInvalid(err)
		e.publishResult(ctx, record, Result{Outcome: models.OutcomeRejected}, ce)
		e.publishDLQ(ctx, record, Result{}, models.FailureTypeOversize, ce)
		e.commitRecord(ctx, record)
		e.observe(models.OutcomeRejected, 0)
		return
	}

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	go e.processRecord(ctx, record.Clone())
}

// Drain blocks until every in-flight record has finished.
func (e *Engine) Drain(ctx context.Context) error {
	if err := e.semaphore.Acquire(ctx, int64(e.cfg.WorkerConcurrency)); err != nil {
		return err
	}
	e.semaphore.Release(int64(e.cfg.WorkerConcurrency))
	return nil
}

func (e *Engine) processRecord(ctx context.Context, record *Record) {
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("topic", record.Topic).
			Int64("offset", record.Offset).
			Msg("worker: context cancelled before processing began")
		return
	}

	start := e.now()
	res, err := e.processor.Process(ctx, record.Value)
	elapsed := e.now().Sub(start)

	log := e.logger.With().
		Str("topic", record.Topic).
		Int32("partition", record.Partition).
		Int64("offset", record.Offset).
		Str("shape", res.Shape).
		Str("lookup_by", res.LookupBy).
		Str("key", res.Key).
		Str("trace_id", res.TraceID).
		Dur("duration", elapsed).
		Logger()

	if err == nil {
		log.Info().Str("outcome", res.Outcome).Msg("worker: record processed")
		e.publishResult(ctx, record, res, nil)
		e.commitRecord(ctx, record)
		e.observe(res.Outcome, elapsed)
		return
	}

	ce := common.AsError(err)
	switch {
	case ce.Fatal():
		log.Error().
			Str("kind", string(ce.Kind)).
			Err(ce).
			Msg("worker: fatal error; stopping without acknowledging record")
		e.observe(models.OutcomeFailed, elapsed)
		e.fatal(ce)

	case ce.Kind == common.KindRequestInvalid:
		log.Warn().Err(ce).Msg("worker: request rejected")
		e.publishResult(ctx, record, withOutcome(res, models.OutcomeRejected), ce)
		e.publishDLQ(ctx, record, res, models.FailureTypeValidation, ce)
		e.commitRecord(ctx, record)
		e.observe(models.OutcomeRejected, elapsed)

	case ce.Kind == common.KindNotFound:
		log.Info().Err(ce).Msg("worker: entity not found")
		e.publishResult(ctx, record, withOutcome(res, models.OutcomeNotFound), ce)
		e.commitRecord(ctx, record)
		e.observe(models.OutcomeNotFound, elapsed)

	default:
		if ctx.Err() != nil {
			log.Warn().Err(ce).Msg("worker: context cancelled during processing; deferring to redelivery")
			return
		}
		log.Warn().
			Str("kind", string(ce.Kind)).
			Err(ce).
			Msg("worker: retryable failure; record left for redelivery")
		e.publishResult(ctx, record, withOutcome(res, models.OutcomeFailed), ce)
		e.redeliverRecord(ctx, record)
		e.observe(models.OutcomeFailed, elapsed)
	}
}

func withOutcome(res Result, outcome string) Result {
	res.Outcome = outcome
	return res
}

func (e *Engine) observe(outcome string, elapsed time.Duration) {
	if e.observer != nil {
		e.observer.ObserveOutcome(e.cfg.Entity, outcome, elapsed)
	}
}

func (e *Engine) publishResult(ctx context.Context, record *Record, res Result, ce *common.Error) {
	event := models.ResultEvent{
		Entity:    e.cfg.Entity,
		Outcome:   res.Outcome,
		LookupBy:  res.LookupBy,
		Key:       res.Key,
		TraceID:   res.TraceID,
		Shape:     res.Shape,
		Data:      res.Data,
		Timestamp: e.now().UTC(),
	}
	if ce != nil {
		p := ce.Payload()
		event.Error = &models.ErrorBody{StatusCode: p.StatusCode, Error: p.Error, Message: p.Message}
	}
	if err := e.results.PublishResult(ctx, record.Key, event); err != nil {
		e.logger.Error().
			Str("outcome", event.Outcome).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to publish result event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, record *Record, res Result, failureType string, ce *common.Error) {
	entry := models.DLQRecord{
		Entity:          e.cfg.Entity,
		Key:             string(record.Key),
		OriginalMessage: rawOrQuoted(record.Value),
		FailureType:     failureType,
		LastError:       ce.Error(),
		FailedAt:        e.now().UTC(),
		Meta: map[string]string{
			"topic":     record.Topic,
			"partition": fmt.Sprint(record.Partition),
			"offset":    fmt.Sprint(record.Offset),
		},
	}
	if res.Shape != "" {
		entry.Meta["shape"] = res.Shape
	}
	if err := e.dlq.PublishDLQ(ctx, record.Key, entry); err != nil {
		e.logger.Error().
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to publish DLQ record")
	}
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record.commit == nil {
		return
	}
	if err := record.commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

func (e *Engine) redeliverRecord(ctx context.Context, record *Record) {
	if record.redeliver == nil {
		return
	}
	if err := record.redeliver(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to request redelivery")
	}
}

// rawOrQuoted keeps a JSON payload as is and quotes anything else so the DLQ
// record stays valid JSON.
func rawOrQuoted(b []byte) json.RawMessage {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(cloneBytes(b))
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
