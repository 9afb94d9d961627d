// Package consumer reads lookup and fan-out requests from Kafka. Offsets only
// move when the worker engine settles a record: Commit acknowledges it and
// Redeliver rewinds the partition so the record is read again.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	sessionTimeout   = 30 * time.Second
	heartbeat        = 3 * time.Second
	rebalanceTimeout = 30 * time.Second
	rejoinBackoff    = time.Second

	defaultClientID = "sourcebridge-consumer"
)

// Handler receives every request record of the current group session.
type Handler func(ctx context.Context, record *Record) error

// Option customises the consumer during construction.
type Option func(*options)

type options struct {
	config   *sarama.Config
	clientID string
}

// WithConfig replaces the default Sarama config. The config is copied.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithClientID sets the Kafka client id reported to the brokers.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// Consumer is a consumer-group member for one request topic set. A record that
// asks for redelivery restarts the group session.
type Consumer struct {
	logger zerolog.Logger

	group       sarama.ConsumerGroup
	groupID     string
	commitOnAck bool
	errorsDone  chan struct{}

	ready    atomic.Bool
	sessions atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Record is one request as read from Kafka, bound to the session it arrived
// in.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
	gen     *generation

	mu      sync.Mutex
	settled bool
}

// settle reports whether this call is the first to acknowledge the record.
func (r *Record) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	return true
}

// generation is one consumer group session. After a redelivery it is stale:
// later commits from it are dropped so the committed offset never passes the
// rewound record.
type generation struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stale   bool
	resetTo map[topicPartition]int64
}

type topicPartition struct {
	topic     string
	partition int32
}

func (g *generation) isStale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stale
}

// rewind marks the generation stale and records the lowest offset to resume
// from per partition. It returns false when an earlier offset is already set.
func (g *generation) rewind(tp topicPartition, offset int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stale = true
	if prev, ok := g.resetTo[tp]; ok && prev <= offset {
		return false
	}
	g.resetTo[tp] = offset
	return true
}

// New joins groupID on brokers. With commitOnSuccessOnly every Commit is
// flushed synchronously instead of waiting for the auto-commit interval.
func New(brokers []string, groupID string, logger zerolog.Logger, commitOnSuccessOnly bool, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{clientID: defaultClientID}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	var cfg *sarama.Config
	if settings.config != nil {
		copied := *settings.config
		cfg = &copied
	} else {
		cfg = defaultConfig()
	}
	cfg.ClientID = settings.clientID
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}

	c := &Consumer{
		logger:      logger,
		group:       group,
		groupID:     groupID,
		commitOnAck: commitOnSuccessOnly,
		errorsDone:  make(chan struct{}),
	}
	go c.logGroupErrors()
	return c, nil
}

// Consume runs group sessions over topics until ctx is cancelled or the group
// is closed. Each session gets a fresh generation; a session ended by a
// redelivery is rejoined immediately.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sessionCtx, sessionCancel := context.WithCancel(ctx)
		gen := &generation{cancel: sessionCancel, resetTo: make(map[topicPartition]int64)}
		n := c.sessions.Add(1)
		c.logger.Debug().Int64("session", n).Strs("topics", topics).Msg("kafka consumer: joining group session")

		err := c.group.Consume(sessionCtx, topics, &session{consumer: c, handler: handler, gen: gen})
		sessionCancel()
		if err == nil {
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		c.logger.Error().Err(err).Int64("session", n).Msg("kafka consumer: group session failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rejoinBackoff):
		}
	}
}

// Commit acknowledges a settled request. Commits from a session that already
// rewound for redelivery are ignored.
func (c *Consumer) Commit(_ context.Context, record *Record) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	if !record.settle() {
		return nil
	}
	if record.gen != nil && record.gen.isStale() {
		return nil
	}

	record.session.MarkMessage(record.message, "")
	if c.commitOnAck {
		record.session.Commit()
	}
	return nil
}

// Redeliver rewinds the record's partition to the record's offset and ends
// the session. After rejoining, the record and everything after it on the
// partition are read again.
func (c *Consumer) Redeliver(_ context.Context, record *Record) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	if record.gen == nil {
		return errors.New("kafka consumer: record has no session generation")
	}
	if !record.settle() {
		return nil
	}
	if !record.gen.rewind(topicPartition{topic: record.Topic, partition: record.Partition}, record.Offset) {
		return nil
	}

	record.session.ResetOffset(record.Topic, record.Partition, record.Offset, "")
	record.session.Commit()
	c.logger.Warn().
		Str("topic", record.Topic).
		Int32("partition", record.Partition).
		Int64("offset", record.Offset).
		Msg("kafka consumer: offset rewound for redelivery; restarting session")
	record.gen.cancel()
	return nil
}

// IsReady reports whether a group session is currently active.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close leaves the group and waits for Consume to return.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDone
	return err
}

func (c *Consumer) logGroupErrors() {
	defer close(c.errorsDone)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer: group error")
		}
	}
}

func checkRecord(record *Record) error {
	if record == nil {
		return errors.New("kafka consumer: record is required")
	}
	if record.session == nil || record.message == nil {
		return errors.New("kafka consumer: record missing session data")
	}
	return nil
}

// session implements sarama.ConsumerGroupHandler for one generation.
type session struct {
	consumer *Consumer
	handler  Handler
	gen      *generation
}

func (s *session) Setup(sarama.ConsumerGroupSession) error {
	s.consumer.ready.Store(true)
	s.consumer.logger.Info().Str("group_id", s.consumer.groupID).Msg("kafka consumer: session started")
	return nil
}

func (s *session) Cleanup(sarama.ConsumerGroupSession) error {
	s.consumer.ready.Store(false)
	s.consumer.logger.Info().Str("group_id", s.consumer.groupID).Msg("kafka consumer: session ended")
	return nil
}

func (s *session) ConsumeClaim(gs sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if s.gen.isStale() {
			// the rewound offset delivers this message again
			continue
		}
		record := &Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       cloneBytes(msg.Key),
			Value:     cloneBytes(msg.Value),
			Timestamp: msg.Timestamp,
			Headers:   fromHeaders(msg.Headers),
			session:   gs,
			message:   msg,
			gen:       s.gen,
		}
		if err := s.handler(gs.Context(), record); err != nil {
			s.consumer.logger.Error().
				Err(err).
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("kafka consumer: handler failed")
		}
	}
	return nil
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = sessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = rebalanceTimeout
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func fromHeaders(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h == nil || len(h.Key) == 0 {
			continue
		}
		out[string(h.Key)] = cloneBytes(h.Value)
	}
	return out
}
