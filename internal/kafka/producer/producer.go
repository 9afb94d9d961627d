// Package producer publishes result and DLQ records. Every send is
// synchronous so broker failures reach the publishing worker.
package producer

import (
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
	defaultMetadataRefreshInterval = 30 * time.Second
	defaultClientID                = "sourcebridge-producer"
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config          *sarama.Config
	refreshInterval time.Duration
	clientID        string
}

// WithConfig replaces the default Sarama config. The config is copied.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithMetadataRefreshInterval sets how often cluster metadata is refreshed
// for the readiness check.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.refreshInterval = interval
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

// Producer is the idempotent sync producer shared by the result and DLQ
// publishers of one worker. It backs the producer readiness check.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer

	refreshInterval time.Duration

	ready atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New connects to brokers. A failed first metadata refresh is logged and
// leaves the producer not ready; it does not fail construction.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{
		config:          defaultConfig(),
		refreshInterval: defaultMetadataRefreshInterval,
		clientID:        defaultClientID,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	copied := *settings.config
	cfg := &copied
	cfg.ClientID = settings.clientID
	if settings.refreshInterval > 0 {
		cfg.Metadata.RefreshFrequency = settings.refreshInterval
	}

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := &Producer{
		logger:          logger.With().Str("component", "kafka_producer").Logger(),
		client:          client,
		syncProducer:    syncProd,
		refreshInterval: settings.refreshInterval,
		stopCh:          make(chan struct{}),
	}

	if err := p.client.RefreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer: initial metadata refresh failed")
	} else {
		p.ready.Store(true)
	}

	p.wg.Add(1)
	go p.watchMetadata()

	return p, nil
}

// Message is one record bound for a result or DLQ topic.
type Message struct {
	Topic   string
	Key     []byte
	Headers map[string][]byte
	Value   []byte
}

// Delivery is where the brokers stored a sent message.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Send writes msg and waits until all in-sync replicas acknowledged it. A
// failed send marks the producer not ready until the next successful send or
// metadata refresh.
func (p *Producer) Send(msg Message) (Delivery, error) {
	if msg.Topic == "" {
		return Delivery{}, errors.New("kafka producer: topic is required")
	}

	pm := &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: toRecordHeaders(msg.Headers),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := p.syncProducer.SendMessage(pm)
	if err != nil {
		p.ready.Store(false)
		return Delivery{}, fmt.Errorf("kafka producer: send to %s: %w", msg.Topic, err)
	}
	p.ready.Store(true)
	return Delivery{Partition: partition, Offset: offset}, nil
}

// IsReady reports whether the last metadata refresh or send succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close stops the metadata watcher and closes the producer and its client.
func (p *Producer) Close() error {
	close(p.stopCh)
	p.wg.Wait()

	var errs []error
	if err := p.syncProducer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.client.RefreshMetadata(); err != nil {
				p.logger.Error().Err(err).Msg("kafka producer: metadata refresh failed")
				p.ready.Store(false)
			} else {
				p.ready.Store(true)
			}
		}
	}
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: append([]byte(nil), v...),
		})
	}
	return out
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = true
	cfg.Metadata.RefreshFrequency = defaultMetadataRefreshInterval
	return cfg
}
