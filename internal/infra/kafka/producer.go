package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/infra/config"
)

// PublishObserver is told about messages the broker rejected after retries.
type PublishObserver interface {
	ObservePublishFailure(topic string)
}

// Producer wraps a Sarama AsyncProducer and drains its error channel.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger
	cfg      config.KafkaSettings
	observer PublishObserver
	done     chan struct{}
	drained  chan struct{}
}

// ProducerConfig is the sarama configuration used for presence events. Presence is superseded
// by the next heartbeat so leader acks and a short flush interval are enough.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_5_0_0
	cfg.ClientID = "portal-realtime"

	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	cfg.Metadata.Retry.Max = 3
	cfg.Metadata.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

// NewProducer connects an async producer to cfg.Brokers.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger, observer PublishObserver) (*Producer, error) {
	async, err := sarama.NewAsyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := newProducer(async, cfg, logger, observer)
	p.logger.Info("kafka producer connected",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)
	return p, nil
}

func newProducer(async sarama.AsyncProducer, cfg config.KafkaSettings, logger *zap.Logger, observer PublishObserver) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		producer: async,
		logger:   logger.Named("kafka_producer"),
		cfg:      cfg,
		observer: observer,
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go p.drainErrors()
	return p
}

func (p *Producer) drainErrors() {
	defer close(p.drained)
	for {
		select {
		case perr, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if perr == nil || perr.Msg == nil {
				continue
			}
			if p.observer != nil {
				p.observer.ObservePublishFailure(perr.Msg.Topic)
			}
			p.logger.Warn("kafka publish failed",
				zap.String("topic", perr.Msg.Topic),
				zap.Int32("partition", perr.Msg.Partition),
				zap.Error(perr.Err),
			)
		case <-p.done:
			return
		}
	}
}

// Send enqueues msg. It fails only when ctx ends before the producer accepts the message.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages and stops the error drain.
func (p *Producer) Close() error {
	err := p.producer.Close()
	close(p.done)
	<-p.drained
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// TopicName prefixes eventType unless it already carries the prefix.
func (p *Producer) TopicName(eventType string) string {
	if p.cfg.TopicPrefix == "" || strings.HasPrefix(eventType, p.cfg.TopicPrefix+".") {
		return eventType
	}
	return p.cfg.Topic(eventType)
}
