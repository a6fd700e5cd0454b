package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/infra/config"
)

const rejoinDelay = time.Second

// ConsumerGroup keeps a Sarama consumer group joined to the change-event topics.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	handler sarama.ConsumerGroupHandler
	topics  []string
	logger  *zap.Logger
}

// ChangeEventTopics lists the topics the change consumer subscribes to.
func ChangeEventTopics(cfg config.KafkaSettings) []string {
	return []string{
		cfg.Topic(domain.EventMessageCreated),
		cfg.Topic(domain.EventMessageRead),
		cfg.Topic(domain.EventNotificationCreated),
		cfg.Topic(domain.EventNotificationRead),
	}
}

// NewConsumerGroup joins cfg.ConsumerGroup. Offsets start at the newest message: refreshes
// for changes that happened while the service was down are not useful.
func NewConsumerGroup(cfg config.KafkaSettings, handler sarama.ConsumerGroupHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.ClientID = "portal-realtime"
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return newConsumerGroup(group, handler, ChangeEventTopics(cfg), logger), nil
}

func newConsumerGroup(group sarama.ConsumerGroup, handler sarama.ConsumerGroupHandler, topics []string, logger *zap.Logger) *ConsumerGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsumerGroup{group: group, handler: handler, topics: topics, logger: logger}
}

// Run consumes until ctx is cancelled, rejoining after every rebalance.
func (g *ConsumerGroup) Run(ctx context.Context) error {
	go g.logErrors(ctx)

	g.logger.Info("Kafka consumer group started", zap.Strings("topics", g.topics))
	for {
		if err := g.group.Consume(ctx, g.topics, g.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			g.logger.Error("Kafka consume failed", zap.Error(err))
			select {
			case <-time.After(rejoinDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (g *ConsumerGroup) logErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-g.group.Errors():
			if !ok {
				return
			}
			g.logger.Warn("Kafka consumer group error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// Close leaves the group.
func (g *ConsumerGroup) Close() error {
	if err := g.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}
