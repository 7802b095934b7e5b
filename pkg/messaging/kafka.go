package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaConfig holds broker connection settings shared by producers and
// consumers.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

func newSaramaConfig(cfg KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = cfg.ClientID
	c.Version = sarama.V2_8_0_0
	return c
}

// Publisher is the producer-side surface the pipeline stages depend on.
type Publisher interface {
	Publish(topic, key string, value interface{}) error
}

// Producer publishes JSON-encoded events. The key selects the partition,
// which gives per-key ordering downstream.
type Producer struct {
	producer sarama.SyncProducer
	log      *logrus.Entry
}

// NewProducer creates a synchronous producer that waits for full ISR
// acknowledgement.
func NewProducer(cfg KafkaConfig, log *logrus.Entry) (*Producer, error) {
	c := newSaramaConfig(cfg)
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{producer: producer, log: log}, nil
}

// Publish marshals value and sends it to topic under key.
func (p *Producer) Publish(topic, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.log.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("Published event")
	return nil
}

// Close shuts the producer down.
func (p *Producer) Close() error {
	return p.producer.Close()
}

// Handler processes one consumed message. Errors are logged and the
// offset is committed anyway; delivery is at-least-once and consumers
// are expected to be idempotent.
type Handler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// ConsumerConfig holds consumer-group settings.
type ConsumerConfig struct {
	KafkaConfig
	GroupID string
	Topics  []string
	// Oldest makes a group with no committed offsets start from the
	// beginning of the topic instead of the tail.
	Oldest bool
}

// ConsumerGroup runs a handler over a set of topics as part of a Kafka
// consumer group with periodic offset auto-commit.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	log     *logrus.Entry
}

// NewConsumerGroup joins the given consumer group.
func NewConsumerGroup(cfg ConsumerConfig, handler Handler, log *logrus.Entry) (*ConsumerGroup, error) {
	c := newSaramaConfig(cfg.KafkaConfig)
	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.Oldest {
		c.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to join consumer group %s: %w", cfg.GroupID, err)
	}

	return &ConsumerGroup{
		group:   group,
		topics:  cfg.Topics,
		handler: handler,
		log:     log,
	}, nil
}

// Run consumes until ctx is cancelled. Consume returns between
// rebalances, so it is called in a loop.
func (cg *ConsumerGroup) Run(ctx context.Context) error {
	for {
		if err := cg.group.Consume(ctx, cg.topics, cg); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consumer group session failed: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group.
func (cg *ConsumerGroup) Close() error {
	return cg.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler.
func (cg *ConsumerGroup) Setup(session sarama.ConsumerGroupSession) error {
	cg.log.WithField("claims", session.Claims()).Info("Consumer group session started")
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (cg *ConsumerGroup) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (cg *ConsumerGroup) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := cg.handler(session.Context(), msg); err != nil {
				cg.log.WithError(err).WithFields(logrus.Fields{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("Failed to process message")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
