package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/config"
)

// NewSyncProducer builds an idempotent producer that waits for all replicas.
func NewSyncProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher sends events keyed by group id so one group's events stay in
// one partition and keep their order. When the broker rejects a send the event
// is handed to fallback.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	fallback Publisher
	log      *zap.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, fallback Publisher, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, fallback: fallback, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev GroupEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode group event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.GroupID), 10)),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Warn("kafka send failed, recording activity directly",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
		if p.fallback == nil {
			return fmt.Errorf("failed to send event to topic %s: %w", p.topic, err)
		}
		return p.fallback.Publish(ctx, ev)
	}

	p.log.Debug("group event stored",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// Projector consumes group events and writes them to the activity feed.
// Redelivered events are absorbed by the unique event id.
type Projector struct {
	sink Publisher
	log  *zap.Logger
}

func NewProjector(sink Publisher, log *zap.Logger) *Projector {
	return &Projector{sink: sink, log: log}
}

func (p *Projector) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (p *Projector) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (p *Projector) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			p.handle(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (p *Projector) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	var ev GroupEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.ID == "" {
		p.log.Warn("skipping undecodable group event",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return
	}
	if err := p.sink.Publish(ctx, ev); err != nil {
		// Marked anyway so one bad row cannot stall the partition.
		p.log.Error("failed to project group event",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

// NewConsumerGroup joins groupID reading from the oldest retained offset.
func NewConsumerGroup(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return group, nil
}

// Consume runs the consumer group until ctx is cancelled.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler, log *zap.Logger) error {
	defer group.Close()
	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error("kafka consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
