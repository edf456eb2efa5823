// Package broker bridges the gateway and the fan-out dispatcher through
// Kafka. The producer keys records by group id so one group's messages
// always land on the same partition, which is what preserves per-group
// ordering end to end.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	v1 "chatnform/contracts/chat/v1"
)

// DefaultTopic is the chat events topic unless configured otherwise.
const DefaultTopic = "chat-events"

// KafkaPublisher appends envelopes to the topic. Writes are asynchronous:
// broker-side durability acks are logged via the completion callback but
// never awaited, because the message store write already happened by the
// time an envelope reaches the broker.
type KafkaPublisher struct {
	log    *slog.Logger
	writer *kafka.Writer
}

// NewKafkaPublisher constructs a publisher for the given brokers and topic.
func NewKafkaPublisher(log *slog.Logger, brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("broker: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = slog.Default()
	}

	p := &KafkaPublisher{log: log}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // partition affinity per message key (group id)
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.onCompletion,
	}
	return p, nil
}

func (p *KafkaPublisher) onCompletion(msgs []kafka.Message, err error) {
	if err != nil {
		p.log.Error("broker.publish.ack.fail", "count", len(msgs), "err", err)
		return
	}
	for _, m := range msgs {
		p.log.Debug("broker.publish.ack", "partition", m.Partition, "offset", m.Offset)
	}
}

// Publish serializes env and appends it to the topic keyed by group id.
func (p *KafkaPublisher) Publish(ctx context.Context, env v1.MessageEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.GroupID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
