package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	v1 "chatnform/contracts/chat/v1"
	"chatnform/internal/metrics"
)

const (
	// DefaultGroupID is the consumer group. One member per partition,
	// never two competing consumers on the same partition, or per-group
	// ordering at fan-out is lost.
	DefaultGroupID = "chatnform-fanout"

	defaultMaxForwardRetries = 3
	defaultRetryBackoff      = 250 * time.Millisecond
)

// Forwarder receives decoded envelopes from the consumer loop. Satisfied
// by realtime.Dispatcher.
type Forwarder interface {
	Broadcast(ctx context.Context, groupID string, env v1.MessageEnvelope) error
}

// MessageReader is the slice of kafka.Reader the consumer loop depends
// on; tests drive the loop through fakes of this.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the chat topic and forwards each record to the fan-out
// dispatcher, committing its offset only after a successful forward.
//
// Delivery contract (at-least-once): a crash between forward and commit
// redelivers the record. Redelivery is safe downstream: persistence was
// deduplicated at ingestion and the origin tag suppresses sender echo.
type Consumer struct {
	log     *slog.Logger
	reader  MessageReader
	forward Forwarder

	maxForwardRetries int
	retryBackoff      time.Duration
}

// ConsumerOption configures Consumer behavior.
type ConsumerOption func(*Consumer)

// WithMaxForwardRetries bounds the forward attempts per record.
func WithMaxForwardRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxForwardRetries = n
		}
	}
}

// WithRetryBackoff sets the pause between forward attempts.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.retryBackoff = d
		}
	}
}

// NewConsumer constructs a consumer loop over an existing reader.
func NewConsumer(log *slog.Logger, reader MessageReader, forward Forwarder, opts ...ConsumerOption) (*Consumer, error) {
	if reader == nil {
		return nil, errors.New("broker: nil reader")
	}
	if forward == nil {
		return nil, errors.New("broker: nil forwarder")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Consumer{
		log:               log,
		reader:            reader,
		forward:           forward,
		maxForwardRetries: defaultMaxForwardRetries,
		retryBackoff:      defaultRetryBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NewKafkaReader builds the kafka.Reader the fanout worker runs on.
func NewKafkaReader(brokers []string, topic, groupID string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, errors.New("broker: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
		// Offsets are committed explicitly, strictly after forwarding.
		CommitInterval: 0,
	}), nil
}

// Run polls the topic until ctx is canceled. Per-record failures never
// stop the loop; only a dead broker connection (or cancellation) ends it.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer.start")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("consumer.stop", "reason", "context_done")
				return nil
			}
			c.log.Error("consumer.fetch.fail", "err", err)
			return err
		}

		c.handle(ctx, msg)
	}
}

// handle processes one record: decode, forward with bounded retries,
// commit. The offset advances even for dropped records so one poisoned
// record cannot stall every group behind it.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var env v1.MessageEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.log.Warn("consumer.record.malformed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		metrics.ConsumerDropped.WithLabelValues("malformed").Inc()
		c.commit(ctx, msg)
		return
	}
	if err := env.Validate(); err != nil {
		c.log.Warn("consumer.record.invalid", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		metrics.ConsumerDropped.WithLabelValues("malformed").Inc()
		c.commit(ctx, msg)
		return
	}

	if err := c.forwardWithRetry(ctx, env); err != nil {
		c.log.Error("consumer.forward.dropped",
			"message_id", env.ID, "group_id", env.GroupID,
			"attempts", c.maxForwardRetries, "err", err,
		)
		metrics.ConsumerDropped.WithLabelValues("forward_failed").Inc()
		c.commit(ctx, msg)
		return
	}

	metrics.ConsumerForwarded.Inc()
	c.commit(ctx, msg)
}

func (c *Consumer) forwardWithRetry(ctx context.Context, env v1.MessageEnvelope) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxForwardRetries; attempt++ {
		lastErr = c.forward.Broadcast(ctx, env.GroupID, env)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}

		c.log.Warn("consumer.forward.retry", "message_id", env.ID, "attempt", attempt, "err", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryBackoff):
		}
	}
	return lastErr
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		// A failed commit means redelivery after restart, which the
		// pipeline tolerates; it is not worth killing the loop over.
		c.log.Error("consumer.commit.fail", "partition", msg.Partition, "offset", msg.Offset, "err", err)
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
