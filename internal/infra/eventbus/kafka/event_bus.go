// Package kafka publishes and consumes lifecycle events through Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/infra/eventbus/kafka/tracing"
	"github.com/NIRALUser/clusterpost/internal/infra/eventbus/serialization"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

// EventBusMetrics tracks published and consumed messages.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// EventBusConfig names the topic and consumer group.
type EventBusConfig struct {
	// LifecycleTopic receives every job lifecycle event, keyed by job id.
	LifecycleTopic string
	// GroupID identifies the consumer group used by Subscribe.
	GroupID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus on a sync producer and an optional
// consumer group.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	topic         string

	// client is closed last when the bus owns it.
	client sarama.Client

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus creates an EventBus. consumerGroup may be nil for a
// publish-only bus.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *EventBusConfig,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if cfg.LifecycleTopic == "" {
		return nil, errors.New("lifecycle topic is required")
	}
	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topic:         cfg.LifecycleTopic,
		logger:        log.With("component", "kafka_event_bus"),
		tracer:        tracer,
		metrics:       metrics,
	}, nil
}

// Publish serializes the envelope and sends it synchronously.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	params := events.ApplyOptions(opts)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}

	ctx, span := tracing.StartProducerSpan(ctx, b.tracer, b.topic, string(event.Type), event.Key)
	defer span.End()

	msgBytes, err := serialization.Marshal(event)
	if err != nil {
		b.publishFailed(ctx, span, err)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		b.publishFailed(ctx, span, err)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", b.topic, err)
	}

	if b.metrics != nil {
		b.metrics.IncMessagePublished(ctx, b.topic)
	}
	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", b.topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"key", event.Key,
	)
	return nil
}

func (b *EventBus) publishFailed(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if b.metrics != nil {
		b.metrics.IncPublishError(ctx, b.topic)
	}
}

// Subscribe consumes the lifecycle topic in the background and hands
// envelopes of the requested types to handler.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.consumerGroup == nil {
		return errors.New("event bus has no consumer group")
	}
	for _, et := range eventTypes {
		if !serialization.Registered(et) {
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
	}

	h := &consumerHandler{bus: b, types: eventTypes, handler: handler}
	go b.consumeLoop(ctx, h)

	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

func (b *EventBus) consumeLoop(ctx context.Context, h *consumerHandler) {
	for {
		if err := b.consumerGroup.Consume(ctx, []string{b.topic}, h); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close shuts down the producer and the consumer group.
func (b *EventBus) Close() error {
	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing producer: %w", err))
	}
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing consumer group: %w", err))
		}
	}
	if b.client != nil && !b.client.Closed() {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// consumerHandler implements sarama.ConsumerGroupHandler.
type consumerHandler struct {
	bus     *EventBus
	types   []events.EventType
	handler events.HandlerFunc
}

func (h *consumerHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim marks every message, including ones that fail to decode or
// handle.
func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.consume(sess.Context(), msg)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerHandler) consume(ctx context.Context, msg *sarama.ConsumerMessage) {
	ctx = tracing.ExtractTraceContext(ctx, msg)
	ctx, span := tracing.StartConsumerSpan(ctx, h.bus.tracer, msg)
	defer span.End()

	evt, err := serialization.Unmarshal(msg.Value)
	if err != nil {
		span.RecordError(err)
		h.consumeFailed(ctx, msg.Topic)
		h.bus.logger.Warn(ctx, "Dropping undecodable message", "offset", msg.Offset, "error", err)
		return
	}
	if !slices.Contains(h.types, evt.Type) {
		return
	}

	if err := h.handler(ctx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.consumeFailed(ctx, msg.Topic)
		h.bus.logger.Error(ctx, "Failed to handle message", "event_type", evt.Type, "error", err)
		return
	}
	if h.bus.metrics != nil {
		h.bus.metrics.IncMessageConsumed(ctx, msg.Topic)
	}
}

func (h *consumerHandler) consumeFailed(ctx context.Context, topic string) {
	if h.bus.metrics != nil {
		h.bus.metrics.IncConsumeError(ctx, topic)
	}
}
