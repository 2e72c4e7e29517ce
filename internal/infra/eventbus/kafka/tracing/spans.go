// Package tracing carries OpenTelemetry context across Kafka messages.
package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StartProducerSpan opens the span covering the synchronous send of one
// lifecycle event. key is the job id the message is partitioned by.
func StartProducerSpan(
	ctx context.Context,
	tracer trace.Tracer,
	topic, eventType, key string,
) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lifecycle.publish "+eventType,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
			semconv.MessagingKafkaMessageKey(key),
			attribute.String("event.type", eventType),
		),
	)
}

// StartConsumerSpan opens the span covering delivery of msg to subscribers.
func StartConsumerSpan(ctx context.Context, tracer trace.Tracer, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lifecycle.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingOperationReceive,
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			semconv.MessagingKafkaDestinationPartition(int(msg.Partition)),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
		),
	)
}
