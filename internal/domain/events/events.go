// Package events defines how job lifecycle changes leave the domain: domain
// events, the envelope they travel in, and the bus ports that carry it.
package events

import (
	"context"
	"time"
)

// EventType names a kind of event, e.g. "JobSubmitted".
type EventType string

// DomainEvent is raised by the domain after a state change is persisted.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope is the transport form of a DomainEvent.
type EventEnvelope struct {
	Type EventType
	// Key groups related events; lifecycle events use the job id so one
	// job's events stay ordered on a partitioned bus.
	Key       string
	Headers   map[string]string
	Timestamp time.Time
	Payload   any
}

// DomainEventPublisher is the port the lifecycle controller publishes through.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// HandlerFunc receives one envelope from an EventBus subscription.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error

// EventBus moves envelopes between publishers and subscribers. Implementations
// live under internal/infra/eventbus.
type EventBus interface {
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error
	Close() error
}

// PublishParams collects the per-publish settings.
type PublishParams struct {
	Key     string
	Headers map[string]string
}

// PublishOption adjusts PublishParams.
type PublishOption func(*PublishParams)

// WithKey sets the routing key.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders attaches metadata to the envelope.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}

// ApplyOptions folds opts into a PublishParams value.
func ApplyOptions(opts []PublishOption) PublishParams {
	var p PublishParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
