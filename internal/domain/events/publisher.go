package events

import "context"

// BusPublisher adapts an EventBus into a DomainEventPublisher by wrapping each
// domain event in an envelope stamped with its type and time.
type BusPublisher struct{ bus EventBus }

// NewBusPublisher creates a DomainEventPublisher backed by the provided bus.
func NewBusPublisher(bus EventBus) *BusPublisher { return &BusPublisher{bus: bus} }

// PublishDomainEvent sends a domain event through the underlying bus.
func (p *BusPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	params := ApplyOptions(opts)

	evt := EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}

	return p.bus.Publish(ctx, evt, opts...)
}

// NopPublisher discards every event. It is used when no broker is configured.
type NopPublisher struct{}

// PublishDomainEvent implements DomainEventPublisher.
func (NopPublisher) PublishDomainEvent(context.Context, DomainEvent, ...PublishOption) error {
	return nil
}
