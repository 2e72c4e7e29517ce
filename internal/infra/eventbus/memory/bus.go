// Package memory provides an in-process event bus for development and tests.
// Events are delivered synchronously and nothing is persisted.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
)

var _ events.EventBus = (*Bus)(nil)

type subscription struct {
	id      int
	types   []events.EventType
	handler events.HandlerFunc
}

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus { return new(Bus) }

// Publish delivers the event to every matching handler, stopping at the
// first error. Handlers are copied before iteration so they may subscribe.
func (b *Bus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(opts)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !slices.Contains(s.types, event.Type) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: slices.Clone(eventTypes), handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}()

	return nil
}

// Close drops every subscription and rejects further publishes.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
