package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

func TestBusDeliversMatchingTypes(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []events.EventEnvelope
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{jobs.EventTypeJobSubmitted}, func(_ context.Context, e events.EventEnvelope) error {
		got = append(got, e)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: jobs.EventTypeJobCreated}))
	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: jobs.EventTypeJobSubmitted}, events.WithKey("j1")))

	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].Key)
}

func TestBusStopsAtFirstError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	boom := errors.New("boom")

	calls := 0
	for range 2 {
		require.NoError(t, bus.Subscribe(ctx, jobs.LifecycleEventTypes, func(context.Context, events.EventEnvelope) error {
			calls++
			return boom
		}))
	}

	err := bus.Publish(ctx, events.EventEnvelope{Type: jobs.EventTypeJobCreated})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, bus.Subscribe(ctx, jobs.LifecycleEventTypes, func(context.Context, events.EventEnvelope) error {
		return errors.New("should not be called")
	}))
	cancel()

	assert.Eventually(t, func() bool {
		return bus.Publish(context.Background(), events.EventEnvelope{Type: jobs.EventTypeJobCreated}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), events.EventEnvelope{Type: jobs.EventTypeJobCreated}))
	assert.Error(t, bus.Subscribe(context.Background(), nil, nil))
}

func TestBusPublisherAdapter(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var received events.EventEnvelope
	require.NoError(t, bus.Subscribe(ctx, jobs.LifecycleEventTypes, func(_ context.Context, e events.EventEnvelope) error {
		received = e
		return nil
	}))

	job := jobs.NewJob(jobs.JobParams{ID: "j1", Owner: "a@example.com", Executable: "sim", ExecutionServer: "es1"}, time.Now())
	evt := jobs.NewLifecycleEvent(jobs.EventTypeJobCreated, job)
	require.NoError(t, events.NewBusPublisher(bus).PublishDomainEvent(ctx, evt, events.WithKey("j1")))

	assert.Equal(t, jobs.EventTypeJobCreated, received.Type)
	assert.Equal(t, "j1", received.Key)
	assert.Equal(t, evt, received.Payload)
}
