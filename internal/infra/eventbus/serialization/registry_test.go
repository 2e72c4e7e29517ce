package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

func TestLifecycleEnvelopeRoundTrip(t *testing.T) {
	job := jobs.NewJob(jobs.JobParams{ID: "j1", Owner: "a@example.com", Executable: "sim", ExecutionServer: "es1"}, time.Now())
	job.SetForce(true)
	require.NoError(t, job.TransitionTo(jobs.JobStatusQueue))

	evt := jobs.NewLifecycleEvent(jobs.EventTypeJobSubmitted, job)
	envelope := events.EventEnvelope{
		Type:      evt.EventType(),
		Key:       "j1",
		Headers:   map[string]string{"source": "api"},
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}

	data, err := Marshal(envelope)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, jobs.EventTypeJobSubmitted, got.Type)
	assert.Equal(t, "j1", got.Key)
	assert.Equal(t, map[string]string{"source": "api"}, got.Headers)
	assert.True(t, envelope.Timestamp.Equal(got.Timestamp))

	payload, ok := got.Payload.(jobs.LifecycleEvent)
	require.True(t, ok)
	assert.Equal(t, "j1", payload.JobID)
	assert.Equal(t, jobs.JobStatusQueue, payload.Status)
	assert.True(t, payload.Force)
	assert.Equal(t, jobs.EventTypeJobSubmitted, payload.EventType())
}

func TestMarshalRejectsUnknownTypes(t *testing.T) {
	_, err := Marshal(events.EventEnvelope{Type: "Nope", Timestamp: time.Now()})
	assert.Error(t, err)

	_, err = Marshal(events.EventEnvelope{Type: jobs.EventTypeJobCreated, Timestamp: time.Now(), Payload: "not an event"})
	assert.Error(t, err)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0x01})
	assert.Error(t, err)
}

func TestEveryLifecycleTypeRegistered(t *testing.T) {
	for _, et := range jobs.LifecycleEventTypes {
		assert.True(t, Registered(et), et)
	}
}
