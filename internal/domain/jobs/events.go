package jobs

import (
	"time"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
)

// Event types raised by the lifecycle controller.
const (
	EventTypeJobCreated         events.EventType = "JobCreated"
	EventTypeJobUpdated         events.EventType = "JobUpdated"
	EventTypeJobSubmitted       events.EventType = "JobSubmitted"
	EventTypeJobKillRequested   events.EventType = "JobKillRequested"
	EventTypeJobDeleteRequested events.EventType = "JobDeleteRequested"
	EventTypeJobArtifactAdded   events.EventType = "JobArtifactAdded"
)

// LifecycleEvent records one status-affecting action on a job.
type LifecycleEvent struct {
	eventType       events.EventType
	occurredAt      time.Time
	JobID           string
	Owner           string
	ExecutionServer string
	Status          JobStatus
	Force           bool
	Artifact        string
}

// NewLifecycleEvent creates an event of the given type describing job.
func NewLifecycleEvent(t events.EventType, job *Job) LifecycleEvent {
	return LifecycleEvent{
		eventType:       t,
		occurredAt:      time.Now(),
		JobID:           job.ID(),
		Owner:           job.Owner(),
		ExecutionServer: job.ExecutionServer(),
		Status:          job.Status(),
		Force:           job.Force(),
	}
}

// WithArtifact names the artifact the event refers to.
func (e LifecycleEvent) WithArtifact(name string) LifecycleEvent {
	e.Artifact = name
	return e
}

func (e LifecycleEvent) EventType() events.EventType { return e.eventType }
func (e LifecycleEvent) OccurredAt() time.Time       { return e.occurredAt }

// ReconstructLifecycleEvent rebuilds an event decoded from the wire.
func ReconstructLifecycleEvent(t events.EventType, occurredAt time.Time, e LifecycleEvent) LifecycleEvent {
	e.eventType = t
	e.occurredAt = occurredAt
	return e
}

// LifecycleEventTypes lists every event type raised by the lifecycle controller.
var LifecycleEventTypes = []events.EventType{
	EventTypeJobCreated,
	EventTypeJobUpdated,
	EventTypeJobSubmitted,
	EventTypeJobKillRequested,
	EventTypeJobDeleteRequested,
	EventTypeJobArtifactAdded,
}
