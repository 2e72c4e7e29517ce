package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

func init() {
	for _, t := range jobs.LifecycleEventTypes {
		Register(t, encodeLifecycle, decodeLifecycle)
	}
}

func encodeLifecycle(payload any) (*structpb.Struct, error) {
	evt, ok := payload.(jobs.LifecycleEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not jobs.LifecycleEvent", payload)
	}
	return structpb.NewStruct(map[string]any{
		"job_id":           evt.JobID,
		"owner":            evt.Owner,
		"execution_server": evt.ExecutionServer,
		"status":           evt.Status.String(),
		"force":            evt.Force,
		"artifact":         evt.Artifact,
	})
}

func decodeLifecycle(s *structpb.Struct, eventType events.EventType, occurredAt time.Time) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("missing payload")
	}
	f := s.GetFields()
	return jobs.ReconstructLifecycleEvent(eventType, occurredAt, jobs.LifecycleEvent{
		JobID:           f["job_id"].GetStringValue(),
		Owner:           f["owner"].GetStringValue(),
		ExecutionServer: f["execution_server"].GetStringValue(),
		Status:          jobs.ParseJobStatus(f["status"].GetStringValue()),
		Force:           f["force"].GetBoolValue(),
		Artifact:        f["artifact"].GetStringValue(),
	}), nil
}
