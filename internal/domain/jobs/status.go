package jobs

import "fmt"

// JobStatus represents the current state of a job. The lifecycle controller
// writes CREATE, QUEUE, KILL and DELETE; execution servers write the rest
// into the store directly.
type JobStatus string

const (
	// JobStatusCreate indicates the job document exists but was never submitted.
	JobStatusCreate JobStatus = "CREATE"

	// JobStatusQueue indicates the job is waiting for the scheduler to hand it
	// to its execution server.
	JobStatusQueue JobStatus = "QUEUE"

	// JobStatusRun indicates the execution server reported the job as running.
	JobStatusRun JobStatus = "RUN"

	// JobStatusUploading indicates the execution server is pushing outputs back.
	JobStatusUploading JobStatus = "UPLOADING"

	// JobStatusKill indicates a kill was requested and is pending.
	JobStatusKill JobStatus = "KILL"

	// JobStatusDelete indicates a delete was requested. The document is removed
	// once the scheduler has deleted the remote job.
	JobStatusDelete JobStatus = "DELETE"

	// JobStatusDone, JobStatusFail and JobStatusExit are reported by execution
	// servers when the job finishes.
	JobStatusDone JobStatus = "DONE"
	JobStatusFail JobStatus = "FAIL"
	JobStatusExit JobStatus = "EXIT"
)

func (s JobStatus) String() string { return string(s) }

// NeedsRefresh reports whether the stored status may be stale because the job
// is still active on its execution server.
func (s JobStatus) NeedsRefresh() bool {
	return s == JobStatusRun || s == JobStatusUploading
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "CREATE":
		return JobStatusCreate
	case "QUEUE":
		return JobStatusQueue
	case "RUN":
		return JobStatusRun
	case "UPLOADING":
		return JobStatusUploading
	case "KILL":
		return JobStatusKill
	case "DELETE":
		return JobStatusDelete
	case "DONE":
		return JobStatusDone
	case "FAIL":
		return JobStatusFail
	case "EXIT":
		return JobStatusExit
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// Resubmission and repeated kills are allowed. DELETE may only be re-entered,
// which re-enqueues a delete whose earlier dispatch failed.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusDelete:
		return target == JobStatusDelete
	default:
		switch target {
		case JobStatusQueue, JobStatusKill, JobStatusDelete:
			return true
		default:
			return false
		}
	}
}
