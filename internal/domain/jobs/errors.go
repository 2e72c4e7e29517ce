package jobs

import "errors"

var (
	// ErrJobNotFound is returned when no job document exists for an id.
	ErrJobNotFound = errors.New("job not found")

	// ErrArtifactNotFound is returned when a job has no artifact by that name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrNotJobDocument is returned when a stored document is not a job.
	ErrNotJobDocument = errors.New("document is not a job")

	// ErrUnauthorized is returned when an ownership/scope check fails or a
	// token is invalid or expired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a write carries a stale revision or the id
	// already exists.
	ErrConflict = errors.New("conflict")

	// ErrConfiguration is returned when a job references an execution server
	// that is not configured.
	ErrConfiguration = errors.New("execution server not configured")

	// ErrImplementation wraps remote-shell failures and unexpected store errors.
	ErrImplementation = errors.New("implementation error")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidJob is returned when a job payload is missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)
