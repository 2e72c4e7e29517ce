package jobs

import (
	"context"
	"io"
)

// JobQuery filters jobs the way the store's search views do. Empty fields are
// not filtered on.
type JobQuery struct {
	Owner           string
	Status          JobStatus
	Executable      string
	ExecutionServer string
}

// AttachmentContent is an embedded attachment read back from the store.
type AttachmentContent struct {
	ContentType string
	Length      int64
	Body        io.ReadCloser
}

// Repository is the job registry backed by a document store.
type Repository interface {
	// Get returns the job document by id or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Put creates the job when it has no revision and updates it otherwise.
	// A stale revision returns ErrConflict. The job's revision is updated.
	Put(ctx context.Context, job *Job) error

	// Delete removes the job document at its current revision.
	Delete(ctx context.Context, job *Job) error

	// Status returns the freshly stored status object for a job.
	Status(ctx context.Context, id string) (StatusInfo, error)

	// Query lists jobs matching the filter ordered by creation time.
	Query(ctx context.Context, q JobQuery) ([]*Job, error)

	// PutAttachment stores content as an embedded attachment of the job and
	// bumps the job's revision.
	PutAttachment(ctx context.Context, job *Job, name, contentType string, body io.Reader) error

	// GetAttachment opens an embedded attachment or returns ErrArtifactNotFound.
	GetAttachment(ctx context.Context, id, name string) (*AttachmentContent, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
