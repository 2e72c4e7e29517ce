// Package attachments maps artifact names on a job to the place their bytes
// can be fetched from, and fetches them.
package attachments

import (
	"fmt"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// Source is where a FetchDescriptor points.
type Source int

const (
	// SourceDocument is the per-document attachment <jobID>/<name> in the registry.
	SourceDocument Source = iota + 1
	// SourceLocal is a URI in the local store.
	SourceLocal
	// SourceServerProxy is a URI behind an execution server's attachment endpoint.
	SourceServerProxy
	// SourcePassthrough is a direct, unauthenticated fetch of a URI. TLS
	// certificates are not verified on this path.
	SourcePassthrough
)

func (s Source) String() string {
	switch s {
	case SourceDocument:
		return "document"
	case SourceLocal:
		return "local"
	case SourceServerProxy:
		return "server_proxy"
	case SourcePassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// FetchDescriptor is the resolved location of one artifact.
type FetchDescriptor struct {
	Source Source
	JobID  string
	// Name is the attachment name with the archive suffix applied.
	Name   string
	URI    string
	Server string
	// InsecureSkipVerify is only ever set for SourcePassthrough.
	InsecureSkipVerify bool
}

// Resolve locates the artifact called name on job. Embedded attachments win,
// then inputs, then outputs. Unknown names return jobs.ErrArtifactNotFound.
func Resolve(job *jobs.Job, name string) (FetchDescriptor, error) {
	if job.HasAttachment(name) {
		return FetchDescriptor{Source: SourceDocument, JobID: job.ID(), Name: name}, nil
	}

	art, ok := job.FindArtifact(name)
	if !ok {
		return FetchDescriptor{}, fmt.Errorf("%w: %s on job %s", jobs.ErrArtifactNotFound, name, job.ID())
	}

	if art.Kind == jobs.ArtifactKindArchive {
		name += jobs.ArchiveSuffix
	}

	switch loc := art.Location.(type) {
	case jobs.RemoteLocation:
		if loc.Server != "" {
			return FetchDescriptor{Source: SourceServerProxy, JobID: job.ID(), Name: name, URI: loc.URI, Server: loc.Server}, nil
		}
		return FetchDescriptor{Source: SourcePassthrough, JobID: job.ID(), Name: name, URI: loc.URI, InsecureSkipVerify: true}, nil
	case jobs.LocalLocation:
		return FetchDescriptor{Source: SourceLocal, JobID: job.ID(), Name: name, URI: loc.URI}, nil
	case jobs.EmbeddedLocation, nil:
		return FetchDescriptor{Source: SourceDocument, JobID: job.ID(), Name: name}, nil
	default:
		return FetchDescriptor{}, fmt.Errorf("%w: unsupported artifact location %T", jobs.ErrImplementation, loc)
	}
}
