package jobs

import (
	"encoding/json"
	"fmt"
)

// ArtifactKind distinguishes single files from archived directories.
type ArtifactKind string

const (
	ArtifactKindPlain   ArtifactKind = "plain"
	ArtifactKindArchive ArtifactKind = "archive"
)

// ArchiveSuffix is appended to the resolved name of archive artifacts.
const ArchiveSuffix = ".tar.gz"

// Location says where the bytes of an artifact live. Exactly one of
// EmbeddedLocation, LocalLocation or RemoteLocation is active.
type Location interface{ isLocation() }

// EmbeddedLocation means the artifact is stored inside the job document's
// attachment set.
type EmbeddedLocation struct{}

// LocalLocation means the artifact is fetchable from the local store by URI.
type LocalLocation struct {
	URI string
}

// RemoteLocation means the artifact is fetchable from a URI. When Server is
// set the fetch goes through that execution server's attachment endpoint.
type RemoteLocation struct {
	URI    string
	Server string
}

func (EmbeddedLocation) isLocation() {}
func (LocalLocation) isLocation()    {}
func (RemoteLocation) isLocation()   {}

// Artifact is a named input or output of a job.
type Artifact struct {
	Name     string
	Kind     ArtifactKind
	Location Location
}

// NewArtifact creates an artifact, defaulting to a plain embedded one.
func NewArtifact(name string, kind ArtifactKind, loc Location) Artifact {
	if kind == "" {
		kind = ArtifactKindPlain
	}
	if loc == nil {
		loc = EmbeddedLocation{}
	}
	return Artifact{Name: name, Kind: kind, Location: loc}
}

// artifactDocument is the stored shape of an artifact, compatible with the
// clusterpost job documents written by execution servers.
type artifactDocument struct {
	Name   string          `json:"name"`
	Type   string          `json:"type,omitempty"`
	Local  *localDocument  `json:"local,omitempty"`
	Remote *remoteDocument `json:"remote,omitempty"`
}

type localDocument struct {
	URI string `json:"uri"`
}

type remoteDocument struct {
	URI            string `json:"uri"`
	ServerCodename string `json:"serverCodename,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Artifact) MarshalJSON() ([]byte, error) {
	doc := artifactDocument{Name: a.Name}
	if a.Kind == ArtifactKindArchive {
		doc.Type = "tar.gz"
	}

	switch loc := a.Location.(type) {
	case LocalLocation:
		doc.Local = &localDocument{URI: loc.URI}
	case RemoteLocation:
		doc.Remote = &remoteDocument{URI: loc.URI, ServerCodename: loc.Server}
	case EmbeddedLocation, nil:
	default:
		return nil, fmt.Errorf("artifact %s: unknown location %T", a.Name, loc)
	}

	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler. A document carrying both a
// remote and a local location resolves as remote.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var doc artifactDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	a.Name = doc.Name
	a.Kind = ArtifactKindPlain
	if doc.Type == "tar.gz" || doc.Type == string(ArtifactKindArchive) {
		a.Kind = ArtifactKindArchive
	}

	switch {
	case doc.Remote != nil:
		a.Location = RemoteLocation{URI: doc.Remote.URI, Server: doc.Remote.ServerCodename}
	case doc.Local != nil:
		a.Location = LocalLocation{URI: doc.Local.URI}
	default:
		a.Location = EmbeddedLocation{}
	}

	return nil
}
