package jobs

import (
	"encoding/json"
	"time"
)

// DocumentTypeJob tags job documents so they can be told apart from other
// documents sharing the store.
const DocumentTypeJob = "job"

// StatusInfo is the status object stored on a job and returned by lifecycle
// operations. Execution servers may add their own scheduler job id and stats.
type StatusInfo struct {
	Status JobStatus       `json:"status"`
	JobID  string          `json:"jobid,omitempty"`
	Stat   json.RawMessage `json:"stat,omitempty"`
}

// Attachment describes one embedded attachment held by the job document.
type Attachment struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length"`
}

// Job is the authoritative record of a computational job.
type Job struct {
	id              string
	revision        string
	docType         string
	name            string
	owner           string
	executable      string
	executionServer string
	force           bool
	parameters      json.RawMessage
	inputs          []Artifact
	outputs         []Artifact
	status          StatusInfo
	timestamp       time.Time
	attachments     map[string]Attachment
}

// JobParams carries the caller-provided fields of a new job.
type JobParams struct {
	ID              string
	Name            string
	Owner           string
	Executable      string
	ExecutionServer string
	Parameters      json.RawMessage
	Inputs          []Artifact
	Outputs         []Artifact
}

// NewJob creates a job in CREATE status stamped with the given creation time.
func NewJob(p JobParams, now time.Time) *Job {
	return &Job{
		id:              p.ID,
		docType:         DocumentTypeJob,
		name:            p.Name,
		owner:           p.Owner,
		executable:      p.Executable,
		executionServer: p.ExecutionServer,
		parameters:      p.Parameters,
		inputs:          p.Inputs,
		outputs:         p.Outputs,
		status:          StatusInfo{Status: JobStatusCreate},
		timestamp:       now,
		attachments:     map[string]Attachment{},
	}
}

func (j *Job) ID() string                         { return j.id }
func (j *Job) Revision() string                   { return j.revision }
func (j *Job) Name() string                       { return j.name }
func (j *Job) Owner() string                      { return j.owner }
func (j *Job) Executable() string                 { return j.executable }
func (j *Job) ExecutionServer() string            { return j.executionServer }
func (j *Job) Force() bool                        { return j.force }
func (j *Job) Parameters() json.RawMessage        { return j.parameters }
func (j *Job) Inputs() []Artifact                 { return j.inputs }
func (j *Job) Outputs() []Artifact                { return j.outputs }
func (j *Job) Status() JobStatus                  { return j.status.Status }
func (j *Job) StatusInfo() StatusInfo             { return j.status }
func (j *Job) Timestamp() time.Time               { return j.timestamp }
func (j *Job) Attachments() map[string]Attachment { return j.attachments }
func (j *Job) IsJobDocument() bool                { return j.docType == DocumentTypeJob }

// HasAttachment reports whether the document embeds an attachment by name.
func (j *Job) HasAttachment(name string) bool {
	_, ok := j.attachments[name]
	return ok
}

// AssignID sets a store-assigned id on a job that was created without one.
func (j *Job) AssignID(id string) {
	if j.id == "" {
		j.id = id
	}
}

// SetRevision records the revision token returned by the store.
func (j *Job) SetRevision(rev string) { j.revision = rev }

// SetOwner sets the owner of a job that was created without one.
func (j *Job) SetOwner(owner string) { j.owner = owner }

// SetForce records the override flag the job is submitted with.
func (j *Job) SetForce(force bool) { j.force = force }

// TransitionTo moves the job to the target status if the lifecycle allows it.
func (j *Job) TransitionTo(target JobStatus) error {
	if err := j.status.Status.ValidateTransition(target); err != nil {
		return err
	}
	j.status.Status = target
	return nil
}

// SetStatus overwrites the stored status without lifecycle checks. Used when
// an execution server reports progress.
func (j *Job) SetStatus(s JobStatus) { j.status.Status = s }

// AddAttachment records an embedded attachment on the document.
func (j *Job) AddAttachment(name, contentType string, length int64) {
	if j.attachments == nil {
		j.attachments = map[string]Attachment{}
	}
	j.attachments[name] = Attachment{ContentType: contentType, Length: length}
}

// FindArtifact searches inputs then outputs for an artifact by name.
func (j *Job) FindArtifact(name string) (Artifact, bool) {
	for _, a := range j.inputs {
		if a.Name == name {
			return a, true
		}
	}
	for _, a := range j.outputs {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// Clone returns a deep enough copy for stores that hand out jobs by value.
func (j *Job) Clone() *Job {
	c := *j
	c.inputs = append([]Artifact(nil), j.inputs...)
	c.outputs = append([]Artifact(nil), j.outputs...)
	c.attachments = make(map[string]Attachment, len(j.attachments))
	for k, v := range j.attachments {
		c.attachments[k] = v
	}
	return &c
}

// jobDocument is the stored JSON shape of a job.
type jobDocument struct {
	ID              string                `json:"_id,omitempty"`
	Revision        string                `json:"_rev,omitempty"`
	Type            string                `json:"type"`
	Name            string                `json:"name,omitempty"`
	Owner           string                `json:"userEmail"`
	Executable      string                `json:"executable"`
	ExecutionServer string                `json:"executionserver"`
	Force           bool                  `json:"force,omitempty"`
	Parameters      json.RawMessage       `json:"parameters,omitempty"`
	Inputs          []Artifact            `json:"inputs"`
	Outputs         []Artifact            `json:"outputs"`
	Status          StatusInfo            `json:"jobstatus"`
	Timestamp       time.Time             `json:"timestamp"`
	Attachments     map[string]Attachment `json:"_attachments,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (j *Job) MarshalJSON() ([]byte, error) {
	inputs, outputs := j.inputs, j.outputs
	if inputs == nil {
		inputs = []Artifact{}
	}
	if outputs == nil {
		outputs = []Artifact{}
	}

	return json.Marshal(jobDocument{
		ID:              j.id,
		Revision:        j.revision,
		Type:            j.docType,
		Name:            j.name,
		Owner:           j.owner,
		Executable:      j.executable,
		ExecutionServer: j.executionServer,
		Force:           j.force,
		Parameters:      j.parameters,
		Inputs:          inputs,
		Outputs:         outputs,
		Status:          j.status,
		Timestamp:       j.timestamp,
		Attachments:     j.attachments,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *Job) UnmarshalJSON(data []byte) error {
	var doc jobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*j = Job{
		id:              doc.ID,
		revision:        doc.Revision,
		docType:         doc.Type,
		name:            doc.Name,
		owner:           doc.Owner,
		executable:      doc.Executable,
		executionServer: doc.ExecutionServer,
		force:           doc.Force,
		parameters:      doc.Parameters,
		inputs:          doc.Inputs,
		outputs:         doc.Outputs,
		status:          doc.Status,
		timestamp:       doc.Timestamp,
		attachments:     doc.Attachments,
	}
	if j.attachments == nil {
		j.attachments = map[string]Attachment{}
	}

	return nil
}
