package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactDocumentShape(t *testing.T) {
	const doc = `{
		"_id": "j1",
		"_rev": "3",
		"type": "job",
		"userEmail": "alice@example.com",
		"executable": "sim",
		"executionserver": "es1",
		"inputs": [
			{"name": "in.nrrd", "remote": {"uri": "http://data/in.nrrd", "serverCodename": "store1"}},
			{"name": "mesh"}
		],
		"outputs": [
			{"name": "result.txt", "local": {"uri": "/store/result.txt"}},
			{"name": "out", "type": "tar.gz"}
		],
		"jobstatus": {"status": "RUN", "jobid": "4242"},
		"timestamp": "2026-10-14T10:00:00Z",
		"_attachments": {"log.txt": {"content_type": "text/plain", "length": 12}}
	}`

	var job Job
	require.NoError(t, json.Unmarshal([]byte(doc), &job))

	assert.Equal(t, "j1", job.ID())
	assert.Equal(t, "3", job.Revision())
	assert.True(t, job.IsJobDocument())
	assert.Equal(t, JobStatusRun, job.Status())
	assert.Equal(t, "4242", job.StatusInfo().JobID)
	assert.True(t, job.HasAttachment("log.txt"))

	in, ok := job.FindArtifact("in.nrrd")
	require.True(t, ok)
	assert.Equal(t, RemoteLocation{URI: "http://data/in.nrrd", Server: "store1"}, in.Location)

	mesh, _ := job.FindArtifact("mesh")
	assert.Equal(t, EmbeddedLocation{}, mesh.Location)
	assert.Equal(t, ArtifactKindPlain, mesh.Kind)

	out, _ := job.FindArtifact("out")
	assert.Equal(t, ArtifactKindArchive, out.Kind)

	res, _ := job.FindArtifact("result.txt")
	assert.Equal(t, LocalLocation{URI: "/store/result.txt"}, res.Location)

	_, ok = job.FindArtifact("missing")
	assert.False(t, ok)
}

func TestJobMarshalKeepsStoreKeys(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	job := NewJob(JobParams{
		Owner:           "bob@example.com",
		Executable:      "sim",
		ExecutionServer: "es1",
		Outputs:         []Artifact{NewArtifact("out", ArtifactKindArchive, nil)},
	}, now)
	job.AssignID("j2")
	job.AssignID("ignored")

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "j2", raw["_id"])
	assert.Equal(t, "job", raw["type"])
	assert.Equal(t, "bob@example.com", raw["userEmail"])
	assert.Equal(t, "es1", raw["executionserver"])
	assert.Equal(t, map[string]any{"status": "CREATE"}, raw["jobstatus"])
	assert.Equal(t, []any{}, raw["inputs"])
	assert.Equal(t, []any{map[string]any{"name": "out", "type": "tar.gz"}}, raw["outputs"])
}

func TestValidateOwnership(t *testing.T) {
	job := NewJob(JobParams{ID: "j3", Owner: "alice@example.com", ExecutionServer: "es1"}, time.Now())

	assert.NoError(t, ValidateOwnership(job, Credentials{Email: "alice@example.com"}))
	assert.NoError(t, ValidateOwnership(job, Credentials{ExecutionServer: "es1", Scopes: []string{ScopeExecutionServer}}))
	assert.ErrorIs(t, ValidateOwnership(job, Credentials{ExecutionServer: "es2", Scopes: []string{ScopeExecutionServer}}), ErrUnauthorized)
	assert.ErrorIs(t, ValidateOwnership(job, Credentials{ExecutionServer: "es1"}), ErrUnauthorized)
	assert.NoError(t, ValidateOwnership(job, Credentials{Email: "root@example.com", Scopes: []string{ScopeAdmin}}))
	assert.ErrorIs(t, ValidateOwnership(job, Credentials{Email: "bob@example.com", Scopes: []string{ScopeClusterpost}}), ErrUnauthorized)
	assert.ErrorIs(t, ValidateOwnership(job, Credentials{}), ErrUnauthorized)
}

func TestCloneIsIndependent(t *testing.T) {
	job := NewJob(JobParams{ID: "j4"}, time.Now())
	job.AddAttachment("a", "text/plain", 1)

	c := job.Clone()
	c.AddAttachment("b", "text/plain", 2)
	c.SetStatus(JobStatusRun)

	assert.False(t, job.HasAttachment("b"))
	assert.Equal(t, JobStatusCreate, job.Status())
}
