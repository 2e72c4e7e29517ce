package postgres

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/internal/infra/storage"
)

func setupJobStoreTest(t *testing.T) (context.Context, *JobStore, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	return context.Background(), NewJobStore(pool, storage.NoOpTracer()), cleanup
}

func newTestJob(id, owner, server string, ts time.Time) *jobs.Job {
	return jobs.NewJob(jobs.JobParams{
		ID:              id,
		Owner:           owner,
		Executable:      "sim",
		ExecutionServer: server,
		Outputs: []jobs.Artifact{
			jobs.NewArtifact("result.txt", jobs.ArtifactKindPlain, jobs.LocalLocation{URI: "/store/result.txt"}),
		},
	}, ts)
}

func TestJobStore_PutAndGet(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobStoreTest(t)
	defer cleanup()

	job := newTestJob("j1", "a@example.com", "es1", time.Now().UTC())
	require.NoError(t, store.Put(ctx, job))
	assert.Equal(t, "1", job.Revision())

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Revision())
	assert.Equal(t, "a@example.com", got.Owner())
	assert.Equal(t, jobs.JobStatusCreate, got.Status())
	require.Len(t, got.Outputs(), 1)
	assert.Equal(t, jobs.LocalLocation{URI: "/store/result.txt"}, got.Outputs()[0].Location)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestJobStore_OptimisticConcurrency(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobStoreTest(t)
	defer cleanup()

	job := newTestJob("j1", "a@example.com", "es1", time.Now().UTC())
	require.NoError(t, store.Put(ctx, job))

	assert.ErrorIs(t, store.Put(ctx, newTestJob("j1", "a@example.com", "es1", time.Now())), jobs.ErrConflict)

	stale, err := store.Get(ctx, "j1")
	require.NoError(t, err)

	job.SetStatus(jobs.JobStatusQueue)
	require.NoError(t, store.Put(ctx, job))
	assert.Equal(t, "2", job.Revision())

	stale.SetStatus(jobs.JobStatusKill)
	assert.ErrorIs(t, store.Put(ctx, stale), jobs.ErrConflict)

	ghost := newTestJob("ghost", "a@example.com", "es1", time.Now())
	ghost.SetRevision("3")
	assert.ErrorIs(t, store.Put(ctx, ghost), jobs.ErrJobNotFound)

	status, err := store.Status(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusQueue, status.Status)
}

func TestJobStore_Query(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobStoreTest(t)
	defer cleanup()

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Put(ctx, newTestJob("b", "a@example.com", "es1", base.Add(time.Second))))
	require.NoError(t, store.Put(ctx, newTestJob("a", "a@example.com", "es1", base)))
	other := newTestJob("c", "b@example.com", "cloud", base)
	other.SetStatus(jobs.JobStatusRun)
	require.NoError(t, store.Put(ctx, other))

	tests := []struct {
		name  string
		query jobs.JobQuery
		want  []string
	}{
		{name: "by owner ordered by creation", query: jobs.JobQuery{Owner: "a@example.com"}, want: []string{"a", "b"}},
		{name: "by server and status", query: jobs.JobQuery{ExecutionServer: "cloud", Status: jobs.JobStatusRun}, want: []string{"c"}},
		{name: "by executable", query: jobs.JobQuery{Executable: "sim"}, want: []string{"a", "c", "b"}},
		{name: "no match", query: jobs.JobQuery{Owner: "nobody"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.Query(ctx, tt.query)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, j := range list {
				ids = append(ids, j.ID())
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestJobStore_Attachments(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobStoreTest(t)
	defer cleanup()

	job := newTestJob("j1", "a@example.com", "es1", time.Now().UTC())
	require.NoError(t, store.Put(ctx, job))

	require.NoError(t, store.PutAttachment(ctx, job, "input.nrrd", "application/octet-stream", strings.NewReader("voxels")))
	assert.Equal(t, "2", job.Revision())
	assert.True(t, job.HasAttachment("input.nrrd"))

	stored, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, stored.HasAttachment("input.nrrd"))

	content, err := store.GetAttachment(ctx, "j1", "input.nrrd")
	require.NoError(t, err)
	defer content.Body.Close()
	data, err := io.ReadAll(content.Body)
	require.NoError(t, err)
	assert.Equal(t, "voxels", string(data))
	assert.Equal(t, int64(6), content.Length)

	_, err = store.GetAttachment(ctx, "j1", "missing")
	assert.ErrorIs(t, err, jobs.ErrArtifactNotFound)

	stale := newTestJob("j1", "a@example.com", "es1", time.Now())
	stale.SetRevision("1")
	assert.ErrorIs(t, store.PutAttachment(ctx, stale, "x", "text/plain", strings.NewReader("x")), jobs.ErrConflict)
}

func TestJobStore_Delete(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobStoreTest(t)
	defer cleanup()

	job := newTestJob("j1", "a@example.com", "es1", time.Now().UTC())
	require.NoError(t, store.Put(ctx, job))
	require.NoError(t, store.PutAttachment(ctx, job, "a", "text/plain", strings.NewReader("a")))

	stale, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	stale.SetRevision("1")
	assert.ErrorIs(t, store.Delete(ctx, stale), jobs.ErrConflict)

	require.NoError(t, store.Delete(ctx, job))
	_, err = store.Get(ctx, "j1")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = store.GetAttachment(ctx, "j1", "a")
	assert.ErrorIs(t, err, jobs.ErrArtifactNotFound)

	assert.ErrorIs(t, store.Delete(ctx, job), jobs.ErrJobNotFound)
	require.NoError(t, store.Ping(ctx))
}
