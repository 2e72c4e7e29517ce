package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

func newJob(id string) *jobs.Job {
	return jobs.NewJob(jobs.JobParams{ID: id, Owner: "a@example.com", Executable: "sim", ExecutionServer: "es1"}, time.Now())
}

func TestEnqueueDrainFIFO(t *testing.T) {
	q := New()
	q.Enqueue(KindSubmit, newJob("j1"), false)
	q.Enqueue(KindSubmit, newJob("j2"), true)
	q.Enqueue(KindKill, newJob("j3"), false)

	assert.Equal(t, 2, q.Len(KindSubmit))

	drained := q.Drain(KindSubmit)
	require.Len(t, drained, 2)
	assert.Equal(t, "j1", drained[0].JobID())
	assert.Equal(t, "j2", drained[1].JobID())
	assert.True(t, drained[1].Force)
	assert.Equal(t, KindSubmit, drained[0].Kind)

	assert.Empty(t, q.Drain(KindSubmit))
	assert.Equal(t, 1, q.Len(KindKill))
}

func TestEnqueueCopiesJob(t *testing.T) {
	q := New()
	job := newJob("j1")
	q.Enqueue(KindSubmit, job, false)
	job.SetStatus(jobs.JobStatusRun)

	drained := q.Drain(KindSubmit)
	require.Len(t, drained, 1)
	assert.Equal(t, jobs.JobStatusCreate, drained[0].Job.Status())
}

func TestDrainDeleteQueueExactlyOnce(t *testing.T) {
	q := New()
	q.EnqueueDelete(newJob("j1"))
	q.EnqueueDelete(newJob("j2"))

	first := q.DrainDeleteQueue()
	second := q.DrainDeleteQueue()

	require.Len(t, first, 2)
	assert.Equal(t, "j1", first[0].ID())
	assert.Equal(t, "j2", first[1].ID())
	assert.NotNil(t, second)
	assert.Empty(t, second)
}

func TestConcurrentEnqueueAndDrain(t *testing.T) {
	const producers, perProducer = 8, 200

	q := New()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.EnqueueDelete(newJob("j"))
			}
		}()
	}

	done := make(chan struct{})
	total := 0
	go func() {
		defer close(done)
		for total < producers*perProducer {
			total += len(q.DrainDeleteQueue())
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drainer did not observe every entry")
	}
	assert.Equal(t, producers*perProducer, total)
	assert.Zero(t, q.DeleteQueueLen())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("statusUpdate")
	require.NoError(t, err)
	assert.Equal(t, KindStatusUpdate, k)

	_, err = ParseKind("nope")
	assert.Error(t, err)
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	q := New(WithMetrics(m))
	require.NoError(t, RegisterDepthGauges(reg, q))

	q.Enqueue(KindSubmit, newJob("j1"), false)
	q.Enqueue(KindSubmit, newJob("j2"), false)
	q.EnqueueDelete(newJob("j3"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Enqueued.WithLabelValues("submit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Enqueued.WithLabelValues("remoteDelete")))

	q.Drain(KindSubmit)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Drained.WithLabelValues("submit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Drains.WithLabelValues("submit")))

	count, err := testutil.GatherAndCount(reg, "clusterpost_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, len(Kinds)+1, count)
}
