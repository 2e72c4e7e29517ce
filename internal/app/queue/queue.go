// Package queue holds the transient hand-off queues drained by the scheduler
// and by remote execution servers. Nothing here is persisted; entries are lost
// on restart.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// Kind names one of the scheduler queues.
type Kind string

const (
	KindSubmit       Kind = "submit"
	KindKill         Kind = "kill"
	KindDelete       Kind = "delete"
	KindStatusUpdate Kind = "statusUpdate"
)

// Kinds lists every scheduler queue in drain order.
var Kinds = []Kind{KindSubmit, KindKill, KindStatusUpdate, KindDelete}

// ParseKind validates a queue name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown queue kind %q", s)
}

// Entry is one pending lifecycle action.
type Entry struct {
	Job        *jobs.Job
	Kind       Kind
	Force      bool
	EnqueuedAt time.Time
}

// JobID returns the id of the referenced job.
func (e Entry) JobID() string { return e.Job.ID() }

// Metrics records queue activity.
type Metrics interface {
	IncEnqueued(kind string)
	ObserveDrained(kind string, n int)
}

type nopMetrics struct{}

func (nopMetrics) IncEnqueued(string)         {}
func (nopMetrics) ObserveDrained(string, int) {}

// deleteQueueName labels the remote delete queue in metrics.
const deleteQueueName = "remoteDelete"

// Queues is the set of FIFOs shared by request handlers and drainers. All
// methods are safe for concurrent use; a drain hands back everything queued
// before it and nothing queued after it.
type Queues struct {
	mu      sync.Mutex
	entries map[Kind][]Entry
	deletes []*jobs.Job

	metrics Metrics
	now     func() time.Time
}

// Option configures Queues.
type Option func(*Queues)

// WithMetrics records enqueue and drain counts.
func WithMetrics(m Metrics) Option {
	return func(q *Queues) { q.metrics = m }
}

// New creates an empty set of queues.
func New(opts ...Option) *Queues {
	q := &Queues{
		entries: make(map[Kind][]Entry, len(Kinds)),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an entry for job to the queue of the given kind. The job is
// copied so later mutations by the caller are not observed by the drainer.
func (q *Queues) Enqueue(kind Kind, job *jobs.Job, force bool) Entry {
	e := Entry{Job: job.Clone(), Kind: kind, Force: force, EnqueuedAt: q.now()}

	q.mu.Lock()
	q.entries[kind] = append(q.entries[kind], e)
	q.mu.Unlock()

	q.metrics.IncEnqueued(string(kind))
	return e
}

// Drain empties the queue of the given kind and returns its prior contents in
// FIFO order.
func (q *Queues) Drain(kind Kind) []Entry {
	q.mu.Lock()
	drained := q.entries[kind]
	q.entries[kind] = nil
	q.mu.Unlock()

	q.metrics.ObserveDrained(string(kind), len(drained))
	return drained
}

// Len returns the number of entries waiting in the queue of the given kind.
func (q *Queues) Len(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries[kind])
}

// EnqueueDelete appends a job to the delete queue polled by remote servers.
func (q *Queues) EnqueueDelete(job *jobs.Job) {
	c := job.Clone()

	q.mu.Lock()
	q.deletes = append(q.deletes, c)
	q.mu.Unlock()

	q.metrics.IncEnqueued(deleteQueueName)
}

// DrainDeleteQueue empties the remote delete queue and returns its prior
// contents. A second call with nothing enqueued in between returns an empty
// slice.
func (q *Queues) DrainDeleteQueue() []*jobs.Job {
	q.mu.Lock()
	drained := q.deletes
	q.deletes = nil
	q.mu.Unlock()

	if drained == nil {
		drained = []*jobs.Job{}
	}
	q.metrics.ObserveDrained(deleteQueueName, len(drained))
	return drained
}

// DeleteQueueLen returns the number of jobs waiting in the remote delete queue.
func (q *Queues) DeleteQueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deletes)
}
