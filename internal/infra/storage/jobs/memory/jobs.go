// Package memory provides an in-memory job registry for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

var _ jobs.Repository = (*JobStore)(nil)

type attachment struct {
	contentType string
	data        []byte
}

type record struct {
	job         *jobs.Job
	revision    int
	attachments map[string]attachment
}

// JobStore keeps job documents in a map. Jobs are copied on the way in and
// out so callers never share state with the store.
type JobStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{records: make(map[string]*record)}
}

// Get implements jobs.Repository.
func (s *JobStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return r.job.Clone(), nil
}

// Put implements jobs.Repository.
func (s *JobStore) Put(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[job.ID()]
	switch {
	case job.ID() == "":
		return fmt.Errorf("%w: job id is required", jobs.ErrInvalidJob)
	case !exists && job.Revision() != "":
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID())
	case !exists:
		r = &record{attachments: map[string]attachment{}}
		s.records[job.ID()] = r
	case job.Revision() != strconv.Itoa(r.revision):
		return fmt.Errorf("%w: job %s has revision %d, got %q", jobs.ErrConflict, job.ID(), r.revision, job.Revision())
	}

	r.revision++
	job.SetRevision(strconv.Itoa(r.revision))
	r.job = job.Clone()
	return nil
}

// Delete implements jobs.Repository.
func (s *JobStore) Delete(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[job.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID())
	}
	if job.Revision() != strconv.Itoa(r.revision) {
		return fmt.Errorf("%w: job %s has revision %d, got %q", jobs.ErrConflict, job.ID(), r.revision, job.Revision())
	}
	delete(s.records, job.ID())
	return nil
}

// Status implements jobs.Repository.
func (s *JobStore) Status(_ context.Context, id string) (jobs.StatusInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return jobs.StatusInfo{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return r.job.StatusInfo(), nil
}

// Query implements jobs.Repository.
func (s *JobStore) Query(_ context.Context, q jobs.JobQuery) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*jobs.Job, 0)
	for _, r := range s.records {
		if matches(r.job, q) {
			out = append(out, r.job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp().Equal(out[j].Timestamp()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	return out, nil
}

func matches(j *jobs.Job, q jobs.JobQuery) bool {
	if !j.IsJobDocument() {
		return false
	}
	if q.Owner != "" && j.Owner() != q.Owner {
		return false
	}
	if q.Status != "" && j.Status() != q.Status {
		return false
	}
	if q.Executable != "" && j.Executable() != q.Executable {
		return false
	}
	if q.ExecutionServer != "" && j.ExecutionServer() != q.ExecutionServer {
		return false
	}
	return true
}

// PutAttachment implements jobs.Repository.
func (s *JobStore) PutAttachment(_ context.Context, job *jobs.Job, name, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading attachment %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[job.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID())
	}
	if job.Revision() != strconv.Itoa(r.revision) {
		return fmt.Errorf("%w: job %s has revision %d, got %q", jobs.ErrConflict, job.ID(), r.revision, job.Revision())
	}

	r.attachments[name] = attachment{contentType: contentType, data: data}
	job.AddAttachment(name, contentType, int64(len(data)))
	r.revision++
	job.SetRevision(strconv.Itoa(r.revision))
	r.job = job.Clone()
	return nil
}

// GetAttachment implements jobs.Repository.
func (s *JobStore) GetAttachment(_ context.Context, id, name string) (*jobs.AttachmentContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	a, ok := r.attachments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", jobs.ErrArtifactNotFound, id, name)
	}
	return &jobs.AttachmentContent{
		ContentType: a.contentType,
		Length:      int64(len(a.data)),
		Body:        io.NopCloser(bytes.NewReader(a.data)),
	}, nil
}

// Ping implements jobs.Repository.
func (s *JobStore) Ping(context.Context) error { return nil }
