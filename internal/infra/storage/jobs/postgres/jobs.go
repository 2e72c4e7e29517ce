// Package postgres stores job documents as JSONB rows with an integer
// revision used for optimistic concurrency.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/internal/infra/storage"
)

var _ jobs.Repository = (*JobStore)(nil)

// JobStore implements jobs.Repository on PostgreSQL.
type JobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job registry.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *JobStore {
	return &JobStore{db: pool, tracer: tracer}
}

func parseRevision(job *jobs.Job) (int64, error) {
	rev, err := strconv.ParseInt(job.Revision(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: job %s has malformed revision %q", jobs.ErrConflict, job.ID(), job.Revision())
	}
	return rev, nil
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		rev int64
		doc []byte
	)
	if err := row.Scan(&rev, &doc); err != nil {
		return nil, err
	}

	job := new(jobs.Job)
	if err := json.Unmarshal(doc, job); err != nil {
		return nil, fmt.Errorf("decoding job document: %w", err)
	}
	job.SetRevision(strconv.FormatInt(rev, 10))
	return job, nil
}

func encode(job *jobs.Job) ([]byte, error) {
	doc, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job document: %w", err)
	}
	return doc, nil
}

// Get implements jobs.Repository.
func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	dbAttrs := []attribute.KeyValue{attribute.String("job_id", id)}

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		var err error
		job, err = s.get(ctx, id)
		return err
	})
	return job, err
}

func (s *JobStore) get(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT revision, doc FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job query error: %w", err)
	}
	return job, nil
}

// Put implements jobs.Repository.
func (s *JobStore) Put(ctx context.Context, job *jobs.Job) error {
	dbAttrs := []attribute.KeyValue{
		attribute.String("job_id", job.ID()),
		attribute.String("revision", job.Revision()),
		attribute.String("status", job.Status().String()),
	}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_job", dbAttrs, func(ctx context.Context) error {
		if job.ID() == "" {
			return fmt.Errorf("%w: job id is required", jobs.ErrInvalidJob)
		}
		doc, err := encode(job)
		if err != nil {
			return err
		}

		if job.Revision() == "" {
			return s.insert(ctx, job, doc)
		}
		return s.update(ctx, job, doc)
	})
}

func (s *JobStore) insert(ctx context.Context, job *jobs.Job, doc []byte) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO jobs (id, revision, doc_type, owner, executable, execution_server, status, doc, created_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		job.ID(), docType(job), job.Owner(), job.Executable(), job.ExecutionServer(),
		job.Status().String(), doc, job.Timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert job error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s already exists", jobs.ErrConflict, job.ID())
	}
	job.SetRevision("1")
	return nil
}

func (s *JobStore) update(ctx context.Context, job *jobs.Job, doc []byte) error {
	rev, err := parseRevision(job)
	if err != nil {
		return err
	}

	var next int64
	err = s.db.QueryRow(ctx, `
		UPDATE jobs
		SET revision = revision + 1,
		    doc_type = $3,
		    owner = $4,
		    executable = $5,
		    execution_server = $6,
		    status = $7,
		    doc = $8,
		    updated_at = NOW()
		WHERE id = $1 AND revision = $2
		RETURNING revision`,
		job.ID(), rev, docType(job), job.Owner(), job.Executable(), job.ExecutionServer(),
		job.Status().String(), doc,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missOrConflict(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("update job error: %w", err)
	}

	job.SetRevision(strconv.FormatInt(next, 10))
	return nil
}

// missOrConflict explains why a revision-guarded write touched no rows.
func (s *JobStore) missOrConflict(ctx context.Context, job *jobs.Job) error {
	var current int64
	err := s.db.QueryRow(ctx, `SELECT revision FROM jobs WHERE id = $1`, job.ID()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID())
	}
	if err != nil {
		return fmt.Errorf("revision lookup error: %w", err)
	}
	return fmt.Errorf("%w: job %s has revision %d, got %q", jobs.ErrConflict, job.ID(), current, job.Revision())
}

// Delete implements jobs.Repository.
func (s *JobStore) Delete(ctx context.Context, job *jobs.Job) error {
	dbAttrs := []attribute.KeyValue{
		attribute.String("job_id", job.ID()),
		attribute.String("revision", job.Revision()),
	}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_job", dbAttrs, func(ctx context.Context) error {
		rev, err := parseRevision(job)
		if err != nil {
			return err
		}

		tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND revision = $2`, job.ID(), rev)
		if err != nil {
			return fmt.Errorf("delete job error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.missOrConflict(ctx, job)
		}
		return nil
	})
}

// Status implements jobs.Repository.
func (s *JobStore) Status(ctx context.Context, id string) (jobs.StatusInfo, error) {
	dbAttrs := []attribute.KeyValue{attribute.String("job_id", id)}

	var info jobs.StatusInfo
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job_status", dbAttrs, func(ctx context.Context) error {
		var raw []byte
		err := s.db.QueryRow(ctx, `SELECT doc->'jobstatus' FROM jobs WHERE id = $1`, id).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get job status query error: %w", err)
		}
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("decoding job status: %w", err)
		}
		return nil
	})
	return info, err
}

// Query implements jobs.Repository.
func (s *JobStore) Query(ctx context.Context, q jobs.JobQuery) ([]*jobs.Job, error) {
	dbAttrs := []attribute.KeyValue{
		attribute.String("owner", q.Owner),
		attribute.String("status", q.Status.String()),
		attribute.String("executable", q.Executable),
		attribute.String("execution_server", q.ExecutionServer),
	}

	var list []*jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.query_jobs", dbAttrs, func(ctx context.Context) error {
		where := []string{"doc_type = $1"}
		args := []any{jobs.DocumentTypeJob}
		add := func(column, value string) {
			if value == "" {
				return
			}
			args = append(args, value)
			where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
		}
		add("owner", q.Owner)
		add("status", q.Status.String())
		add("executable", q.Executable)
		add("execution_server", q.ExecutionServer)

		query := fmt.Sprintf(`SELECT revision, doc FROM jobs WHERE %s ORDER BY created_at, id`,
			strings.Join(where, " AND "))

		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query jobs error: %w", err)
		}
		defer rows.Close()

		list = make([]*jobs.Job, 0)
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan job row error: %w", err)
			}
			list = append(list, job)
		}
		return rows.Err()
	})
	return list, err
}

// PutAttachment implements jobs.Repository. The attachment row and the
// document revision bump commit together.
func (s *JobStore) PutAttachment(ctx context.Context, job *jobs.Job, name, contentType string, body io.Reader) error {
	dbAttrs := []attribute.KeyValue{
		attribute.String("job_id", job.ID()),
		attribute.String("name", name),
	}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_attachment", dbAttrs, func(ctx context.Context) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading attachment %s: %w", name, err)
		}
		rev, err := parseRevision(job)
		if err != nil {
			return err
		}

		updated := job.Clone()
		updated.AddAttachment(name, contentType, int64(len(data)))
		doc, err := encode(updated)
		if err != nil {
			return err
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		var next int64
		err = tx.QueryRow(ctx, `
			UPDATE jobs SET revision = revision + 1, doc = $3, updated_at = NOW()
			WHERE id = $1 AND revision = $2
			RETURNING revision`,
			job.ID(), rev, doc,
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missOrConflict(ctx, job)
		}
		if err != nil {
			return fmt.Errorf("bump revision error: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO job_attachments (job_id, name, content_type, length, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (job_id, name) DO UPDATE SET
				content_type = EXCLUDED.content_type,
				length = EXCLUDED.length,
				data = EXCLUDED.data`,
			job.ID(), name, contentType, int64(len(data)), data,
		)
		if err != nil {
			return fmt.Errorf("insert attachment error: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit attachment error: %w", err)
		}

		job.AddAttachment(name, contentType, int64(len(data)))
		job.SetRevision(strconv.FormatInt(next, 10))
		return nil
	})
}

// GetAttachment implements jobs.Repository. Content is read into memory.
func (s *JobStore) GetAttachment(ctx context.Context, id, name string) (*jobs.AttachmentContent, error) {
	dbAttrs := []attribute.KeyValue{
		attribute.String("job_id", id),
		attribute.String("name", name),
	}

	var content *jobs.AttachmentContent
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_attachment", dbAttrs, func(ctx context.Context) error {
		var (
			contentType string
			data        []byte
		)
		err := s.db.QueryRow(ctx,
			`SELECT content_type, data FROM job_attachments WHERE job_id = $1 AND name = $2`,
			id, name,
		).Scan(&contentType, &data)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", jobs.ErrArtifactNotFound, id, name)
		}
		if err != nil {
			return fmt.Errorf("get attachment query error: %w", err)
		}

		content = &jobs.AttachmentContent{
			ContentType: contentType,
			Length:      int64(len(data)),
			Body:        io.NopCloser(bytes.NewReader(data)),
		}
		return nil
	})
	return content, err
}

// Ping implements jobs.Repository.
func (s *JobStore) Ping(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.ping", nil, func(ctx context.Context) error {
		return s.db.Ping(ctx)
	})
}

func docType(job *jobs.Job) string {
	if job.IsJobDocument() {
		return jobs.DocumentTypeJob
	}
	return "other"
}
