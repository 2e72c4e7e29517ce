package attachments

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// DocumentStore reads embedded attachments from the registry.
type DocumentStore interface {
	GetAttachment(ctx context.Context, id, name string) (*jobs.AttachmentContent, error)
}

// LocalStore opens local-store URIs.
type LocalStore interface {
	Open(ctx context.Context, uri string) (*jobs.AttachmentContent, error)
}

// ServerLookup resolves execution servers by key.
type ServerLookup interface {
	Resolve(key string) (executionserver.Config, error)
}

// Fetcher opens the bytes a FetchDescriptor points at. Callers close the
// returned body.
type Fetcher struct {
	documents DocumentStore
	local     LocalStore
	servers   ServerLookup

	client   *http.Client
	insecure *http.Client
	tracer   trace.Tracer
}

// NewFetcher creates a Fetcher. A nil local store rejects local descriptors.
func NewFetcher(documents DocumentStore, local LocalStore, servers ServerLookup, tracer trace.Tracer) *Fetcher {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Fetcher{
		documents: documents,
		local:     local,
		servers:   servers,
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		insecure:  &http.Client{Transport: otelhttp.NewTransport(insecureTransport)},
		tracer:    tracer,
	}
}

// Open streams the artifact described by d.
func (f *Fetcher) Open(ctx context.Context, d FetchDescriptor) (*jobs.AttachmentContent, error) {
	ctx, span := f.tracer.Start(ctx, "attachments.fetch",
		trace.WithAttributes(
			attribute.String("source", d.Source.String()),
			attribute.String("job_id", d.JobID),
			attribute.String("name", d.Name),
		),
	)
	defer span.End()

	switch d.Source {
	case SourceDocument:
		return f.documents.GetAttachment(ctx, d.JobID, d.Name)
	case SourceLocal:
		if f.local == nil {
			return nil, fmt.Errorf("%w: no local store configured", jobs.ErrConfiguration)
		}
		return f.local.Open(ctx, d.URI)
	case SourceServerProxy:
		cfg, err := f.servers.Resolve(d.Server)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", jobs.ErrConfiguration, err)
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: execution server %s has no attachment endpoint", jobs.ErrConfiguration, cfg.Key)
		}
		target, err := url.JoinPath(cfg.BaseURL, strings.TrimPrefix(d.URI, "/"))
		if err != nil {
			return nil, fmt.Errorf("%w: building attachment url: %v", jobs.ErrImplementation, err)
		}
		return f.get(ctx, f.client, target)
	case SourcePassthrough:
		return f.get(ctx, f.insecure, d.URI)
	default:
		return nil, fmt.Errorf("%w: unknown fetch source %d", jobs.ErrImplementation, d.Source)
	}
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, target string) (*jobs.AttachmentContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrImplementation, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", jobs.ErrImplementation, target, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", jobs.ErrArtifactNotFound, target)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: fetching %s: upstream returned %s", jobs.ErrImplementation, target, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &jobs.AttachmentContent{ContentType: contentType, Length: resp.ContentLength, Body: resp.Body}, nil
}
