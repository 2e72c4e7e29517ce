package attachments

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// FileStore serves local-store URIs from a directory.
type FileStore struct {
	root  string
	allow []string
}

// NewFileStore serves files under root. When allow is not empty, only URIs
// matching one of the doublestar patterns can be opened.
func NewFileStore(root string, allow []string) (*FileStore, error) {
	for _, p := range allow {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid local store pattern %q", p)
		}
	}
	return &FileStore{root: root, allow: allow}, nil
}

// Open implements LocalStore.
func (s *FileStore) Open(_ context.Context, uri string) (*jobs.AttachmentContent, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+uri)), "/")
	if !s.allowed(rel) {
		return nil, fmt.Errorf("%w: %s is outside the local store", jobs.ErrUnauthorized, uri)
	}

	name, err := s.resolve(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrArtifactNotFound, uri)
		}
		if errors.Is(err, jobs.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %s", err, uri)
		}
		return nil, fmt.Errorf("%w: resolving %s: %v", jobs.ErrImplementation, uri, err)
	}

	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrArtifactNotFound, uri)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", jobs.ErrImplementation, uri, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", jobs.ErrImplementation, uri, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a file", jobs.ErrArtifactNotFound, uri)
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &jobs.AttachmentContent{ContentType: contentType, Length: info.Size(), Body: f}, nil
}

// resolve follows symlinks in name and rejects targets outside the root.
func (s *FileStore) resolve(name string) (string, error) {
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", err
	}
	target, err := filepath.EvalSymlinks(name)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: link leaves the local store", jobs.ErrUnauthorized)
	}
	return target, nil
}

func (s *FileStore) allowed(rel string) bool {
	if len(s.allow) == 0 {
		return true
	}
	for _, p := range s.allow {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
