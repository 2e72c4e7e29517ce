package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Stream is an Encoder whose body is copied to the client instead of being
// buffered. Respond closes Body.
type Stream struct {
	ContentType string
	// Length is sent as Content-Length when positive.
	Length int64
	Body   io.ReadCloser
}

// Encode implements the Encoder interface by reading the whole body. Respond
// never calls it.
func (s Stream) Encode() ([]byte, string, error) {
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	return data, s.ContentType, err
}

func writeStream(w http.ResponseWriter, s Stream, statusCode int) error {
	defer s.Body.Close()

	contentType := s.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if s.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(s.Length, 10))
	}
	w.WriteHeader(statusCode)

	if _, err := io.Copy(w, s.Body); err != nil {
		return fmt.Errorf("respond: stream: %w", err)
	}
	return nil
}

// RoutePattern returns the matched route pattern, e.g. /v1/jobs/{id}.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
