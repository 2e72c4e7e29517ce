package web

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NoResponse tells the Respond function to not respond to the request. In these
// cases the app layer code has already written to the client.
type NoResponse struct{}

// NewNoResponse constructs a no response value.
func NewNoResponse() NoResponse {
	return NoResponse{}
}

// Encode implements the Encoder interface.
func (NoResponse) Encode() ([]byte, string, error) {
	return nil, "", nil
}

type httpStatus interface {
	HTTPStatus() int
}

// StatusCode reports the status code Respond would write for the data model.
func StatusCode(dataModel Encoder) int {
	switch v := dataModel.(type) {
	case httpStatus:
		return v.HTTPStatus()
	case error:
		return http.StatusInternalServerError
	default:
		if dataModel == nil {
			return http.StatusNoContent
		}
		return http.StatusOK
	}
}

// Respond sends a response to the client.
func Respond(ctx context.Context, w http.ResponseWriter, dataModel Encoder) error {
	if _, ok := dataModel.(NoResponse); ok {
		return nil
	}

	// If the context has been canceled, it means the client is no longer
	// waiting for a response.
	if err := clientGone(ctx); err != nil {
		return err
	}

	statusCode := StatusCode(dataModel)

	if tracer := getTracer(ctx); tracer != nil {
		var span trace.Span
		_, span = tracer.Start(ctx, "web.send.response", trace.WithAttributes(attribute.Int("status", statusCode)))
		defer span.End()
	}

	if s, ok := dataModel.(Stream); ok {
		return writeStream(w, s, statusCode)
	}

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := dataModel.Encode()
	if err != nil {
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}

	return nil
}
